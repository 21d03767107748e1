package api

import (
	"fmt"
	"net/http"

	"preik/internal/discovery"
	"preik/internal/urlsafety"
)

type ScrapeRequest struct {
	StoreID string   `json:"store_id,omitempty"`
	URL     string   `json:"url,omitempty"`
	URLs    []string `json:"urls,omitempty"`
}

// handleScrape ingests one page (url) or a batch of pages (urls)
func (h *Handler) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	storeID, err := storeFor(r, req.StoreID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	switch {
	case req.URL != "" && len(req.URLs) > 0:
		writeError(w, http.StatusBadRequest, "set either url or urls")
	case req.URL != "":
		res, err := h.Ingest.IngestURL(r.Context(), storeID, req.URL)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, res)
	case len(req.URLs) > discovery.MaxLimit:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per request", discovery.MaxLimit))
	case len(req.URLs) > 0:
		report, err := h.Ingest.IngestURLs(r.Context(), storeID, req.URLs)
		if err != nil && report == nil {
			respondError(w, r, err)
			return
		}
		// partial results are still returned when the batch stopped early
		status := http.StatusOK
		if err != nil {
			status = statusFor(err)
		}
		writeJSON(w, status, Response{Success: err == nil, Data: report, Error: errString(err)})
	default:
		writeError(w, http.StatusBadRequest, "url or urls is required")
	}
}

type DiscoverRequest struct {
	URL   string `json:"url"`
	Limit int    `json:"limit,omitempty"`
}

type DiscoverResponse struct {
	URL  string   `json:"url"`
	URLs []string `json:"urls"`
}

// handleDiscover lists the content pages of a site for the admin to pick from
func (h *Handler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req DiscoverRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	u, err := urlsafety.ValidateAndResolve(r.Context(), h.Resolver, req.URL)
	if err != nil {
		respondError(w, r, err)
		return
	}
	base := discovery.Normalize(u).String()
	urls, err := h.Discovery.Discover(r.Context(), base, discovery.Options{Limit: req.Limit})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, DiscoverResponse{URL: base, URLs: urls})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
