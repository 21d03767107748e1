package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"preik/internal/auth"
	"preik/internal/helper"
	"preik/internal/models"
	"preik/internal/rag"
	"preik/internal/ratelimit"
)

// ChatRequest is sent by the embedded widget
type ChatRequest struct {
	StoreID string               `json:"store_id"`
	Message string               `json:"message"`
	History []models.ChatMessage `json:"history,omitempty"`
}

// handleWidgetChat answers a visitor question. The request must come from an
// origin the store allows and is limited per store and client address.
func (h *Handler) handleWidgetChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	storeID := strings.TrimSpace(req.StoreID)
	if storeID == "" {
		respondError(w, r, ErrStoreRequired)
		return
	}
	if !helper.IsUUID(storeID) {
		respondError(w, r, ErrInvalidStoreID)
		return
	}

	store, err := h.Stores.GetStore(r.Context(), storeID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !auth.OriginAllowed(r.Header.Get("Origin"), store.AllowedOrigins) {
		respondError(w, r, ErrOriginDenied)
		return
	}

	if ok, wait := h.Limiter.Allow(storeID + "|" + ratelimit.ClientIP(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		respondError(w, r, ErrRateLimited)
		return
	}

	answer, err := h.Chat.Answer(r.Context(), rag.Request{
		StoreID: storeID,
		Message: req.Message,
		History: req.History,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, answer)
}
