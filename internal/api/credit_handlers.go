package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"preik/internal/auth"
	"preik/internal/helper"
)

func (h *Handler) handleCredits(w http.ResponseWriter, r *http.Request) {
	storeID, err := storeFor(r, r.URL.Query().Get("store_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	usage, err := h.Credits.Status(r.Context(), storeID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, usage)
}

func (h *Handler) handleResetCredits(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !helper.IsUUID(storeID) {
		respondError(w, r, ErrInvalidStoreID)
		return
	}
	usage, err := h.Credits.Reset(r.Context(), storeID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	log.Info().
		Str("store_id", storeID).
		Str("by", auth.FromContext(r.Context()).Email).
		Msg("Credits reset")
	writeData(w, http.StatusOK, usage)
}

type SetLimitRequest struct {
	Limit *int64 `json:"limit"`
}

func (h *Handler) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !helper.IsUUID(storeID) {
		respondError(w, r, ErrInvalidStoreID)
		return
	}
	var req SetLimitRequest
	if err := decodeJSONBody(r, &req); err != nil || req.Limit == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	usage, err := h.Credits.SetLimit(r.Context(), storeID, *req.Limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	log.Info().
		Str("store_id", storeID).
		Int64("limit", *req.Limit).
		Str("by", auth.FromContext(r.Context()).Email).
		Msg("Credit limit changed")
	writeData(w, http.StatusOK, usage)
}
