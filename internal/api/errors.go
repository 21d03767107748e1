package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"preik/internal/auth"
	"preik/internal/credits"
	"preik/internal/db"
	"preik/internal/discovery"
	"preik/internal/ingest"
	"preik/internal/parser"
	"preik/internal/rag"
	"preik/internal/scraper"
	"preik/internal/urlsafety"
)

var (
	ErrStoreRequired  = errors.New("store_id is required")
	ErrInvalidStoreID = errors.New("store_id must be a UUID")
	ErrOriginDenied   = errors.New("origin is not allowed for this store")
	ErrRateLimited    = errors.New("too many requests, try again later")
)

var badRequest = []error{
	ErrStoreRequired,
	ErrInvalidStoreID,
	ErrMultipleJSONObjects,
	rag.ErrEmptyMessage,
	rag.ErrMessageTooLong,
	credits.ErrInvalidAmount,
	credits.ErrInvalidLimit,
	urlsafety.ErrInvalidURL,
	urlsafety.ErrUnsupportedScheme,
	urlsafety.ErrCredentialsInURL,
	urlsafety.ErrBlockedHost,
	urlsafety.ErrBlockedPort,
	urlsafety.ErrNoAddresses,
	urlsafety.ErrTooManyRedirects,
	ingest.ErrEmptyContent,
	parser.ErrUnsupportedFormat,
}

var unprocessable = []error{
	parser.ErrNoText,
	scraper.ErrEmptyPage,
	discovery.ErrNoPages,
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	for _, target := range unprocessable {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, credits.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, ErrOriginDenied):
		return http.StatusForbidden
	case errors.Is(err, credits.ErrStoreNotFound), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited), errors.Is(err, scraper.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, scraper.ErrQuota):
		return http.StatusServiceUnavailable
	case errors.Is(err, scraper.ErrScrapeFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Internal errors are logged
// and replaced by a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}
	writeError(w, status, msg)
}

// authError adapts respondError to the auth middleware
func authError(w http.ResponseWriter, _ *http.Request, status int, err error) {
	writeError(w, status, err.Error())
}
