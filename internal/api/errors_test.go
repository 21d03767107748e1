package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"preik/internal/auth"
	"preik/internal/credits"
	"preik/internal/db"
	"preik/internal/discovery"
	"preik/internal/parser"
	"preik/internal/scraper"
	"preik/internal/urlsafety"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("store s: %w", credits.ErrInsufficientCredits), http.StatusPaymentRequired},
		{ErrRateLimited, http.StatusTooManyRequests},
		{scraper.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: 10.0.0.1", urlsafety.ErrBlockedHost), http.StatusBadRequest},
		{urlsafety.ErrUnsupportedScheme, http.StatusBadRequest},
		{auth.ErrForbidden, http.StatusForbidden},
		{ErrOriginDenied, http.StatusForbidden},
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{credits.ErrStoreNotFound, http.StatusNotFound},
		{db.ErrNotFound, http.StatusNotFound},
		{parser.ErrUnsupportedFormat, http.StatusBadRequest},
		{parser.ErrNoText, http.StatusUnprocessableEntity},
		{discovery.ErrNoPages, http.StatusUnprocessableEntity},
		{scraper.ErrQuota, http.StatusServiceUnavailable},
		{scraper.ErrScrapeFailed, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
