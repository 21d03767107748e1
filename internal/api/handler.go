// Package api exposes the widget chat, document, scraping and credit
// endpoints over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"preik/internal/auth"
	"preik/internal/credits"
	"preik/internal/discovery"
	"preik/internal/helper"
	"preik/internal/ingest"
	"preik/internal/models"
	"preik/internal/rag"
	"preik/internal/ratelimit"
	"preik/internal/urlsafety"
)

// Answerer produces widget answers
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*rag.Answer, error)
}

// CreditMeter is implemented by *credits.Meter
type CreditMeter interface {
	Status(ctx context.Context, storeID string) (credits.Usage, error)
	Reset(ctx context.Context, storeID string) (credits.Usage, error)
	SetLimit(ctx context.Context, storeID string, limit int64) (credits.Usage, error)
}

// Ingester is implemented by *ingest.Pipeline
type Ingester interface {
	IngestFile(ctx context.Context, storeID, filePath string) (*ingest.Result, error)
	IngestText(ctx context.Context, storeID, source, text string) (*ingest.Result, error)
	IngestURL(ctx context.Context, storeID, rawURL string) (*ingest.Result, error)
	IngestURLs(ctx context.Context, storeID string, urls []string) (*ingest.Report, error)
}

type DocumentStore interface {
	DeleteSource(ctx context.Context, storeID, source string) (int, error)
	CountChunks(ctx context.Context, storeID string) (int, error)
}

// SourceLister is implemented by document stores that can break chunk
// counts down per source
type SourceLister interface {
	ListSources(ctx context.Context, storeID string) (map[string]int, error)
}

type Discoverer interface {
	Discover(ctx context.Context, base string, opts discovery.Options) ([]string, error)
}

type StoreLookup interface {
	GetStore(ctx context.Context, id string) (*models.Store, error)
}

// Deps are the services behind the HTTP endpoints
type Deps struct {
	Chat      Answerer
	Credits   CreditMeter
	Ingest    Ingester
	Documents DocumentStore
	Discovery Discoverer
	Stores    StoreLookup
	Keys      auth.KeyStore
	// Limiter throttles widget chat per store and client, and scraping per user
	Limiter  *ratelimit.Limiter
	Resolver urlsafety.Resolver

	MaxUploadBytes int64
	RequestTimeout time.Duration

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that sets them.
	TrustProxyHeaders bool
}

// Handler manages API endpoints
type Handler struct {
	Deps
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   "preik",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// storeFor resolves the store an admin request targets. An empty requested
// id falls back to the caller's own store.
func storeFor(r *http.Request, requested string) (string, error) {
	p := auth.FromContext(r.Context())
	if p == nil {
		return "", auth.ErrUnauthenticated
	}
	storeID := strings.TrimSpace(requested)
	if storeID == "" {
		storeID = p.StoreID
	}
	if storeID == "" {
		return "", ErrStoreRequired
	}
	if !helper.IsUUID(storeID) {
		return "", ErrInvalidStoreID
	}
	if !p.CanManage(storeID) {
		return "", auth.ErrForbidden
	}
	return storeID, nil
}
