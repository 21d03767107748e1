package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"preik/internal/auth"
	"preik/internal/ratelimit"
)

const (
	defaultMaxUploadBytes = 20 << 20
	defaultRequestTimeout = 90 * time.Second
)

// NewRouter creates a new chi router with all endpoints and middleware
func NewRouter(deps Deps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(20, 5, 10*time.Minute)
	}
	h := &Handler{Deps: deps}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.RequestTimeout))
	r.Use(middleware.Heartbeat("/ping"))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		r.Route("/widget", func(r chi.Router) {
			r.Use(widgetCORS)
			r.Post("/chat", h.handleWidgetChat)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(deps.Keys, authError))

			r.Get("/credits", h.handleCredits)

			r.Route("/documents", func(r chi.Router) {
				r.Get("/", h.handleDocumentStats)
				r.Post("/", h.handleUpload)
				r.Post("/text", h.handleText)
				r.Delete("/", h.handleDeleteSource)
			})

			r.Route("/scrape", func(r chi.Router) {
				r.Use(ratelimit.Middleware(deps.Limiter, principalKey, rateLimited))
				r.Post("/", h.handleScrape)
				r.Post("/discover", h.handleDiscover)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireSuperAdmin(authError))
				r.Post("/stores/{storeID}/credits/reset", h.handleResetCredits)
				r.Put("/stores/{storeID}/credits/limit", h.handleSetLimit)
			})
		})
	})

	return r
}

// requestLogger logs each request with zerolog once it completes
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// widgetCORS answers preflight requests from embedded widgets. The origin
// itself is checked against the store in the chat handler.
func widgetCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalKey(r *http.Request) string {
	if p := auth.FromContext(r.Context()); p != nil {
		return "user:" + p.UserID
	}
	return "ip:" + ratelimit.ClientIP(r)
}

func rateLimited(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusTooManyRequests, ErrRateLimited.Error())
}
