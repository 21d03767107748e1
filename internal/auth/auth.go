// Package auth resolves API keys to principals and enforces the super admin
// and admin privilege tiers.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"preik/internal/models"
)

var (
	ErrUnauthenticated = errors.New("missing or invalid API key")
	ErrForbidden       = errors.New("not allowed to manage this store")
)

// Principal is the authenticated caller of an admin request
type Principal struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	StoreID string `json:"store_id,omitempty"`
}

func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Role == models.RoleSuperAdmin
}

// CanManage reports whether p may act on storeID. Super admins manage every
// store, admins only their own.
func (p *Principal) CanManage(storeID string) bool {
	if p == nil || storeID == "" {
		return false
	}
	if p.IsSuperAdmin() {
		return true
	}
	return p.Role == models.RoleAdmin && p.StoreID == storeID
}

// HashKey returns the hex SHA-256 of an API key, the form keys are stored in
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeyStore looks up the principal owning an API key hash
type KeyStore interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*Principal, error)
}

// Authenticate resolves a raw API key
func Authenticate(ctx context.Context, store KeyStore, key string) (*Principal, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrUnauthenticated
	}
	p, err := store.FindByKeyHash(ctx, HashKey(key))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnauthenticated
	}
	return p, nil
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal set by Middleware, or nil
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}

// ErrorWriter renders auth failures; the api package supplies its JSON envelope
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, err error)

func plainError(w http.ResponseWriter, _ *http.Request, status int, err error) {
	http.Error(w, err.Error(), status)
}

// Middleware authenticates "Authorization: Bearer <key>" and stores the
// principal in the request context
func Middleware(store KeyStore, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}
			p, err := Authenticate(r.Context(), store, key)
			if err != nil {
				if !errors.Is(err, ErrUnauthenticated) {
					log.Error().Err(err).Msg("API key lookup failed")
				}
				onError(w, r, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireSuperAdmin rejects principals below the super admin tier
func RequireSuperAdmin(onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := FromContext(r.Context())
			if p == nil {
				onError(w, r, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}
			if !p.IsSuperAdmin() {
				onError(w, r, http.StatusForbidden, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
