package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"preik/internal/auth"
)

type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`
	ID            string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email         string    `bun:"email,notnull"`
	Role          string    `bun:"role,notnull"`
	StoreID       *string   `bun:"store_id,type:uuid"`
	APIKeyHash    string    `bun:"api_key_hash,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (p *Profile) principal() *auth.Principal {
	pr := &auth.Principal{UserID: p.ID, Email: p.Email, Role: p.Role}
	if p.StoreID != nil {
		pr.StoreID = *p.StoreID
	}
	return pr
}

type ProfileRepo struct {
	db *bun.DB
}

func NewProfileRepo(db *bun.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// FindByKeyHash implements auth.KeyStore
func (r *ProfileRepo) FindByKeyHash(ctx context.Context, keyHash string) (*auth.Principal, error) {
	row := new(Profile)
	err := r.db.NewSelect().Model(row).Where("api_key_hash = ?", keyHash).Scan(ctx)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil, auth.ErrUnauthenticated
		}
		return nil, err
	}
	return row.principal(), nil
}

// CreateProfile stores a profile for the given raw API key. storeID is empty
// for super admins.
func (r *ProfileRepo) CreateProfile(ctx context.Context, email, role, storeID, apiKey string) (*auth.Principal, error) {
	row := &Profile{Email: email, Role: role, APIKeyHash: auth.HashKey(apiKey)}
	if storeID != "" {
		row.StoreID = &storeID
	}
	if _, err := r.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return nil, err
	}
	return row.principal(), nil
}
