package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"preik/internal/config"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a connection pool with the configured driver: the bun
// pgdriver by default, or lib/pq when database.driver is "pq"
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "pq", "postgres":
		return sql.Open("postgres", cfg.URL)
	case "pgdriver", "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

// Open connects and pings the database
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*bun.DB, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func schema(dimensions int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE TABLE IF NOT EXISTS stores (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			name text NOT NULL,
			plan text NOT NULL DEFAULT 'starter',
			credit_limit bigint NOT NULL DEFAULT 0,
			credits_used bigint NOT NULL DEFAULT 0 CHECK (credits_used >= 0),
			billing_anchor timestamptz NOT NULL DEFAULT now(),
			billing_cycle_start timestamptz NOT NULL DEFAULT now(),
			allowed_origins text[] NOT NULL DEFAULT '{}',
			system_prompt text NOT NULL DEFAULT '',
			notify_email text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			email text NOT NULL UNIQUE,
			role text NOT NULL CHECK (role IN ('super_admin', 'admin')),
			store_id uuid REFERENCES stores(id) ON DELETE CASCADE,
			api_key_hash text NOT NULL UNIQUE,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			id bigserial PRIMARY KEY,
			store_id uuid NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
			source text NOT NULL,
			page_number int NOT NULL DEFAULT 1,
			chunk_index int NOT NULL DEFAULT 0,
			content text NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS documents_store_source_idx ON documents (store_id, source)`,
		`CREATE INDEX IF NOT EXISTS documents_embedding_idx ON documents USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS credit_events (
			id bigserial PRIMARY KEY,
			store_id uuid NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
			kind text NOT NULL,
			amount bigint NOT NULL DEFAULT 0,
			used_after bigint NOT NULL DEFAULT 0,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS credit_events_store_idx ON credit_events (store_id, created_at DESC)`,
	}
}

// InitDB creates the extensions, tables and indexes if they do not exist
func InitDB(ctx context.Context, db *bun.DB, dimensions int) error {
	for _, stmt := range schema(dimensions) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	log.Info().Int("dimensions", dimensions).Msg("Database schema ready")
	return nil
}

// DropDocuments removes all stored chunks
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
