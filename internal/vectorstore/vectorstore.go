// Package vectorstore selects the chunk storage backend.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"preik/internal/chromemdb"
	"preik/internal/config"
	"preik/internal/db"
	"preik/internal/helper"
	"preik/internal/models"
)

// VectorStore holds the embedded chunks of every store. All operations are
// scoped to one store.
type VectorStore interface {
	AddChunks(ctx context.Context, storeID string, chunks []models.ChunkEmbedding) error
	Search(ctx context.Context, storeID string, embedding []float32, k int) ([]models.SearchResult, error)
	DeleteSource(ctx context.Context, storeID, source string) (int, error)
	ReplaceSource(ctx context.Context, storeID, source string, chunks []models.ChunkEmbedding) (int, error)
	CountChunks(ctx context.Context, storeID string) (int, error)
}

var (
	_ VectorStore = (*db.DocumentRepo)(nil)
	_ VectorStore = (*chromemdb.VectorDBManager)(nil)
)

// New returns the configured backend. bunDB is only used by the postgres backend.
func New(cfg *config.VectorConfig, bunDB *bun.DB) (VectorStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "postgres", "":
		if bunDB == nil {
			return nil, fmt.Errorf("postgres vector backend needs a database connection")
		}
		return db.NewDocumentRepo(bunDB), nil
	case "chromem":
		if !cfg.InMemory {
			if err := helper.CreateFolder(cfg.ChromemPath); err != nil {
				return nil, fmt.Errorf("failed to create chromem folder: %w", err)
			}
		}
		log.Info().Str("path", cfg.ChromemPath).Bool("in_memory", cfg.InMemory).Msg("Using chromem vector store")
		return chromemdb.NewVectorDBManager(cfg.ChromemPath, cfg.InMemory, cfg.EncryptionKey)
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownVectorBackend, cfg.Backend)
	}
}
