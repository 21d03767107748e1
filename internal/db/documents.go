package db

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"preik/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64           `bun:"id,pk,autoincrement"`
	StoreID       string          `bun:"store_id,type:uuid,notnull"`
	Source        string          `bun:"source,notnull"`
	PageNumber    int             `bun:"page_number"`
	ChunkIndex    int             `bun:"chunk_index"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector,notnull"`
	Similarity    float32         `bun:"similarity,scanonly"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// DocumentRepo stores chunk embeddings in Postgres with pgvector
type DocumentRepo struct {
	db *bun.DB
}

func NewDocumentRepo(db *bun.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const insertBatchSize = 200

// AddChunks inserts chunk embeddings for a store
func (r *DocumentRepo) AddChunks(ctx context.Context, storeID string, chunks []models.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return insertChunks(ctx, tx, storeID, chunks)
	})
}

// ReplaceSource swaps the chunks of a source in one transaction and returns
// how many chunks were replaced. On error the previous chunks are kept.
func (r *DocumentRepo) ReplaceSource(ctx context.Context, storeID, source string, chunks []models.ChunkEmbedding) (int, error) {
	var replaced int
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*Document)(nil)).
			Where("store_id = ?", storeID).
			Where("source = ?", source).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		replaced = int(n)
		return insertChunks(ctx, tx, storeID, chunks)
	})
	if err != nil {
		return 0, err
	}
	return replaced, nil
}

func insertChunks(ctx context.Context, tx bun.Tx, storeID string, chunks []models.ChunkEmbedding) error {
	docs := make([]Document, len(chunks))
	for i, ce := range chunks {
		docs[i] = Document{
			StoreID:    storeID,
			Source:     ce.Source,
			PageNumber: ce.PageNumber,
			ChunkIndex: ce.ChunkID,
			Content:    ce.Content,
			Embedding:  pgvector.NewVector(ce.Embedding),
		}
	}
	for start := 0; start < len(docs); start += insertBatchSize {
		batch := docs[start:min(start+insertBatchSize, len(docs))]
		if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the k chunks of a store closest to embedding by cosine distance
func (r *DocumentRepo) Search(ctx context.Context, storeID string, embedding []float32, k int) ([]models.SearchResult, error) {
	vec := pgvector.NewVector(embedding)
	var docs []Document
	err := r.db.NewSelect().
		Model(&docs).
		Column("source", "page_number", "chunk_index", "content").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", vec).
		Where("store_id = ?", storeID).
		OrderExpr("embedding <=> ?", vec).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, len(docs))
	for i, d := range docs {
		results[i] = models.SearchResult{
			Content:    d.Content,
			Source:     d.Source,
			PageNumber: d.PageNumber,
			ChunkID:    d.ChunkIndex,
			Similarity: d.Similarity,
		}
	}
	return results, nil
}

// DeleteSource removes every chunk of a source and returns how many were removed
func (r *DocumentRepo) DeleteSource(ctx context.Context, storeID, source string) (int, error) {
	res, err := r.db.NewDelete().
		Model((*Document)(nil)).
		Where("store_id = ?", storeID).
		Where("source = ?", source).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountChunks returns the number of chunks stored for a store
func (r *DocumentRepo) CountChunks(ctx context.Context, storeID string) (int, error) {
	return r.db.NewSelect().Model((*Document)(nil)).Where("store_id = ?", storeID).Count(ctx)
}

// ListSources returns the distinct sources of a store with their chunk counts
func (r *DocumentRepo) ListSources(ctx context.Context, storeID string) (map[string]int, error) {
	var rows []struct {
		Source string `bun:"source"`
		Chunks int    `bun:"chunks"`
	}
	err := r.db.NewSelect().
		Model((*Document)(nil)).
		Column("source").
		ColumnExpr("count(*) AS chunks").
		Where("store_id = ?", storeID).
		Group("source").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Source] = row.Chunks
	}
	return out, nil
}
