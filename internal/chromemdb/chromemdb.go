package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"preik/internal/helper"
	"preik/internal/models"
)

const (
	compress         = false
	collectionPrefix = "store_"

	metaSource = "source"
	metaPage   = "page_number"
	metaChunk  = "chunk_id"
)

var ErrEncryptionKeyRequired = errors.New("encryption key is required")

// VectorDBManager keeps one chromem collection per store, on disk or in memory
type VectorDBManager struct {
	db            *chromem.DB
	mu            sync.Mutex
	dbPath        string
	encryptionKey string
}

// NewVectorDBManager opens the database at dbPath, or an in-memory one
func NewVectorDBManager(dbPath string, inMemory bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	if inMemory {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		encryptionKey: encryptionKey,
	}, nil
}

func collectionName(storeID string) string {
	return collectionPrefix + storeID
}

func (m *VectorDBManager) collection(storeID string) (*chromem.Collection, error) {
	// embeddings are always supplied, so no embedding func is needed
	c, err := m.db.GetOrCreateCollection(collectionName(storeID), nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return c, nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: documents must carry embeddings")
}

// AddChunks stores chunk embeddings in the store's collection
func (m *VectorDBManager) AddChunks(ctx context.Context, storeID string, chunks []models.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	c, err := m.collection(storeID)
	if err != nil {
		return err
	}
	docs, err := documents(chunks)
	if err != nil {
		return err
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// ReplaceSource adds the new chunks of a source before removing the old
// ones, so the source is never empty and a failed add keeps the old chunks.
// It returns how many chunks were replaced.
func (m *VectorDBManager) ReplaceSource(ctx context.Context, storeID, source string, chunks []models.ChunkEmbedding) (int, error) {
	c, err := m.collection(storeID)
	if err != nil {
		return 0, err
	}
	docs, err := documents(chunks)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(docs) == 0 {
		before := c.Count()
		if before == 0 {
			return 0, nil
		}
		if err := c.Delete(ctx, map[string]string{metaSource: source}, nil); err != nil {
			return 0, fmt.Errorf("failed to delete documents: %w", err)
		}
		return before - c.Count(), nil
	}

	oldIDs, err := sourceIDs(ctx, c, source, docs[0].Embedding)
	if err != nil {
		return 0, err
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		newIDs := make([]string, len(docs))
		for i, d := range docs {
			newIDs[i] = d.ID
		}
		if derr := c.Delete(ctx, nil, nil, newIDs...); derr != nil {
			log.Warn().Err(derr).Str("source", source).Msg("Failed to remove partially added documents")
		}
		return 0, fmt.Errorf("failed to add documents: %w", err)
	}

	if len(oldIDs) > 0 {
		if err := c.Delete(ctx, nil, nil, oldIDs...); err != nil {
			return 0, fmt.Errorf("failed to delete documents: %w", err)
		}
	}
	return len(oldIDs), nil
}

// sourceIDs lists the ids of the documents of one source. chromem has no
// plain listing, so it runs a filtered query over the whole collection.
func sourceIDs(ctx context.Context, c *chromem.Collection, source string, query []float32) ([]string, error) {
	n := c.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: query,
		NResults:       n,
		Where:          map[string]string{metaSource: source},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w", source, err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

func documents(chunks []models.ChunkEmbedding) ([]chromem.Document, error) {
	docs := make([]chromem.Document, len(chunks))
	for i, ce := range chunks {
		id, err := helper.GenerateUUID()
		if err != nil {
			return nil, err
		}
		docs[i] = chromem.Document{
			ID:      id,
			Content: ce.Content,
			Metadata: map[string]string{
				metaSource: ce.Source,
				metaPage:   strconv.Itoa(ce.PageNumber),
				metaChunk:  strconv.Itoa(ce.ChunkID),
			},
			Embedding: ce.Embedding,
		}
	}
	return docs, nil
}

// Search returns up to k chunks of the store most similar to embedding
func (m *VectorDBManager) Search(ctx context.Context, storeID string, embedding []float32, k int) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	c, err := m.collection(storeID)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults larger than the collection
	k = min(k, c.Count())
	if k <= 0 {
		return nil, nil
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		page, _ := strconv.Atoi(r.Metadata[metaPage])
		chunk, _ := strconv.Atoi(r.Metadata[metaChunk])
		out[i] = models.SearchResult{
			Content:    r.Content,
			Source:     r.Metadata[metaSource],
			PageNumber: page,
			ChunkID:    chunk,
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

// DeleteSource removes the chunks of one source and returns how many were removed
func (m *VectorDBManager) DeleteSource(ctx context.Context, storeID, source string) (int, error) {
	c, err := m.collection(storeID)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	before := c.Count()
	if before == 0 {
		return 0, nil
	}
	if err := c.Delete(ctx, map[string]string{metaSource: source}, nil); err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	return before - c.Count(), nil
}

func (m *VectorDBManager) CountChunks(_ context.Context, storeID string) (int, error) {
	c := m.db.GetCollection(collectionName(storeID), noEmbed)
	if c == nil {
		return 0, nil
	}
	return c.Count(), nil
}

// DeleteStore drops the store's collection
func (m *VectorDBManager) DeleteStore(storeID string) error {
	if err := m.db.DeleteCollection(collectionName(storeID)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Export writes the store's collection to an encrypted file under the db path
func (m *VectorDBManager) Export(_ context.Context, storeID string) (string, error) {
	if m.encryptionKey == "" {
		return "", ErrEncryptionKeyRequired
	}
	if m.dbPath == "" {
		return "", errors.New("db path is required")
	}

	name := collectionName(storeID)
	filePath := filepath.Join(m.dbPath, name+".chromem")
	log.Debug().Str("collection", name).Str("file", filePath).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, compress, m.encryptionKey, name); err != nil {
		return "", fmt.Errorf("failed to export database: %w", err)
	}
	return filePath, nil
}

// Import loads a store's collection from a file written by Export
func (m *VectorDBManager) Import(_ context.Context, storeID, filePath string) error {
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, collectionName(storeID)); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}
