package chromemdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preik/internal/models"
)

func newTestManager(t *testing.T) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager("", true, "")
	require.NoError(t, err)
	return m
}

func TestSearchIsScopedToStore(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.AddChunks(ctx, "s1", []models.ChunkEmbedding{
		{Content: "opening hours", Embedding: []float32{1, 0, 0}, Source: "faq.md", PageNumber: 1, ChunkID: 0},
		{Content: "shipping", Embedding: []float32{0, 1, 0}, Source: "faq.md", PageNumber: 2, ChunkID: 1},
	}))
	require.NoError(t, m.AddChunks(ctx, "s2", []models.ChunkEmbedding{
		{Content: "other tenant", Embedding: []float32{1, 0, 0}, Source: "x.md"},
	}))

	results, err := m.Search(ctx, "s1", []float32{1, 0.1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "opening hours", results[0].Content)
	assert.Equal(t, "faq.md", results[0].Source)
	assert.Equal(t, 1, results[0].PageNumber)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
	assert.Equal(t, 1, results[1].ChunkID)
}

func TestSearchEmptyStore(t *testing.T) {
	m := newTestManager(t)
	results, err := m.Search(context.Background(), "empty", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = m.Search(context.Background(), "empty", nil, 5)
	assert.Error(t, err)
}

func TestDeleteSource(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.AddChunks(ctx, "s1", []models.ChunkEmbedding{
		{Content: "a", Embedding: []float32{1, 0}, Source: "a.pdf"},
		{Content: "b", Embedding: []float32{0, 1}, Source: "a.pdf"},
		{Content: "c", Embedding: []float32{1, 1}, Source: "b.pdf"},
	}))

	n, err := m.DeleteSource(ctx, "s1", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := m.CountChunks(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err = m.DeleteSource(ctx, "s1", "missing.pdf")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplaceSource(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.AddChunks(ctx, "s1", []models.ChunkEmbedding{
		{Content: "old hours", Embedding: []float32{1, 0}, Source: "faq"},
		{Content: "old shipping", Embedding: []float32{0, 1}, Source: "faq"},
		{Content: "manual", Embedding: []float32{1, 1}, Source: "manual.pdf"},
	}))

	n, err := m.ReplaceSource(ctx, "s1", "faq", []models.ChunkEmbedding{
		{Content: "new hours", Embedding: []float32{1, 0}, Source: "faq"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := m.CountChunks(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := m.Search(ctx, "s1", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new hours", results[0].Content)
}

func TestReplaceSourceKeepsOldChunksWhenAddFails(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.AddChunks(ctx, "s1", []models.ChunkEmbedding{
		{Content: "old hours", Embedding: []float32{1, 0}, Source: "faq"},
	}))

	// a chunk without an embedding cannot be stored
	_, err := m.ReplaceSource(ctx, "s1", "faq", []models.ChunkEmbedding{
		{Content: "new hours", Embedding: []float32{1, 0}, Source: "faq"},
		{Content: "broken", Source: "faq"},
	})
	require.Error(t, err)

	count, err := m.CountChunks(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := m.Search(ctx, "s1", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "old hours", results[0].Content)
}

func TestCountChunksUnknownStore(t *testing.T) {
	count, err := newTestManager(t).CountChunks(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExportRequiresKey(t *testing.T) {
	_, err := newTestManager(t).Export(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrEncryptionKeyRequired)
}
