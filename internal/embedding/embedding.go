package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"preik/internal/config"
	"preik/internal/models"
)

// ErrEmbeddingMismatch is returned when the provider returns a different number of vectors than inputs
var ErrEmbeddingMismatch = errors.New("embedding count does not match chunk count")

// Embedder is satisfied by langchaingo embedders
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// New creates an embedder for the configured provider
func New(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	batchSize := llmConfig.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	switch strings.ToLower(llmConfig.Provider) {
	case "ollama":
		return NewOllamaEmbedder(llmConfig, batchSize)
	case "openai", "":
		return NewOpenAIEmbedder(llmConfig, batchSize)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", llmConfig.Provider)
	}
}

// NewOpenAIEmbedder works with OpenAI and OpenAI compatible endpoints such as OpenRouter
func NewOpenAIEmbedder(llmConfig *config.LLMConfig, batchSize int) (*embeddings.EmbedderImpl, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithEmbeddingModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize))
}

func NewOllamaEmbedder(llmConfig *config.LLMConfig, batchSize int) (*embeddings.EmbedderImpl, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize))
}

// EmbedChunks embeds all chunks of a source in batched calls
func EmbedChunks(ctx context.Context, embedder Embedder, source string, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Str("source", source).Msg("No chunks generated from content")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", source, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: %d vectors for %d chunks", ErrEmbeddingMismatch, len(vectors), len(chunks))
	}

	out := make([]models.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		out[i] = models.ChunkEmbedding{
			Content:    c.Content,
			Embedding:  vectors[i],
			Source:     source,
			PageNumber: c.PageNumber,
			ChunkID:    c.ChunkID,
		}
	}
	return out, nil
}
