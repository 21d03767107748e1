package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/tmc/langchaingo/llms"

	"preik/internal/config"
	"preik/internal/credits"
	"preik/internal/embedding"
	"preik/internal/llmservice"
	"preik/internal/models"
)

const MaxMessageRunes = 2000

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = fmt.Errorf("message is longer than %d characters", MaxMessageRunes)
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

// Retriever finds the chunks of a store closest to a query embedding
type Retriever interface {
	Search(ctx context.Context, storeID string, embedding []float32, k int) ([]models.SearchResult, error)
}

// StoreLookup resolves a store's name and prompt settings
type StoreLookup interface {
	GetStore(ctx context.Context, id string) (*models.Store, error)
}

type Request struct {
	StoreID string               `json:"store_id"`
	Message string               `json:"message"`
	History []models.ChatMessage `json:"history"`
}

// Source is a document that contributed context to an answer
type Source struct {
	Source     string  `json:"source"`
	PageNumber int     `json:"page_number"`
	Similarity float32 `json:"similarity"`
}

type Answer struct {
	Content string        `json:"content"`
	Sources []Source      `json:"sources"`
	Usage   credits.Usage `json:"usage"`
}

type Service struct {
	meter     *credits.Meter
	embedder  embedding.Embedder
	retriever Retriever
	llm       llmservice.Generator
	stores    StoreLookup
	cfg       config.RAGConfig
}

func NewService(meter *credits.Meter, embedder embedding.Embedder, retriever Retriever, llm llmservice.Generator, stores StoreLookup, cfg config.RAGConfig) *Service {
	return &Service{
		meter:     meter,
		embedder:  embedder,
		retriever: retriever,
		llm:       llm,
		stores:    stores,
		cfg:       cfg,
	}
}

// Answer charges one credit and answers the visitor's message from the
// store's content. The credit is refunded when no answer is produced.
func (s *Service) Answer(ctx context.Context, req Request) (*Answer, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	store, err := s.stores.GetStore(ctx, req.StoreID)
	if err != nil {
		return nil, err
	}

	usage, err := s.meter.Consume(ctx, req.StoreID, models.CreditsPerAnswer)
	if err != nil {
		return nil, err
	}

	answer, err := s.answer(ctx, store, message, s.trimHistory(req.History))
	if err != nil {
		refunded, rerr := s.meter.Refund(context.WithoutCancel(ctx), req.StoreID, models.CreditsPerAnswer)
		if rerr != nil {
			log.Error().Err(rerr).Str("store_id", req.StoreID).Msg("Failed to refund credit")
		} else {
			usage = refunded
		}
		log.Warn().Err(err).Str("store_id", req.StoreID).Int64("used", usage.Used).Msg("Answer failed")
		return nil, err
	}
	answer.Usage = usage
	return answer, nil
}

func (s *Service) answer(ctx context.Context, store *models.Store, message string, history []models.ChatMessage) (*Answer, error) {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.retriever.Search(ctx, store.ID, queryEmbedding, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	results = lo.Filter(results, func(r models.SearchResult, _ int) bool {
		return r.Similarity >= s.cfg.MinSimilarity
	})
	log.Debug().Str("store_id", store.ID).Int("results", len(results)).Msg("Retrieved context")

	contents := lo.Map(results, func(r models.SearchResult, _ int) string { return r.Content })
	prompt := fmt.Sprintf(models.ContextPromptTemplate, strings.Join(contents, models.ContextSeparator), message)
	messages := llmservice.BuildMessages(SystemPrompt(store), history, prompt)

	var opts []llms.CallOption
	if s.cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(s.cfg.Temperature))
	}
	if s.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(s.cfg.MaxTokens))
	}
	content, err := llmservice.Complete(ctx, s.llm, messages, opts...)
	if err != nil {
		return nil, err
	}
	content = StripThinking(content)
	if content == "" {
		return nil, llmservice.ErrEmptyCompletion
	}

	return &Answer{Content: content, Sources: sources(results)}, nil
}

func (s *Service) trimHistory(history []models.ChatMessage) []models.ChatMessage {
	history = lo.Filter(history, func(m models.ChatMessage, _ int) bool {
		return (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != ""
	})
	if n := s.cfg.MaxHistory; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}

// SystemPrompt returns the store's own prompt or the default one
func SystemPrompt(store *models.Store) string {
	if p := strings.TrimSpace(store.SystemPrompt); p != "" {
		return p
	}
	return fmt.Sprintf(models.DefaultSystemPrompt, store.Name)
}

// StripThinking removes <think> blocks emitted by reasoning models
func StripThinking(content string) string {
	return strings.TrimSpace(thinkTag.ReplaceAllString(content, ""))
}

// sources lists each document once, keeping its best match
func sources(results []models.SearchResult) []Source {
	out := lo.Map(results, func(r models.SearchResult, _ int) Source {
		return Source{Source: r.Source, PageNumber: r.PageNumber, Similarity: r.Similarity}
	})
	return lo.UniqBy(out, func(s Source) string { return s.Source })
}
