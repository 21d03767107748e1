// Package ingest turns uploaded documents, pasted text and web pages into
// embedded chunks in a store's vector storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"preik/internal/chunking"
	"preik/internal/discovery"
	"preik/internal/embedding"
	"preik/internal/models"
	"preik/internal/parser"
	"preik/internal/scraper"
	"preik/internal/urlsafety"
)

// ErrEmptyContent is returned when there is no text to ingest
var ErrEmptyContent = errors.New("no content to ingest")

const defaultWorkers = 4

// Store is the part of the vector storage the pipeline writes to
type Store interface {
	ReplaceSource(ctx context.Context, storeID, source string, chunks []models.ChunkEmbedding) (int, error)
}

// Scraper fetches a single web page
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (*scraper.Page, error)
}

// Result describes one ingested source
type Result struct {
	Source   string `json:"source"`
	Chunks   int    `json:"chunks"`
	Replaced int    `json:"replaced"`
}

// Failure is a URL that could not be ingested
type Failure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Report summarises a multi-URL ingestion
type Report struct {
	Results []Result  `json:"results"`
	Failed  []Failure `json:"failed"`
}

type Pipeline struct {
	store    Store
	embedder embedding.Embedder
	scraper  Scraper
	resolver urlsafety.Resolver
	chunking chunking.Options
	workers  int
}

type Option func(*Pipeline)

func WithChunking(opts chunking.Options) Option {
	return func(p *Pipeline) { p.chunking = opts }
}

// WithWorkers bounds the number of pages IngestURLs processes at once
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithResolver replaces the DNS resolver used for URL safety checks
func WithResolver(r urlsafety.Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

func NewPipeline(store Store, embedder embedding.Embedder, scr Scraper, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		scraper:  scr,
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestFile parses a document and stores it under its file name
func (p *Pipeline) IngestFile(ctx context.Context, storeID, filePath string) (*Result, error) {
	pages, err := parser.Parse(filePath)
	if err != nil {
		return nil, err
	}
	return p.ingestPages(ctx, storeID, filepath.Base(filePath), pages)
}

// IngestText stores plain text under source
func (p *Pipeline) IngestText(ctx context.Context, storeID, source, text string) (*Result, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: source name is required", ErrEmptyContent)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyContent, source)
	}
	return p.ingestPages(ctx, storeID, source, []models.Page{{Number: 1, Content: text}})
}

// IngestURL scrapes a public web page and stores it under its normalized URL
func (p *Pipeline) IngestURL(ctx context.Context, storeID, rawURL string) (*Result, error) {
	if p.scraper == nil {
		return nil, errors.New("no scraper configured")
	}
	u, err := urlsafety.ValidateAndResolve(ctx, p.resolver, rawURL)
	if err != nil {
		return nil, err
	}
	source := discovery.Normalize(u).String()

	page, err := p.scraper.Scrape(ctx, source)
	if err != nil {
		return nil, err
	}
	text := page.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", scraper.ErrEmptyPage, source)
	}
	return p.ingestPages(ctx, storeID, source, []models.Page{{Number: 1, Content: text}})
}

// IngestURLs ingests pages concurrently. A failing page is recorded in the
// report and the rest continue, except when the scraping quota runs out or
// ctx is cancelled.
func (p *Pipeline) IngestURLs(ctx context.Context, storeID string, urls []string) (*Report, error) {
	urls = lo.Uniq(lo.Compact(urls))
	report := &Report{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, u := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.IngestURL(gctx, storeID, u)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("store_id", storeID).Str("url", u).Msg("Failed to ingest page")
				report.Failed = append(report.Failed, Failure{URL: u, Error: err.Error()})
				if errors.Is(err, scraper.ErrQuota) {
					return err
				}
				return nil
			}
			report.Results = append(report.Results, *res)
			return nil
		})
	}
	err := g.Wait()

	log.Info().
		Str("store_id", storeID).
		Int("ingested", len(report.Results)).
		Int("failed", len(report.Failed)).
		Msg("Finished ingesting pages")
	return report, err
}

// ingestPages chunks and embeds pages, then swaps them in for any chunks
// previously stored under the same source
func (p *Pipeline) ingestPages(ctx context.Context, storeID, source string, pages []models.Page) (*Result, error) {
	chunks := chunking.SplitPages(pages, p.chunking)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyContent, source)
	}

	embedded, err := embedding.EmbedChunks(ctx, p.embedder, source, chunks)
	if err != nil {
		return nil, err
	}

	replaced, err := p.store.ReplaceSource(ctx, storeID, source, embedded)
	if err != nil {
		return nil, fmt.Errorf("failed to store chunks of %s: %w", source, err)
	}

	log.Info().
		Str("store_id", storeID).
		Str("source", source).
		Int("chunks", len(embedded)).
		Int("replaced", replaced).
		Msg("Ingested source")
	return &Result{Source: source, Chunks: len(embedded), Replaced: replaced}, nil
}
