package main

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"preik/internal/chunking"
	"preik/internal/config"
	"preik/internal/credits"
	"preik/internal/db"
	"preik/internal/discovery"
	"preik/internal/embedding"
	"preik/internal/ingest"
	"preik/internal/llmservice"
	"preik/internal/notify"
	"preik/internal/rag"
	"preik/internal/scraper"
	"preik/internal/urlsafety"
	"preik/internal/vectorstore"
)

// app holds the services shared by the commands. Model clients are created
// on first use so commands that do not need them run without API keys.
type app struct {
	cfg      *config.Config
	db       *bun.DB
	stores   *db.StoreRepo
	profiles *db.ProfileRepo
	meter    *credits.Meter
	vectors  vectorstore.VectorStore
	scraper  *scraper.Client

	embedder embedding.Embedder
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	bunDB, err := db.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	vectors, err := vectorstore.New(&cfg.Vector, bunDB)
	if err != nil {
		bunDB.Close()
		return nil, err
	}

	stores := db.NewStoreRepo(bunDB)
	meter := credits.NewMeter(
		db.NewCreditLedger(bunDB),
		credits.WithThresholds(cfg.Credits.Thresholds...),
		credits.WithThresholdHook(notify.CreditThresholdHook(notify.New(&cfg.Email), stores)),
	)

	return &app{
		cfg:      cfg,
		db:       bunDB,
		stores:   stores,
		profiles: db.NewProfileRepo(bunDB),
		meter:    meter,
		vectors:  vectors,
		scraper:  scraper.NewClient(&cfg.Scraper),
	}, nil
}

func (a *app) Close() {
	// pending credit emails still read the store
	a.meter.Wait()
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing database")
	}
}

func (a *app) getEmbedder() (embedding.Embedder, error) {
	if a.embedder == nil {
		e, err := embedding.New(&a.cfg.EmbedLLM)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		a.embedder = e
	}
	return a.embedder, nil
}

func (a *app) pipeline() (*ingest.Pipeline, error) {
	embedder, err := a.getEmbedder()
	if err != nil {
		return nil, err
	}
	return ingest.NewPipeline(a.vectors, embedder, a.scraper,
		ingest.WithChunking(chunking.Options{MaxChars: a.cfg.RAG.ChunkSize, Overlap: a.cfg.RAG.ChunkOverlap}),
		ingest.WithWorkers(a.cfg.RAG.IngestWorkers),
		ingest.WithResolver(net.DefaultResolver),
	), nil
}

func (a *app) chat() (*rag.Service, error) {
	embedder, err := a.getEmbedder()
	if err != nil {
		return nil, err
	}
	llm, err := llmservice.New(&a.cfg.ChatLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}
	return rag.NewService(a.meter, embedder, a.vectors, llm, a.stores, a.cfg.RAG), nil
}

func (a *app) finder() discovery.Finder {
	return discovery.Finder{
		Mapper:  a.scraper,
		Sitemap: discovery.NewSitemap(urlsafety.NewHTTPClient(a.cfg.Scraper.Timeout)),
	}
}
