// Package app assembles the research adapters from configuration. Both the
// API server and the CLI build their runs through it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"deepresearch/backend/internal/archive"
	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/llm"
	"deepresearch/backend/internal/reader"
	"deepresearch/backend/internal/research"
	"deepresearch/backend/internal/search"
	"deepresearch/backend/internal/store"
)

type Services struct {
	Config    config.Config
	Logger    *zap.Logger
	Generator research.StreamingTextGenerator
	Search    research.SearchExecutor
	Engines   []string
	Fetcher   research.PageFetcher
	// Store is nil when runs are not persisted.
	Store    *store.Store
	Archiver archive.Archiver
}

// New wires the configured generator, search engines, page reader, run store
// and report archive. database may be nil.
func New(ctx context.Context, cfg config.Config, database *sql.DB, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	generator, err := llm.New(cfg, &http.Client{Timeout: cfg.GenerationTimeout}, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("init text generator: %w", err)
	}

	registry, err := search.New(cfg, &http.Client{Timeout: cfg.SearchTimeout}, logger.Named("search"))
	if err != nil {
		return nil, fmt.Errorf("init search: %w", err)
	}

	pageReader := reader.NewHTTPReader(reader.Config{
		RequestTimeout: cfg.FetchTimeout,
		MaxBytes:       cfg.FetchMaxBytes,
	}, nil, logger.Named("reader"))

	objects, err := archive.OpenStore(ctx, cfg.ArchiveBackend, cfg.ArchiveDir, cfg.GCSBucket)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}

	services := &Services{
		Config:    cfg,
		Logger:    logger,
		Generator: generator,
		Search:    registry,
		Engines:   registry.Engines(),
		Fetcher:   reader.NewCached(pageReader, cfg.FetchCacheTTL, logger.Named("reader")),
		Archiver:  archive.NewArchiver(objects, logger.Named("archive")),
	}
	if database != nil {
		runs := store.NewStore(database)
		services.Store = &runs
	}
	return services, nil
}

// RunOptions are per-run overrides. Iteration and page limits may only tighten
// the configured caps.
type RunOptions struct {
	PageContext             *research.PageContext
	MaxIterations           int
	MaxPagesPerIteration    int
	RequireBrowseApproval   *bool
	RequireContinueApproval *bool
}

func (s *Services) ResearchConfig(opts RunOptions) research.Config {
	cfg := research.Config{
		MaxIterations:           s.Config.MaxIterations,
		MaxPagesPerIteration:    s.Config.MaxPagesPerIteration,
		Engines:                 s.Engines,
		RequireBrowseApproval:   s.Config.RequireBrowseApproval,
		RequireContinueApproval: s.Config.RequireContinueApproval,
		GenerationTimeout:       s.Config.GenerationTimeout,
		SearchTimeout:           s.Config.SearchTimeout,
		FetchTimeout:            s.Config.FetchTimeout,
		RunTimeout:              s.Config.RunTimeout,
	}
	if opts.MaxIterations > 0 && (cfg.MaxIterations <= 0 || opts.MaxIterations < cfg.MaxIterations) {
		cfg.MaxIterations = opts.MaxIterations
	}
	if opts.MaxPagesPerIteration > 0 && (cfg.MaxPagesPerIteration <= 0 || opts.MaxPagesPerIteration < cfg.MaxPagesPerIteration) {
		cfg.MaxPagesPerIteration = opts.MaxPagesPerIteration
	}
	if opts.RequireBrowseApproval != nil {
		cfg.RequireBrowseApproval = *opts.RequireBrowseApproval
	}
	if opts.RequireContinueApproval != nil {
		cfg.RequireContinueApproval = *opts.RequireContinueApproval
	}
	return cfg
}
