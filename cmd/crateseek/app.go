package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/crateseek/crateseek/internal/chunker"
	"github.com/crateseek/crateseek/internal/config"
	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/indexer"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/metrics"
	"github.com/crateseek/crateseek/internal/searcher"
	"github.com/crateseek/crateseek/internal/storage"
	"github.com/crateseek/crateseek/internal/tagger"
)

// app holds the components shared by the subcommands
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	tagger   *tagger.Batch
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
}

// loadConfig reads the config file and applies the --log-level override
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newApp wires storage, providers, the ingestion pipeline and the searcher
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.LoggerConfig())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		metrics:  metrics.New(registry),
	}
	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	if dir := filepath.Dir(a.cfg.Database.Path); dir != "" && a.cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	a.store = store

	emb, err := embedder.New(a.cfg.EmbedderConfig())
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	a.embedder = emb

	gen, err := tagger.New(a.cfg.GeneratorConfig())
	if err != nil {
		return fmt.Errorf("create tagger: %w", err)
	}
	batch, err := tagger.NewBatch(gen,
		tagger.WithConcurrency(a.cfg.Tagger.Concurrency),
		tagger.WithRateLimit(a.cfg.Tagger.RateLimit, a.cfg.Tagger.Burst),
		tagger.WithCallTimeout(a.cfg.Tagger.CallTimeout),
		tagger.WithLogger(logger.Component(a.logger, "tagger")),
	)
	if err != nil {
		return fmt.Errorf("create tag pool: %w", err)
	}
	a.tagger = batch

	ch, err := chunker.New(a.cfg.ChunkerOptions())
	if err != nil {
		return err
	}

	a.indexer, err = indexer.New(store, ch, batch, emb,
		indexer.WithDocumentBatchSize(a.cfg.Ingest.DocumentBatchSize),
		indexer.WithEmbedBatchSize(a.cfg.Ingest.EmbedBatchSize),
		indexer.WithLockStaleAfter(a.cfg.Ingest.LockStaleAfter),
		indexer.WithLogger(logger.Component(a.logger, "indexer")),
		indexer.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	a.searcher, err = searcher.New(store, emb, a.cfg.SearcherConfig(),
		searcher.WithLogger(logger.Component(a.logger, "searcher")),
		searcher.WithMetrics(a.metrics),
	)
	return err
}

// close releases everything newApp opened
func (a *app) close() {
	var errs []error
	if a.tagger != nil {
		a.tagger.Release()
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("close failed")
	}
}
