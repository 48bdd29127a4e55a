package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"mediapipe/internal/catalog"
	"mediapipe/internal/events"
	"mediapipe/internal/models"
	"mediapipe/internal/objectstore"
	"mediapipe/internal/pipeline"
	"mediapipe/internal/storage"
	"mediapipe/internal/variants"
)

type repository interface {
	catalog.Repository
	Close() error
}

// app holds the wired components shared by serve and process.
type app struct {
	cfg       *models.Config
	logger    *slog.Logger
	repo      repository
	publisher *objectstore.Publisher
	catalog   *catalog.Catalog
	resolver  *variants.Resolver
	processor *pipeline.Processor
	producer  *events.Producer
}

func buildApp(ctx context.Context, cfg *models.Config, logger *slog.Logger) (*app, error) {
	const op = "main.buildApp"

	maxUpload, err := cfg.Pipeline.MaxUploadBytes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	repo, err := openRepository(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	store, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a := &app{cfg: cfg, logger: logger, repo: repo}
	a.publisher = objectstore.NewPublisher(store, cfg.Storage.RetryAttempts, cfg.Storage.RetryBaseDelay, logger)
	a.catalog = catalog.New(repo, a.publisher, logger)
	a.resolver = variants.NewResolver(cfg.Breakpoints)

	deps := pipeline.Deps{
		Resolver:  a.resolver,
		Encoder:   variants.NewEncoder(cfg.Codecs),
		Publisher: a.publisher,
		Catalog:   a.catalog,
		Logger:    logger,
	}
	if cfg.Kafka.Enabled() {
		a.producer = events.NewProducer(cfg.Kafka, logger)
		deps.Notifier = a.producer
	}

	usage, _ := models.ParseUsageContext(cfg.Pipeline.DefaultUsage)
	a.processor = pipeline.New(deps, pipeline.Options{
		Codecs:           cfg.CodecOrder(),
		Concurrency:      cfg.Pipeline.Concurrency,
		MaxUploadBytes:   maxUpload,
		KeepOriginal:     cfg.Pipeline.KeepOriginal,
		PlaceholderWidth: cfg.Pipeline.PlaceholderWidth,
		DefaultUsage:     usage,
	})

	logger.Info("components ready",
		slog.String("database", cfg.Database.Driver),
		slog.String("storage", cfg.Storage.Backend),
		slog.Bool("kafka", cfg.Kafka.Enabled()),
		slog.Int("concurrency", cfg.Pipeline.Concurrency),
	)
	return a, nil
}

func (a *app) Close() error {
	var err error
	if a.producer != nil {
		err = multierr.Append(err, a.producer.Close())
	}
	return multierr.Append(err, a.repo.Close())
}

func openRepository(ctx context.Context, cfg models.DatabaseConfig, logger *slog.Logger) (repository, error) {
	switch cfg.Driver {
	case "postgres":
		return storage.NewPostgres(ctx, cfg.DSN, logger)
	case "sqlite":
		return storage.NewSQLite(cfg.DSN, logger)
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openObjectStore(ctx context.Context, cfg models.StorageConfig) (objectstore.Store, error) {
	switch cfg.Backend {
	case "minio":
		return objectstore.NewMinioStore(ctx, cfg)
	case "memory":
		return objectstore.NewMemoryStore(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
