// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the cobra commands.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/clock/system"
	"github.com/amasri/newspipe/internal/config"
	"github.com/amasri/newspipe/internal/deadletter"
	"github.com/amasri/newspipe/internal/enricher"
	"github.com/amasri/newspipe/internal/hash/sha256"
	"github.com/amasri/newspipe/internal/id/uuid"
	"github.com/amasri/newspipe/internal/logging"
	"github.com/amasri/newspipe/internal/metrics"
	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/publisher"
	"github.com/amasri/newspipe/internal/retry"
	"github.com/amasri/newspipe/internal/sources"
	"github.com/amasri/newspipe/internal/storage/memory"
	"github.com/amasri/newspipe/internal/storage/postgres"
	"github.com/amasri/newspipe/internal/storage/sqlite"
	"github.com/amasri/newspipe/internal/worker"

	brokermemory "github.com/amasri/newspipe/internal/broker/memory"
	brokerpubsub "github.com/amasri/newspipe/internal/broker/pubsub"
	publishermemory "github.com/amasri/newspipe/internal/publisher/memory"
	publisherpubsub "github.com/amasri/newspipe/internal/publisher/pubsub"
)

// App holds the shared, long-lived services. It is built once per command
// invocation and closed when the command finishes.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	catalog *sources.Catalog
	store   pipeline.Store
	clock   pipeline.Clock
	idGen   pipeline.IDGenerator
	hasher  pipeline.Hasher

	itemsPublisher  pipeline.Publisher
	alertsPublisher pipeline.Publisher
	consumer        pipeline.Consumer
	memoryBroker    *brokermemory.Broker

	closers []func() error
}

// New builds the container from configuration, failing fast when any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		idGen:  uuid.New(),
		hasher: sha256.New(),
	}

	if err := a.initCatalog(); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initBroker(ctx); err != nil {
		_ = a.store.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("broker", cfg.Broker.Provider),
		zap.String("storage", cfg.Storage.Provider),
	)
	return a, nil
}

func (a *App) initCatalog() error {
	if a.cfg.Sources.File == "" {
		a.catalog = sources.Default()
		return nil
	}
	catalog, err := sources.Load(a.cfg.Sources.File)
	if err != nil {
		return fmt.Errorf("load sources registry: %w", err)
	}
	a.catalog = catalog
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Storage.Provider {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.Storage.DSN,
			Table:    a.cfg.Storage.Table,
			MaxConns: a.cfg.Storage.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.store = store
	case "sqlite":
		store, err := sqlite.New(a.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		a.store = store
	case "memory":
		a.store = memory.New()
	default:
		return fmt.Errorf("unknown storage provider %q", a.cfg.Storage.Provider)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) initBroker(ctx context.Context) error {
	pubCfg := publisher.Config{
		Retry: retry.Policy{
			MaxAttempts: a.cfg.Publisher.MaxAttempts,
			BaseDelay:   time.Duration(a.cfg.Publisher.BackoffInitialMs) * time.Millisecond,
			MaxDelay:    time.Duration(a.cfg.Publisher.BackoffMaxMs) * time.Millisecond,
		},
		AttemptTimeout: time.Duration(a.cfg.Publisher.TimeoutSeconds) * time.Second,
	}

	switch a.cfg.Broker.Provider {
	case "pubsub":
		itemsTransport, err := publisherpubsub.New(ctx, a.cfg.Broker.ProjectID, a.cfg.Broker.ItemsTopic)
		if err != nil {
			return fmt.Errorf("init items transport: %w", err)
		}
		alertsTransport, err := publisherpubsub.New(ctx, a.cfg.Broker.ProjectID, a.cfg.Broker.AlertsTopic)
		if err != nil {
			_ = itemsTransport.Close()
			return fmt.Errorf("init alerts transport: %w", err)
		}
		consumer, err := brokerpubsub.New(ctx, a.cfg.Broker.ProjectID, a.cfg.Broker.Subscription, a.logger)
		if err != nil {
			_ = itemsTransport.Close()
			_ = alertsTransport.Close()
			return fmt.Errorf("init subscriber: %w", err)
		}
		a.itemsPublisher = publisher.New(itemsTransport, pubCfg, a.logger)
		a.alertsPublisher = publisher.New(alertsTransport, pubCfg, a.logger)
		a.consumer = consumer
		a.closers = append(a.closers, a.itemsPublisher.Close, a.alertsPublisher.Close, consumer.Close)
	case "memory":
		broker := brokermemory.New()
		a.memoryBroker = broker
		a.itemsPublisher = publisher.New(publishermemory.New(broker.Enqueue), pubCfg, a.logger)
		a.alertsPublisher = publisher.New(publishermemory.New(nil), pubCfg, a.logger)
		a.consumer = broker
		a.closers = append(a.closers, broker.Close)
	default:
		return fmt.Errorf("unknown broker provider %q", a.cfg.Broker.Provider)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Catalog returns the feed source catalog.
func (a *App) Catalog() *sources.Catalog { return a.catalog }

// Store returns the article store.
func (a *App) Store() pipeline.Store { return a.store }

// Clock returns the time source.
func (a *App) Clock() pipeline.Clock { return a.clock }

// IDGenerator returns the envelope ID generator.
func (a *App) IDGenerator() pipeline.IDGenerator { return a.idGen }

// Hasher returns the fingerprint hasher.
func (a *App) Hasher() pipeline.Hasher { return a.hasher }

// ItemsPublisher returns the publisher bound to the items topic.
func (a *App) ItemsPublisher() pipeline.Publisher { return a.itemsPublisher }

// Consumer returns the batch consumer for the items subscription.
func (a *App) Consumer() pipeline.Consumer { return a.consumer }

// MemoryBroker returns the in-process broker, or nil when the broker
// provider is not "memory". The pipeline command uses it to run both halves
// in one process.
func (a *App) MemoryBroker() *brokermemory.Broker { return a.memoryBroker }

// DeadLetter returns a Reporter bound to the alerts topic.
func (a *App) DeadLetter() pipeline.DeadLetter {
	return deadletter.New(a.alertsPublisher, a.clock, a.logger)
}

// Enricher builds the content enricher from configuration.
func (a *App) Enricher() pipeline.Enricher {
	cfg := enricher.Config{
		Retry: retry.Policy{
			MaxAttempts: a.cfg.Enricher.MaxAttempts,
			BaseDelay:   time.Duration(a.cfg.Enricher.BackoffInitialMs) * time.Millisecond,
			MaxDelay:    time.Duration(a.cfg.Enricher.BackoffMaxMs) * time.Millisecond,
		},
		AttemptTimeout: time.Duration(a.cfg.Enricher.TimeoutSeconds) * time.Second,
		MinBodyBytes:   a.cfg.Enricher.MinBodyBytes,
	}
	fetcher := enricher.NewCollyFetcher(cfg.AttemptTimeout,
		enricher.WithUserAgents(a.cfg.Enricher.UserAgents))
	return enricher.New(fetcher, cfg, a.logger)
}

// WorkerPool builds the consume-side pool from configuration. Non-zero
// maxItems or maxDuration override the configured bounds.
func (a *App) WorkerPool(maxItems int, maxDuration time.Duration) *worker.Pool {
	cfg := worker.Config{
		BatchSize:   a.cfg.Worker.BatchSize,
		Concurrency: a.cfg.Worker.Concurrency,
		MaxItems:    a.cfg.Worker.MaxItems,
		MaxDuration: time.Duration(a.cfg.Worker.MaxDurationSeconds) * time.Second,
	}
	if maxItems > 0 {
		cfg.MaxItems = maxItems
	}
	if maxDuration > 0 {
		cfg.MaxDuration = maxDuration
	}
	return worker.New(a.consumer, a.Enricher(), a.store, a.DeadLetter(), a.clock, cfg, a.logger)
}

// Close shuts down every service in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("service close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
