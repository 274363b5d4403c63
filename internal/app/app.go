// Package app wires configuration into storage, sinks, the GitHub source and
// the orchestrator shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-issue-extractor/internal/config"
	"github.com/kurihiro0119/github-issue-extractor/internal/events"
	"github.com/kurihiro0119/github-issue-extractor/internal/export"
	"github.com/kurihiro0119/github-issue-extractor/internal/extraction"
	"github.com/kurihiro0119/github-issue-extractor/internal/source"
	"github.com/kurihiro0119/github-issue-extractor/internal/storage"
	"github.com/kurihiro0119/github-issue-extractor/internal/storage/postgres"
	"github.com/kurihiro0119/github-issue-extractor/internal/storage/sqlite"
)

// App holds the long-lived components of a process
type App struct {
	Config       *config.Config
	Store        storage.Storage
	Publisher    events.Publisher
	Orchestrator *extraction.Orchestrator
}

// OpenStorage opens and migrates the configured backend
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// New builds every component from cfg
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := OpenStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.StorageType, err)
	}

	sinks := storage.SinksOf(store)
	if cfg.CSVExportDir != "" {
		csvSink, err := export.NewCSVIssueSink(cfg.CSVExportDir)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		sinks.Issues = storage.FanOutIssues(store, csvSink)
		log.Info("csv issue export enabled", zap.String("dir", cfg.CSVExportDir))
	}

	publisher := events.NewNopPublisher()
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to kafka: %w", err)
		}
		log.Info("publishing job events",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	sources := source.NewFactory(source.Options{
		APIURL:            cfg.GitHubAPIURL,
		GraphQLURL:        cfg.GitHubGraphQLURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})

	delay := cfg.PageDelay
	if delay == 0 {
		delay = -1
	}
	orch := extraction.New(store, sinks, sources, extraction.Options{
		PageDelay: delay,
		LeaseTTL:  cfg.LeaseTTL,
		Publisher: publisher,
		Logger:    log,
	})

	return &App{
		Config:       cfg,
		Store:        store,
		Publisher:    publisher,
		Orchestrator: orch,
	}, nil
}

// Close waits for background runs within ctx and releases every resource
func (a *App) Close(ctx context.Context) error {
	shutdownErr := a.Orchestrator.Shutdown(ctx)
	return errors.Join(shutdownErr, a.Publisher.Close(), a.Store.Close())
}
