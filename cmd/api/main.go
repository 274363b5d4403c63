package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-issue-extractor/internal/api"
	"github.com/kurihiro0119/github-issue-extractor/internal/app"
	"github.com/kurihiro0119/github-issue-extractor/internal/config"
	"github.com/kurihiro0119/github-issue-extractor/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfgFile := flag.String("config", "", "TOML config file (default $CONFIG_FILE)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zl, err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogFile == ""})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Error("api server stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	a, err := app.New(cfg, zl)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRoutes(api.NewHandler(a.Orchestrator, cfg.GitHubToken), zl)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("starting api server",
			zap.String("addr", addr),
			zap.String("storage", cfg.StorageType),
			zap.String("worker_id", a.Orchestrator.WorkerID()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down api server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srvErr := srv.Shutdown(shutdownCtx)
		return errors.Join(srvErr, a.Close(shutdownCtx))
	})

	return g.Wait()
}
