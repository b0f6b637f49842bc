// Package main wires together the shelfwatch service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"shelfwatch/internal/api"
	"shelfwatch/internal/archive"
	"shelfwatch/internal/catalog"
	"shelfwatch/internal/clock/system"
	"shelfwatch/internal/config"
	"shelfwatch/internal/engine"
	"shelfwatch/internal/extractor"
	"shelfwatch/internal/logging"
	"shelfwatch/internal/notify"
	"shelfwatch/internal/prober"
	"shelfwatch/internal/scheduler"
	"shelfwatch/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := store.Open(cfg.Store.Path, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("open catalog store: %w", err)
	}

	notifier, err := buildNotifier(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	archiver, err := buildArchiver(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}

	clock := system.New()

	extractorOpts := []extractor.Option{}
	if cfg.Archive.Provider != "noop" {
		extractorOpts = append(extractorOpts, extractor.WithArchiver(archiver, clock))
	}
	if cfg.Headless.Enabled {
		renderer, err := extractor.NewChromedpRenderer(extractor.RendererConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Search.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
		} else {
			defer renderer.Close()
			extractorOpts = append(extractorOpts, extractor.WithRenderer(renderer))
		}
	}
	extract := extractor.New(extractor.Config{
		UserAgent:     cfg.Search.UserAgent,
		Timeout:       cfg.SearchTimeout(),
		RecordBaseURL: cfg.Search.RecordBaseURL,
	}, logger.Named("extractor"), extractorOpts...)

	probe, err := prober.New(prober.Config{
		URLTemplate: cfg.Availability.URLTemplate,
		UserAgent:   cfg.Search.UserAgent,
		Timeout:     cfg.SearchTimeout(),
	}, logger.Named("prober"))
	if err != nil {
		return fmt.Errorf("init prober: %w", err)
	}

	cooldown, err := cfg.NotifyCooldown()
	if err != nil {
		return err
	}
	window, err := cfg.FreshnessWindow()
	if err != nil {
		return err
	}

	eng := engine.New(st, extract, probe, notifier, clock, engine.Config{
		FreshnessWindow:      window,
		NotifyCooldown:       cooldown,
		CollectionSuffix:     cfg.Availability.CollectionSuffix,
		ExcludedCallPrefixes: cfg.Availability.ExcludedCallPrefixes,
		Locations:            cfg.Locations,
		Searches: map[catalog.Category]catalog.SearchConfig{
			catalog.CategoryAvailableNow: {
				Category:       catalog.CategoryAvailableNow,
				URL:            cfg.Search.AvailableNow.URL,
				ScriptSelector: cfg.Search.ScriptSelector,
			},
			catalog.CategoryOnOrder: {
				Category:       catalog.CategoryOnOrder,
				URL:            cfg.Search.OnOrder.URL,
				ScriptSelector: cfg.Search.ScriptSelector,
			},
		},
	}, logger.Named("engine"))

	sched := scheduler.New(eng, logger.Named("scheduler"))
	entries := []scheduler.Entry{
		{Category: catalog.CategoryAvailableNow, Schedule: cfg.Search.AvailableNow.Schedule},
		{Category: catalog.CategoryOnOrder, Schedule: cfg.Search.OnOrder.Schedule},
	}
	for _, entry := range entries {
		if err := sched.Add(entry); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	apiServer := api.NewServer(st, eng, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildNotifier(ctx context.Context, cfg config.Config) (catalog.Notifier, error) {
	switch cfg.Notify.Provider {
	case "webhook":
		return notify.NewWebhook(notify.WebhookConfig{URL: cfg.Notify.WebhookURL})
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Notify.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		return notify.NewPubSub(client, cfg.Notify.PubSubTopic)
	case "noop":
		return notify.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
	}
}

func buildArchiver(ctx context.Context, cfg config.Config) (catalog.Archiver, error) {
	switch cfg.Archive.Provider {
	case "local":
		return archive.NewLocal(archive.LocalConfig{BaseDir: cfg.Archive.BaseDir})
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		return archive.NewGCS(client, archive.GCSConfig{Bucket: cfg.Archive.Bucket})
	case "noop":
		return archive.NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Archive.Provider)
	}
}
