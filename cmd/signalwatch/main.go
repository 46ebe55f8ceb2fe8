package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalwatch/internal/api"
	"signalwatch/internal/cache"
	"signalwatch/internal/classify"
	"signalwatch/internal/config"
	"signalwatch/internal/enrich"
	"signalwatch/internal/events"
	"signalwatch/internal/ingest"
	"signalwatch/internal/logging"
	"signalwatch/internal/metrics"
	"signalwatch/internal/storage"
	"signalwatch/internal/validation"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a YAML or JSON config file (optional)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if err := run(config.ResolvePath(*configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "signalwatch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgManager.Get()
	logger, level := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.Init(initCtx)
	initCancel()
	if err != nil {
		return fmt.Errorf("init %s store: %w", cfg.Storage.Driver, err)
	}

	analysisCache, err := cache.New(cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer analysisCache.Close()

	m := metrics.New()

	// Leave remote as a nil interface when disabled so the orchestrator
	// goes straight to the fallback.
	var (
		remote   enrich.Classifier
		reporter api.BreakerReporter
	)
	if cfg.Classifier.RemoteEnabled() {
		r := classify.NewRemote(cfg.Classifier, logger)
		remote, reporter = r, r
		logger.Info("remote classifier enabled", "model", cfg.Classifier.Model)
	} else {
		logger.Info("remote classifier disabled, using keyword fallback only")
	}

	orchestrator := enrich.New(store, analysisCache, remote, classify.NewFallback(classify.RandomPicker()), m, logger, enrich.Options{
		Workers:   cfg.Enrichment.Workers,
		QueueSize: cfg.Enrichment.QueueSize,
		CacheTTL:  cfg.Enrichment.CacheTTL,
	})
	orchestrator.Start()
	defer orchestrator.Close()

	service := events.NewService(store, orchestrator, validation.New(), logger)
	ingest.StartKafka(ctx, cfgManager, service, logger)
	ingest.StartFileTail(ctx, cfgManager, service, logger)

	server := api.NewServer(api.Deps{
		Config:  cfgManager,
		Events:  service,
		Store:   store,
		Cache:   analysisCache,
		Metrics: m,
		Remote:  reporter,
		Logger:  logger,
		Version: version,
	})
	httpServer := server.Start(ctx)

	stop := make(chan struct{})
	defer close(stop)
	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		level.Set(logging.ParseLevel(next.LogLevel))
		logger.Info("config reloaded", "path", cfgManager.Path(), "log_level", next.LogLevel)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stop)

	logger.Info("signalwatch started",
		"version", version,
		"storage", store.Driver(),
		"cache", analysisCache.Backend(),
	)
	<-ctx.Done()
	logger.Info("shutting down")
	// Drain in-flight requests before the deferred orchestrator and store
	// closes run.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	return nil
}
