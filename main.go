package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"neuroscan/config"
	"neuroscan/db"
	nhttp "neuroscan/http"
	"neuroscan/logging"
	"neuroscan/ml"
	"neuroscan/monitoring"
	"neuroscan/pipeline"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("neuroscan exited with error", zap.Error(err))
		logger.Sync()
		if errors.Is(err, ml.ErrModelLoad) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) (err error) {
	// 2. Load model artifacts once
	extractorPath, classifierPath := ml.ArtifactPaths(cfg.Model.Dir)
	session, err := ml.LoadSession(extractorPath, classifierPath)
	if err != nil {
		return err
	}
	logger.Info("model loaded",
		zap.String("extractor", extractorPath),
		zap.String("classifier", classifierPath),
		zap.Strings("categories", session.Categories()))

	// 3. Initialize database
	if err := db.InitDB(cfg.Database.Path); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	metrics := monitoring.NewMetrics()
	hub := monitoring.NewHub(logger)
	go hub.Start()

	// 4. Optional inbox watcher
	var inbox *pipeline.ScanIngester
	if cfg.Inbox.Enabled {
		inbox, err = pipeline.NewScanIngester(pipeline.IngestionConfig{
			Dir:         cfg.Inbox.Dir,
			Workers:     cfg.Inbox.Workers,
			SettleDelay: cfg.Inbox.SettleDelay,
			CacheSize:   cfg.Inbox.CacheSize,
		}, session, db.Repository{}, hub, metrics, logger)
		if err != nil {
			return err
		}
		if err := inbox.Start(); err != nil {
			return fmt.Errorf("start inbox: %w", err)
		}
	}

	// 5. Start HTTP server
	nhttp.SetServices(nhttp.Services{
		Predictor:      session,
		Scans:          db.Repository{},
		Publisher:      hub,
		Metrics:        metrics,
		Hub:            hub,
		Inbox:          inbox,
		Logger:         logger.Named("api"),
		MaxUploadBytes: cfg.Http.MaxUploadMB << 20,
		ClassifierKind: ml.KindLinearSVC,
	})
	server := nhttp.NewServer(nhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.RequestTimeout,
		AllowedOrigins: []string{"*"},
	}, logger)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	// 6. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err = <-serverErr:
	}

	err = multierr.Append(err, server.Stop())
	if inbox != nil {
		err = multierr.Append(err, inbox.Stop())
	}
	err = multierr.Append(err, hub.Stop())
	return err
}
