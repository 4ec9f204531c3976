package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"neuroscan/config"
	"neuroscan/db"
	"neuroscan/logging"
	"neuroscan/ml"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	dataDir := flag.String("data_dir", "", "training corpus root with one directory per category")
	modelDir := flag.String("model_dir", "", "output directory for extractor.npz and classifier.json")
	seed := flag.Int64("seed", 0, "random seed (0 keeps the configured seed)")
	workers := flag.Int("workers", 0, "parallel preprocessing workers (0 = config or NumCPU)")
	c := flag.Float64("c", 0, "SVM regularisation strength (0 keeps the configured value)")
	record := flag.Bool("record", true, "append the run to the training_log table")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB, MaxBackups: cfg.Log.MaxBackups, MaxAgeDays: cfg.Log.MaxAgeDays})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.Named("train")

	trainCfg := trainConfig(cfg, *dataDir, *modelDir, *seed, *workers, *c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := ml.Train(ctx, trainCfg, logger)
	if err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}
	logger.Info("training finished",
		zap.Int("samples", report.Samples),
		zap.Int("skipped", len(report.Skipped)),
		zap.Float64("training_accuracy", report.Accuracy),
		zap.Int64("seed", report.Seed),
		zap.Duration("duration", report.Duration))

	if *record {
		if err := recordRun(cfg.Database.Path, report); err != nil {
			logger.Warn("could not record training run", zap.Error(err))
		}
	}

	fmt.Printf("model saved to %s and %s\n", report.ExtractorPath, report.ClassifierPath)
}

// trainConfig applies flag overrides on top of the loaded configuration.
func trainConfig(cfg *config.Config, dataDir, modelDir string, seed int64, workers int, c float64) ml.TrainConfig {
	tc := ml.TrainConfig{
		DataDir:    cfg.Training.DataDir,
		ModelDir:   cfg.Model.Dir,
		Categories: ml.DefaultCategories(),
		Seed:       cfg.Training.Seed,
		Workers:    cfg.Training.Workers,
		SVM:        ml.DefaultSVMConfig(),
	}
	tc.SVM.C = cfg.Training.C
	if dataDir != "" {
		tc.DataDir = dataDir
	}
	if modelDir != "" {
		tc.ModelDir = modelDir
	}
	if seed != 0 {
		tc.Seed = seed
	}
	if workers > 0 {
		tc.Workers = workers
	}
	if c > 0 {
		tc.SVM.C = c
	}
	return tc
}

func recordRun(path string, report *ml.TrainReport) error {
	if err := db.InitDB(path); err != nil {
		return err
	}
	defer db.Close()
	return db.SaveTrainingRun(db.TrainingLog{
		ModelName: ml.KindLinearSVC,
		Accuracy:  report.Accuracy,
		Samples:   report.Samples,
		Skipped:   len(report.Skipped),
		Seed:      report.Seed,
	})
}
