package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"neuroscan/config"
	"neuroscan/logging"
	"neuroscan/ml"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	modelDir := flag.String("model_dir", "", "directory holding extractor.npz and classifier.json (overrides config)")
	asJSON := flag.Bool("json", false, "print the full prediction as JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: predict [flags] <image>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

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
	logger = logger.Named("predict")

	dir := cfg.Model.Dir
	if *modelDir != "" {
		dir = *modelDir
	}
	if err := predict(dir, flag.Arg(0), *asJSON, os.Stdout, logger); err != nil {
		switch {
		case errors.Is(err, ml.ErrModelLoad):
			logger.Fatal("failed to load model", zap.String("dir", dir), zap.Error(err))
		case errors.Is(err, ml.ErrImageDecode):
			logger.Fatal("cannot read image", zap.String("path", flag.Arg(0)), zap.Error(err))
		default:
			logger.Fatal("prediction failed", zap.Error(err))
		}
	}
}

// predict loads the session from dir, classifies path and writes the result to out.
func predict(dir, path string, asJSON bool, out io.Writer, logger *zap.Logger) error {
	session, err := ml.LoadSession(ml.ArtifactPaths(dir))
	if err != nil {
		return err
	}
	prediction, err := session.Predict(path)
	if err != nil {
		return err
	}
	logger.Debug("prediction",
		zap.String("path", path),
		zap.String("category", prediction.Category),
		zap.Float64("confidence", prediction.Confidence))
	return writePrediction(out, prediction, asJSON)
}

func writePrediction(w io.Writer, prediction ml.Prediction, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(prediction)
	}
	_, err := fmt.Fprintf(w, "%s (confidence %.4f)\n", prediction.Label, prediction.Confidence)
	return err
}
