package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DefaultPath is where the server and commands look for configuration.
const DefaultPath = "config.yaml"

type Config struct {
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Http struct {
		Port           int           `yaml:"port"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		MaxUploadMB    int64         `yaml:"max_upload_mb"`
	} `yaml:"http"`
	Model struct {
		Dir string `yaml:"dir"`
	} `yaml:"model"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Inbox struct {
		Enabled     bool          `yaml:"enabled"`
		Dir         string        `yaml:"dir"`
		Workers     int           `yaml:"workers"`
		SettleDelay time.Duration `yaml:"settle_delay"`
		CacheSize   int           `yaml:"cache_size"`
	} `yaml:"inbox"`
	Training struct {
		DataDir string  `yaml:"data_dir"`
		Seed    int64   `yaml:"seed"`
		Workers int     `yaml:"workers"`
		C       float64 `yaml:"c"`
	} `yaml:"training"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (a missing file means defaults), then .env, then
// NEUROSCAN_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	cfg.applyDefaults()

	// .env is optional; existing environment variables win.
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
	if c.Http.Port == 0 {
		c.Http.Port = 8080
	}
	if c.Http.RequestTimeout == 0 {
		c.Http.RequestTimeout = 30 * time.Second
	}
	if c.Http.MaxUploadMB == 0 {
		c.Http.MaxUploadMB = 10
	}
	if c.Model.Dir == "" {
		c.Model.Dir = "models"
	}
	if c.Database.Path == "" {
		c.Database.Path = "neuroscan.db"
	}
	if c.Inbox.Dir == "" {
		c.Inbox.Dir = "inbox"
	}
	if c.Inbox.Workers == 0 {
		c.Inbox.Workers = 2
	}
	if c.Inbox.SettleDelay == 0 {
		c.Inbox.SettleDelay = 500 * time.Millisecond
	}
	if c.Inbox.CacheSize == 0 {
		c.Inbox.CacheSize = 256
	}
	if c.Training.DataDir == "" {
		c.Training.DataDir = "data"
	}
	if c.Training.Seed == 0 {
		c.Training.Seed = 42
	}
	if c.Training.C == 0 {
		c.Training.C = 1
	}
}

func (c *Config) applyEnv() error {
	c.Log.Level = getEnv("NEUROSCAN_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("NEUROSCAN_LOG_FILE", c.Log.File)
	c.Model.Dir = getEnv("NEUROSCAN_MODEL_DIR", c.Model.Dir)
	c.Database.Path = getEnv("NEUROSCAN_DB_PATH", c.Database.Path)
	c.Inbox.Dir = getEnv("NEUROSCAN_INBOX_DIR", c.Inbox.Dir)
	c.Training.DataDir = getEnv("NEUROSCAN_DATA_DIR", c.Training.DataDir)

	var err error
	if c.Http.Port, err = getEnvAsInt("NEUROSCAN_PORT", c.Http.Port); err != nil {
		return err
	}
	if c.Inbox.Workers, err = getEnvAsInt("NEUROSCAN_INBOX_WORKERS", c.Inbox.Workers); err != nil {
		return err
	}
	if c.Inbox.Enabled, err = getEnvAsBool("NEUROSCAN_INBOX_ENABLED", c.Inbox.Enabled); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.Http.Port)
	}
	if c.Inbox.Workers <= 0 {
		return fmt.Errorf("inbox workers must be positive, got %d", c.Inbox.Workers)
	}
	if c.Training.C <= 0 {
		return fmt.Errorf("training c must be positive, got %v", c.Training.C)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
