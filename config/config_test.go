package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Http.Port != 8080 || cfg.Model.Dir != "models" || cfg.Training.Seed != 42 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Inbox.SettleDelay != 500*time.Millisecond {
		t.Fatalf("unexpected settle delay %v", cfg.Inbox.SettleDelay)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
log:
  level: debug
http:
  port: 9000
  request_timeout: 5s
model:
  dir: /srv/models
inbox:
  enabled: true
  workers: 6
training:
  seed: 7
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("NEUROSCAN_PORT", "9100")
	t.Setenv("NEUROSCAN_DB_PATH", "/tmp/scans.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Model.Dir != "/srv/models" || cfg.Training.Seed != 7 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Http.RequestTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", cfg.Http.RequestTimeout)
	}
	if !cfg.Inbox.Enabled || cfg.Inbox.Workers != 6 {
		t.Fatalf("inbox values not applied: %+v", cfg.Inbox)
	}
	if cfg.Http.Port != 9100 || cfg.Database.Path != "/tmp/scans.db" {
		t.Fatalf("env overrides not applied: port=%d db=%s", cfg.Http.Port, cfg.Database.Path)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("NEUROSCAN_PORT", "not-a-port")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for non-numeric port")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http: [unterminated"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("NEUROSCAN_PORT", "")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
