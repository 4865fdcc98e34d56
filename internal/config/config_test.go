package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadJSONAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vitals.json")
	content := `{"server":{"address":":9000"},"model":{"path":"models/m.json"},"storage":{"driver":"memory"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Model.Path != filepath.Join(dir, "models", "m.json") {
		t.Fatalf("model path not resolved against config dir: %s", cfg.Model.Path)
	}
	if cfg.Model.Threshold != DefaultThreshold {
		t.Fatalf("unexpected threshold: %v", cfg.Model.Threshold)
	}
	if cfg.Queue.Driver != "memory" || cfg.Queue.Workers != 2 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.Queue.PublishTimeout() != 2*time.Second || cfg.Queue.Redis.MaxAttempts != 5 || cfg.Queue.Redis.RetryBackoffMS != 1000 {
		t.Fatalf("unexpected queue retry defaults: %+v", cfg.Queue)
	}
	if cfg.Training.RFTrees != 400 || cfg.Training.GBTrees != 300 || cfg.Training.GBMaxDepth != 5 {
		t.Fatalf("unexpected training defaults: %+v", cfg.Training)
	}
	if cfg.Training.OutputPath != cfg.Model.Path {
		t.Fatalf("training output should default to model path, got %s", cfg.Training.OutputPath)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vitals.yaml")
	content := `
server:
  address: ":7000"
  rate_limit:
    requests_per_second: 10
queue:
  driver: redis
  redis:
    address: "127.0.0.1:6379"
model:
  threshold: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7000" || cfg.Queue.Driver != "redis" || cfg.Queue.Redis.Address != "127.0.0.1:6379" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Server.RateLimit.Burst != 11 {
		t.Fatalf("unexpected burst default: %d", cfg.Server.RateLimit.Burst)
	}
	if cfg.Model.Threshold != 0.5 || cfg.Training.Threshold != 0.5 {
		t.Fatalf("threshold not propagated: %+v", cfg.Model)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected driver: %s", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN != filepath.Join(dir, "data", "vitals.db") {
		t.Fatalf("unexpected dsn: %s", cfg.Storage.DSN)
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vitals.json")
	if err := os.WriteFile(path, []byte(`{"queue":{"driver":"kafka"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown queue driver to fail")
	}

	if err := os.WriteFile(path, []byte(`{"model":{"threshold":1.5}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid threshold to fail")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
