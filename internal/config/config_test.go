package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("DISTANCE_THRESHOLD_M", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr :8080, got %q", cfg.ListenAddr)
	}
	if cfg.DistanceThresholdM != 70 || cfg.AccuracyMaxM != 30 {
		t.Fatalf("unexpected thresholds: %v / %v", cfg.DistanceThresholdM, cfg.AccuracyMaxM)
	}
	if cfg.DefaultGraceMinutes != 60 {
		t.Fatalf("expected default grace 60, got %d", cfg.DefaultGraceMinutes)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wakestake.yaml")
	content := []byte("port: \"9000\"\ndistance_threshold_m: 120\nreconcile_interval: 2m\nallowed_origins:\n  - https://a.example\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("DISTANCE_THRESHOLD_M", "80")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9000" || cfg.ListenAddr != ":9000" {
		t.Fatalf("expected port from file, got %q / %q", cfg.Port, cfg.ListenAddr)
	}
	if cfg.DistanceThresholdM != 80 {
		t.Fatalf("expected env to override file threshold, got %v", cfg.DistanceThresholdM)
	}
	if cfg.ReconcileInterval != 2*time.Minute {
		t.Fatalf("expected interval 2m, got %s", cfg.ReconcileInterval)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://a.example" {
		t.Fatalf("unexpected origins: %#v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalidNumbers(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ACCURACY_MAX_M", "-3")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative accuracy threshold")
	}
}
