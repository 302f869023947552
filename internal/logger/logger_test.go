package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeRedactsSecrets(t *testing.T) {
	out := sanitize([]interface{}{"user_id", "u1", "cron_secret", "abc", "Authorization", "Bearer x", "dangling"})

	if out[1] != "u1" {
		t.Fatalf("expected user_id untouched, got %v", out[1])
	}
	if out[3] != "[REDACTED]" || out[5] != "[REDACTED]" {
		t.Fatalf("expected secrets redacted, got %#v", out)
	}
	if out[len(out)-1] != "dangling" {
		t.Fatalf("expected odd trailing key preserved, got %#v", out)
	}
}

func TestNewWritesRollingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	log, err := New(Options{Level: "debug", Path: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Info("reconcile finished", "processed", 3)
	log.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "reconcile finished") {
		t.Fatalf("expected log line in file, got %q", string(raw))
	}
}
