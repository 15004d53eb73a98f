package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `api_addr: 127.0.0.1:7843
db_path: /tmp/reader/data.db
worker_binary: /opt/reader/reader-worker
watch_binary: true
refresh_interval: 30m
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIAddr != "127.0.0.1:7843" {
		t.Errorf("APIAddr = %q, want %q", cfg.APIAddr, "127.0.0.1:7843")
	}
	if cfg.DBPath != "/tmp/reader/data.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/reader/data.db")
	}
	if cfg.WorkerBinary != "/opt/reader/reader-worker" {
		t.Errorf("WorkerBinary = %q", cfg.WorkerBinary)
	}
	if !cfg.WatchBinary {
		t.Error("WatchBinary = false, want true")
	}
	if cfg.RefreshInterval.Std() != 30*time.Minute {
		t.Errorf("RefreshInterval = %v, want 30m", cfg.RefreshInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.APIAddr != "" || cfg.DBPath != "" {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIAddr != "" {
		t.Errorf("APIAddr = %q, want empty", cfg.APIAddr)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `api_addr: 127.0.0.1:7843
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIAddr != "127.0.0.1:7843" {
		t.Errorf("APIAddr = %q, want %q", cfg.APIAddr, "127.0.0.1:7843")
	}
	if cfg.DBPath != "" {
		t.Errorf("DBPath = %q, want empty", cfg.DBPath)
	}
}

func TestLoadCommentsOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `# api_addr: 127.0.0.1:7843
# watch_binary: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIAddr != "" || cfg.WatchBinary {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}
