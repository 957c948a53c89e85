package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Fatalf("data dir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.DatabasePath != filepath.Join(dir, "skysync.db") {
		t.Fatalf("db path = %q", cfg.DatabasePath)
	}
	if cfg.LogLevel != "info" || cfg.MaxParallel != 3 {
		t.Fatalf("defaults = level:%q parallel:%d", cfg.LogLevel, cfg.MaxParallel)
	}
	if cfg.WatchDebounceMs != 2000 {
		t.Fatalf("debounce = %d, want 2000", cfg.WatchDebounceMs)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("log_level: debug\nmax_parallel: 8\ndatabase_path: /tmp/custom.db\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.LogLevel)
	}
	if cfg.MaxParallel != 8 {
		t.Fatalf("max parallel = %d, want 8", cfg.MaxParallel)
	}
	if cfg.DatabasePath != "/tmp/custom.db" {
		t.Fatalf("db path = %q", cfg.DatabasePath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("log_level: info\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SKYSYNC_LOG_LEVEL", "error")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("log level = %q, env must win", cfg.LogLevel)
	}
}

func TestMaxParallelClamped(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("max_parallel: 99\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxParallel != 10 {
		t.Fatalf("max parallel = %d, want clamped to 10", cfg.MaxParallel)
	}
}

func TestInvalidLogLevelRejected(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("log_level: shouty\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFrom(dir); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestTokenPath(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.TokenPath("abcd1234"); got != filepath.Join("/data", "tokens", "abcd1234.json") {
		t.Fatalf("token path = %q", got)
	}
}
