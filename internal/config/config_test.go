package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	if cfg.DefaultJobTTL != time.Hour {
		t.Fatalf("expected 1h default job ttl, got %s", cfg.DefaultJobTTL)
	}
	if cfg.DefaultHistoryCap != 1000 {
		t.Fatalf("expected 1000 default history cap, got %d", cfg.DefaultHistoryCap)
	}
	if cfg.DefaultStdoutBufferCap != 200_000 {
		t.Fatalf("expected 200000 default stdout buffer cap, got %d", cfg.DefaultStdoutBufferCap)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("expected 24h idempotency ttl, got %s", cfg.IdempotencyTTL)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults when file missing, got %+v", cfg)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "shared_pool_size: 8\ndefault_history_cap: 50\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SharedPoolSize != 8 {
		t.Fatalf("expected shared_pool_size 8, got %d", cfg.SharedPoolSize)
	}
	if cfg.DefaultHistoryCap != 50 {
		t.Fatalf("expected default_history_cap 50, got %d", cfg.DefaultHistoryCap)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("expected untouched field to keep default, got %s", cfg.IdempotencyTTL)
	}
}

func TestEnvOverrideWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	_ = os.WriteFile(path, []byte("shared_pool_size: 8\n"), 0o644)
	t.Setenv("ROUTILUX_SHARED_POOL_SIZE", "16")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SharedPoolSize != 16 {
		t.Fatalf("expected env override to win, got %d", cfg.SharedPoolSize)
	}
}

func TestEnvOverrideIgnoresUnparseableValue(t *testing.T) {
	t.Setenv("ROUTILUX_SHARED_POOL_SIZE", "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SharedPoolSize != Default().SharedPoolSize {
		t.Fatalf("expected unparseable env var to fall back to default, got %d", cfg.SharedPoolSize)
	}
}
