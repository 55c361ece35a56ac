package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "compact" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"zero concurrency", func(c *Config) { c.Paths.Concurrency = 0 }},
		{"negative step cap", func(c *Config) { c.Paths.MaxStepsPerPerson = -1 }},
		{"zero page limit", func(c *Config) { c.Paths.DefaultPageLimit = 0 }},
		{"tiny journal segment", func(c *Config) { c.Ingest.JournalSegmentBytes = 100 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestResolveFillsPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/trailmap-test"
	cfg.Resolve()

	if cfg.Ingest.JournalDir != filepath.Join(cfg.DataDir, "journal") {
		t.Errorf("journal dir not resolved: %q", cfg.Ingest.JournalDir)
	}
	if cfg.Storage.Path != filepath.Join(cfg.DataDir, "storage") {
		t.Errorf("storage path not resolved: %q", cfg.Storage.Path)
	}
	if cfg.EventsPath() != filepath.Join(cfg.DataDir, "events.db") {
		t.Errorf("events path = %q", cfg.EventsPath())
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trailmap.yaml")
	content := []byte(`
mode: query
data_dir: /var/lib/trailmap
paths:
  concurrency: 4
  default_page_limit: 25
cache:
  enabled: false
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Mode != ModeQuery {
		t.Errorf("mode = %q, want query", cfg.Mode)
	}
	if cfg.Paths.Concurrency != 4 || cfg.Paths.DefaultPageLimit != 25 {
		t.Errorf("paths config not applied: %+v", cfg.Paths)
	}
	if cfg.Cache.Enabled {
		t.Error("cache.enabled should be false")
	}
	// Untouched fields keep their defaults
	if cfg.HTTP.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout default lost: %v", cfg.HTTP.ReadTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRAILMAP_MODE", "ingest")
	t.Setenv("TRAILMAP_PATHS_CONCURRENCY", "3")
	t.Setenv("TRAILMAP_CACHE_ENABLED", "false")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Mode != ModeIngest {
		t.Errorf("mode = %q, want ingest", cfg.Mode)
	}
	if cfg.Paths.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", cfg.Paths.Concurrency)
	}
	if cfg.Cache.Enabled {
		t.Error("cache.enabled should be false")
	}
}
