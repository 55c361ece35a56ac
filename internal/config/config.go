// Package config provides unified configuration for all Trailmap services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeIngest Mode = "ingest"
	ModeQuery  Mode = "query"
)

// Config holds the unified configuration for all Trailmap services.
type Config struct {
	// Mode specifies which services to run: all, ingest, query
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Ingest service configuration
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Paths engine configuration
	Paths PathsConfig `json:"paths" yaml:"paths"`

	// Cache configuration
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Storage configuration for journal-segment archival
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// IngestConfig holds event ingest configuration.
type IngestConfig struct {
	// JournalDir is the directory for journal segments
	JournalDir string `json:"journal_dir" yaml:"journal_dir"`

	// JournalSegmentBytes is the size at which a journal segment is sealed
	JournalSegmentBytes int64 `json:"journal_segment_bytes" yaml:"journal_segment_bytes"`

	// ArchiveInterval is how often sealed segments are pushed to storage
	ArchiveInterval time.Duration `json:"archive_interval" yaml:"archive_interval"`
}

// PathsConfig holds path-engine configuration.
type PathsConfig struct {
	// Concurrency is the number of parallel per-person aggregation workers
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxStepsPerPerson caps a single person's sequence length.
	// 0 means unbounded.
	MaxStepsPerPerson int `json:"max_steps_per_person" yaml:"max_steps_per_person"`

	// DefaultPageLimit is the page size used when a request gives none
	DefaultPageLimit int `json:"default_page_limit" yaml:"default_page_limit"`
}

// CacheConfig holds result-cache configuration.
type CacheConfig struct {
	// Enabled controls whether aggregation results are cached
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxBytes is the byte budget for cached aggregation results
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/trailmap",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Ingest: IngestConfig{
			JournalDir:          "",
			JournalSegmentBytes: 16 * 1024 * 1024,
			ArchiveInterval:     time.Minute,
		},
		Paths: PathsConfig{
			Concurrency:       8,
			MaxStepsPerPerson: 0,
			DefaultPageLimit:  100,
		},
		Cache: CacheConfig{
			Enabled:  true,
			MaxBytes: 256 * 1024 * 1024,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/trailmap"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Ingest.JournalDir == "" {
		c.Ingest.JournalDir = filepath.Join(c.DataDir, "journal")
	}
}

// EventsPath returns the path to the events database.
func (c *Config) EventsPath() string {
	return filepath.Join(c.DataDir, "events.db")
}

// PersonsPath returns the path to the identity database.
func (c *Config) PersonsPath() string {
	return filepath.Join(c.DataDir, "persons.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIngest, ModeQuery:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, ingest, or query)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Paths.Concurrency < 1 {
		return fmt.Errorf("paths.concurrency must be at least 1, got %d", c.Paths.Concurrency)
	}

	if c.Paths.MaxStepsPerPerson < 0 {
		return fmt.Errorf("paths.max_steps_per_person must not be negative, got %d", c.Paths.MaxStepsPerPerson)
	}

	if c.Paths.DefaultPageLimit < 1 {
		return fmt.Errorf("paths.default_page_limit must be at least 1, got %d", c.Paths.DefaultPageLimit)
	}

	if c.Ingest.JournalSegmentBytes < 1024 {
		return fmt.Errorf("ingest.journal_segment_bytes must be at least 1024, got %d", c.Ingest.JournalSegmentBytes)
	}

	return nil
}

// EnsureDirectories creates the directories the configured services need.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Ingest.JournalDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ShouldRunIngest returns true if the ingest service should run.
func (c *Config) ShouldRunIngest() bool {
	return c.Mode == ModeAll || c.Mode == ModeIngest
}

// ShouldRunQuery returns true if the query service should run.
func (c *Config) ShouldRunQuery() bool {
	return c.Mode == ModeAll || c.Mode == ModeQuery
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides configuration from environment variables.
// Environment variables use the TRAILMAP_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TRAILMAP_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("TRAILMAP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TRAILMAP_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("TRAILMAP_PATHS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Paths.Concurrency = n
		}
	}
	if v := os.Getenv("TRAILMAP_PATHS_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Paths.MaxStepsPerPerson = n
		}
	}
	if v := os.Getenv("TRAILMAP_PATHS_DEFAULT_PAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Paths.DefaultPageLimit = n
		}
	}
	if v := os.Getenv("TRAILMAP_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TRAILMAP_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cache.MaxBytes = n
		}
	}
	if v := os.Getenv("TRAILMAP_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("TRAILMAP_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("TRAILMAP_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("TRAILMAP_ARCHIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.ArchiveInterval = d
		}
	}
}
