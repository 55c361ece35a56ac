// Package main implements the trailmap binary. It runs the ingest and
// query services together or individually based on the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/trailmap/trailmap/internal/app"
	"github.com/trailmap/trailmap/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Service mode: all, ingest, query")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Trailmap - Path Sequence & Aggregation Engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: trailmap [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  trailmap --data-dir /data/trailmap\n")
		fmt.Fprintf(os.Stderr, "  trailmap --mode query --http-addr :8090\n")
		fmt.Fprintf(os.Stderr, "  trailmap --config /etc/trailmap/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from .env):\n")
		fmt.Fprintf(os.Stderr, "  TRAILMAP_MODE             Service mode (all, ingest, query)\n")
		fmt.Fprintf(os.Stderr, "  TRAILMAP_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  TRAILMAP_HTTP_ADDR        HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  TRAILMAP_STORAGE_TYPE     Storage type (local, s3)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("trailmap version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	log := newLogger(logLevel)

	// A local .env is optional; absence is not an error.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded environment from .env")
	}

	cfg, err := loadConfig(configFile, dataDir, mode, httpAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create application")
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("trailmap exited with error")
	}
}

// loadConfig layers file, environment, and flags, flags winning.
func loadConfig(configFile, dataDir, mode, httpAddr string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "trailmap").
		Logger()
}
