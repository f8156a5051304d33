// Package config loads the TagDB YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/tagdb/pkg/engine"
	"github.com/sanonone/tagdb/pkg/graph"
)

// Config mirrors the YAML file. Zero values are replaced by defaults.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	Backend    string `yaml:"backend"`
	SyncWrites bool   `yaml:"sync_writes"`

	// Badger value log GC.
	GCInterval     time.Duration `yaml:"gc_interval"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio"`

	// Memory backend AOF compaction.
	AofRewritePercentage int           `yaml:"aof_rewrite_percentage"`
	MaintenanceInterval  time.Duration `yaml:"maintenance_interval"`

	Traversal TraversalConfig `yaml:"traversal"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// TraversalConfig bounds multi-hop queries.
type TraversalConfig struct {
	MaxHops     int `yaml:"max_hops"`
	MaxFrontier int `yaml:"max_frontier"`
}

// DefaultConfig returns a working configuration storing data in ./tagdb_data.
func DefaultConfig() Config {
	limits := graph.DefaultTraversalLimits()
	return Config{
		DataDir:              "tagdb_data",
		Backend:              engine.BackendBadger,
		SyncWrites:           true,
		GCInterval:           5 * time.Minute,
		GCDiscardRatio:       0.5,
		AofRewritePercentage: 100,
		MaintenanceInterval:  10 * time.Second,
		Traversal: TraversalConfig{
			MaxHops:     limits.MaxHops,
			MaxFrontier: limits.MaxFrontier,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads the YAML configuration file using strict parsing.
// An empty path or a missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	// 1. Open File
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	// 2. Setup Strict Decoder
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	// 3. Decode (an empty file keeps the defaults)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects values no backend can work with.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case engine.BackendBadger, engine.BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio >= 1 {
		return fmt.Errorf("config: gc_discard_ratio must be in [0, 1), got %v", c.GCDiscardRatio)
	}
	if c.AofRewritePercentage < 0 {
		return fmt.Errorf("config: aof_rewrite_percentage must not be negative")
	}
	if c.Traversal.MaxHops < 0 || c.Traversal.MaxFrontier < 0 {
		return fmt.Errorf("config: traversal limits must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ToOptions converts the configuration to engine options.
func (c Config) ToOptions() engine.Options {
	opts := engine.DefaultOptions(c.DataDir)
	opts.Backend = c.Backend
	opts.SyncWrites = c.SyncWrites
	opts.GCInterval = c.GCInterval
	if c.GCDiscardRatio > 0 {
		opts.GCDiscardRatio = c.GCDiscardRatio
	}
	opts.AofRewritePercentage = c.AofRewritePercentage
	if c.MaintenanceInterval > 0 {
		opts.MaintenanceInterval = c.MaintenanceInterval
	}
	opts.Traversal = graph.TraversalLimits{
		MaxHops:     c.Traversal.MaxHops,
		MaxFrontier: c.Traversal.MaxFrontier,
	}
	return opts
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
}
