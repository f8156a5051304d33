// Package engine provides the high-level, embedded interface for TagDB.
//
// It opens the configured storage backend from a data directory and exposes
// the tag graph on top of it, so a Go program can tag files and URLs without
// touching the storage layer directly.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	db, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.TagItem(ctx, "topic", "golang", "https://go.dev")
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sanonone/tagdb/pkg/graph"
	"github.com/sanonone/tagdb/pkg/kv"
	"github.com/sanonone/tagdb/pkg/kv/badgerkv"
	"github.com/sanonone/tagdb/pkg/kv/memkv"
)

// Supported storage backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Options configures the Engine, including the storage backend and its
// maintenance policies.
type Options struct {
	// DataDir is the directory holding the database files.
	// It is created automatically if it does not exist.
	DataDir string

	// Backend selects the storage engine: "badger" (default) or "memory".
	Backend string

	// InMemory keeps everything in RAM and ignores DataDir. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit before it returns.
	SyncWrites bool

	// GCInterval is how often the badger value log is garbage collected.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio for a badger value log rewrite.
	GCDiscardRatio float64

	// AofFilename is the log file of the memory backend (default: "tagdb.aof").
	AofFilename string

	// AofRewritePercentage triggers an automatic AOF compaction of the memory
	// backend when the file exceeds its base size by this percentage.
	// E.g., 100 means rewrite when size doubles. Set to 0 to disable.
	AofRewritePercentage int

	// MaintenanceInterval defines how often the memory backend checks the
	// rewrite policy. Default: 10 seconds.
	MaintenanceInterval time.Duration

	// Traversal bounds multi-hop queries.
	Traversal graph.TraversalLimits

	// Logger receives engine and backend logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns a standard configuration suitable for most use cases.
//
// Defaults:
//   - Backend: badger, synchronous writes
//   - GC: every 5 minutes at a 0.5 discard ratio
//   - AofRewrite: At 100% growth (memory backend)
//   - Traversal: 8 hops, 10000 vertices per level
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:              dataDir,
		Backend:              BackendBadger,
		SyncWrites:           true,
		GCInterval:           5 * time.Minute,
		GCDiscardRatio:       0.5,
		AofFilename:          "tagdb.aof",
		AofRewritePercentage: 100,
		MaintenanceInterval:  10 * time.Second,
		Traversal:            graph.DefaultTraversalLimits(),
	}
}

// Engine is the main entry point for TagDB.
// All graph operations (TagItem, FindRelated, NeighborsAtDepth, ...) are
// promoted from the embedded *graph.Store.
//
// Use Open() to initialize an Engine and Close() to shut it down gracefully.
type Engine struct {
	*graph.Store

	backend kv.Backend
	opts    Options

	closeOnce sync.Once
}

// Open initializes a new Engine using the provided options.
// It blocks until the backend has recovered its data and is ready.
func Open(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Backend = strings.ToLower(strings.TrimSpace(opts.Backend))
	if opts.Backend == "" {
		opts.Backend = BackendBadger
	}
	if !opts.InMemory && opts.DataDir == "" {
		return nil, errors.New("data directory is required")
	}

	backend, err := openBackend(opts)
	if err != nil {
		return nil, err
	}

	gopts := graph.DefaultOptions()
	gopts.Limits = opts.Traversal
	gopts.Logger = opts.Logger

	e := &Engine{
		Store:   graph.NewStore(backend, gopts),
		backend: backend,
		opts:    opts,
	}
	opts.Logger.Info("TagDB engine opened", "backend", opts.Backend, "data_dir", opts.DataDir, "in_memory", opts.InMemory)
	return e, nil
}

func openBackend(opts Options) (kv.Backend, error) {
	switch opts.Backend {
	case BackendBadger:
		cfg := badgerkv.DefaultConfig(opts.DataDir)
		if opts.InMemory {
			cfg = badgerkv.InMemoryConfig()
		}
		cfg.SyncWrites = opts.SyncWrites
		cfg.GCInterval = opts.GCInterval
		if opts.GCDiscardRatio > 0 && opts.GCDiscardRatio < 1 {
			cfg.GCDiscardRatio = opts.GCDiscardRatio
		}
		cfg.Logger = opts.Logger.With("component", "badger")
		store, err := badgerkv.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger backend: %w", err)
		}
		return store, nil

	case BackendMemory:
		mopts := memkv.Options{
			DataDir:              opts.DataDir,
			AofFilename:          opts.AofFilename,
			SyncWrites:           opts.SyncWrites,
			AofRewritePercentage: opts.AofRewritePercentage,
			MaintenanceInterval:  opts.MaintenanceInterval,
		}
		if opts.InMemory {
			mopts.DataDir = ""
		}
		store, err := memkv.Open(mopts)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory backend: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown backend %q (want %q or %q)", opts.Backend, BackendBadger, BackendMemory)
	}
}

// Options returns the options the engine was opened with.
func (e *Engine) Options() Options {
	return e.opts
}

// Compact reclaims disk space: an AOF rewrite for the memory backend, a
// value log GC pass for badger.
func (e *Engine) Compact() error {
	switch b := e.backend.(type) {
	case *memkv.Store:
		return b.RewriteAOF()
	case *badgerkv.Store:
		ratio := e.opts.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		return b.Compact(ratio)
	}
	return nil
}

// Close performs a clean shutdown of the Engine. Further calls are no-ops.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.backend.Close()
		e.opts.Logger.Info("TagDB engine closed", "backend", e.opts.Backend)
	})
	return err
}
