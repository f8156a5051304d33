// Package badgerkv implements kv.Backend on top of BadgerDB.
//
// BadgerDB gives TagDB crash-safe storage with serializable snapshot
// isolation: a read-write transaction that read a key another transaction
// committed in the meantime fails with kv.ErrConflict instead of committing.
package badgerkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sanonone/tagdb/pkg/kv"
)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit before Update returns.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a kv.Backend backed by a BadgerDB instance.
type Store struct {
	db       *badger.DB
	gcRunner *GCRunner
	path     string
}

// Open opens (or creates) a BadgerDB store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, path: cfg.Path}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gcRunner = runner
		runner.Start()
	}

	slog.Debug("badger store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return s, nil
}

// Path returns the database directory, empty for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// View implements kv.Backend.
func (s *Store) View(ctx context.Context, fn func(kv.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(s.db.View(func(txn *badger.Txn) error {
		return fn(&txnAdapter{txn: txn, readOnly: true})
	}))
}

// Update implements kv.Backend.
func (s *Store) Update(ctx context.Context, fn func(kv.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(s.db.Update(func(txn *badger.Txn) error {
		return fn(&txnAdapter{txn: txn})
	}))
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gcRunner != nil {
		s.gcRunner.Stop()
	}
	return s.db.Close()
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %v", kv.ErrConflict, err)
	case errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %v", kv.ErrClosed, err)
	default:
		return err
	}
}

// txnAdapter exposes a badger.Txn as a kv.Txn.
type txnAdapter struct {
	txn      *badger.Txn
	readOnly bool
}

func (t *txnAdapter) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *txnAdapter) Set(key, value []byte) error {
	if t.readOnly {
		return kv.ErrReadOnly
	}
	return t.txn.Set(key, value)
}

func (t *txnAdapter) Delete(key []byte) error {
	if t.readOnly {
		return kv.ErrReadOnly
	}
	return t.txn.Delete(key)
}

func (t *txnAdapter) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			if errors.Is(err, kv.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Compact runs one value log GC pass with the given discard ratio.
// Having nothing to collect is not an error.
func (s *Store) Compact(ratio float64) error {
	err := s.db.RunValueLogGC(ratio)
	switch {
	case err == nil:
		slog.Info("badger value log compacted", "path", s.path)
		return nil
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected), errors.Is(err, badger.ErrGCInMemoryMode):
		return nil
	default:
		return mapError(err)
	}
}
