// Package memkv implements kv.Backend as an ordered in-memory map made
// durable by an append-only log.
//
// Every committed transaction is appended to the log as one MULTI ... EXEC
// frame group and then applied to the in-memory B-tree. On Open the log is
// replayed; a trailing group that never reached EXEC is dropped, so a crash
// can lose the last commit but never expose half of it.
//
// Basic usage:
//
//	store, err := memkv.Open(memkv.DefaultOptions("./data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
package memkv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"

	"github.com/sanonone/tagdb/pkg/kv"
	"github.com/sanonone/tagdb/pkg/persistence"
)

// Options configures the store.
type Options struct {
	// DataDir is the directory holding the log. Created if missing.
	// Empty means a purely in-memory store with no log.
	DataDir string

	// AofFilename is the name of the log file (default: "tagdb.aof").
	AofFilename string

	// SyncWrites writes and fsyncs the log before a commit returns. When
	// false a commit is queued and the background writer flushes it within
	// 100ms and fsyncs it within a second; a crash can lose that window.
	SyncWrites bool

	// AofRewritePercentage triggers a log compaction when the file grew by
	// this percentage over its size after the last rewrite. 0 disables it.
	AofRewritePercentage int

	// MaintenanceInterval is how often the rewrite policy is evaluated.
	MaintenanceInterval time.Duration
}

// DefaultOptions returns a standard configuration for dataDir.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:              dataDir,
		AofFilename:          "tagdb.aof",
		SyncWrites:           true,
		AofRewritePercentage: 100,
		MaintenanceInterval:  10 * time.Second,
	}
}

type item struct {
	key   string
	value []byte
}

func itemLess(a, b item) bool {
	return a.key < b.key
}

// Store is the memkv backend.
type Store struct {
	// mu guards data. Readers hold it shared for a whole View; a commit
	// holds it exclusively only while applying its batch.
	mu   sync.RWMutex
	data *btree.BTreeG[item]

	// writeMu admits one read-write transaction at a time.
	writeMu sync.Mutex

	aof         *persistence.LazyAOFWriter
	opts        Options
	aofPath     string
	aofBaseSize atomic.Int64

	dirtyCounter int64

	closed    chan struct{}
	closeOnce sync.Once
	isClosed  atomic.Bool
	wg        sync.WaitGroup
}

// Open loads the log from opts.DataDir and starts background maintenance.
func Open(opts Options) (*Store, error) {
	s := &Store{
		data:   btree.NewBTreeGOptions(itemLess, btree.Options{NoLocks: true}),
		opts:   opts,
		closed: make(chan struct{}),
	}

	if opts.DataDir == "" {
		return s, nil
	}

	if opts.AofFilename == "" {
		opts.AofFilename = "tagdb.aof"
		s.opts.AofFilename = opts.AofFilename
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s.aofPath = filepath.Join(opts.DataDir, opts.AofFilename)

	validSize, err := s.replayAOF()
	if err != nil {
		return nil, fmt.Errorf("failed to replay AOF: %w", err)
	}

	aofWriter, err := persistence.NewAOFWriter(s.aofPath)
	if err != nil {
		return nil, err
	}
	if size := aofWriter.Size(); validSize < size {
		// Cut the torn tail so new groups are not appended after garbage.
		slog.Warn("AOF has a torn tail, truncating", "path", s.aofPath, "valid_bytes", validSize, "file_bytes", size)
		if err := aofWriter.TruncateTo(validSize); err != nil {
			aofWriter.Close()
			return nil, fmt.Errorf("truncate torn AOF tail: %w", err)
		}
	}
	s.aof = persistence.NewLazyAOFWriter(aofWriter)
	s.aofBaseSize.Store(s.aof.Size())

	s.wg.Add(1)
	go s.backgroundTasks()

	return s, nil
}

// Close stops maintenance and closes the log. Further calls are no-ops.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.isClosed.Store(true)
		close(s.closed)
		s.wg.Wait()

		// Wait for an in-flight commit.
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if s.aof != nil {
			err = s.aof.Close()
		}
	})
	return err
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}

// View implements kv.Backend.
func (s *Store) View(ctx context.Context, fn func(kv.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed.Load() {
		return kv.ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txn{store: s, readOnly: true})
}

// Update implements kv.Backend.
func (s *Store) Update(ctx context.Context, fn func(kv.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed.Load() {
		return kv.ErrClosed
	}

	t := &txn{store: s, pending: make(map[string]*[]byte)}
	// Only commit mutates the tree and it runs under writeMu, so reads
	// through t need no lock here.
	if err := fn(t); err != nil {
		return err
	}
	return s.commit(t)
}

// commit logs the transaction's writes as one group, then applies them.
func (s *Store) commit(t *txn) error {
	if len(t.pending) == 0 {
		return nil
	}

	keys := t.sortedPendingKeys()
	if s.aof != nil {
		batch := persistence.NewBatch()
		for _, k := range keys {
			if v := t.pending[k]; v != nil {
				batch.Set([]byte(k), *v)
			} else {
				batch.Delete([]byte(k))
			}
		}
		if err := batch.Err(); err != nil {
			return err
		}
		if s.opts.SyncWrites {
			// Commit removes the group from the log again if it fails, so an
			// error here leaves both the log and the tree untouched.
			if err := s.aof.Commit(batch.Bytes(), true); err != nil {
				return fmt.Errorf("persistence error (AOF commit failed): %w", err)
			}
		} else if err := s.aof.Write(batch.Bytes()); err != nil {
			return fmt.Errorf("persistence error (AOF write failed): %w", err)
		}
	}

	s.mu.Lock()
	for _, k := range keys {
		if v := t.pending[k]; v != nil {
			s.data.Set(item{key: k, value: *v})
		} else {
			s.data.Delete(item{key: k})
		}
	}
	s.mu.Unlock()

	atomic.AddInt64(&s.dirtyCounter, int64(len(keys)))
	return nil
}

// getCommitted reads the shared tree. Caller holds mu or writeMu.
func (s *Store) getCommitted(key string) ([]byte, bool) {
	it, ok := s.data.Get(item{key: key})
	if !ok {
		return nil, false
	}
	return it.value, true
}

// scanCommitted visits committed keys with prefix in order.
func (s *Store) scanCommitted(prefix string, fn func(item) bool) {
	s.data.Ascend(item{key: prefix}, func(it item) bool {
		if len(it.key) < len(prefix) || it.key[:len(prefix)] != prefix {
			return false
		}
		return fn(it)
	})
}

// backgroundTasks evaluates the rewrite policy periodically.
func (s *Store) backgroundTasks() {
	defer s.wg.Done()

	interval := s.opts.MaintenanceInterval
	if interval <= 0 {
		interval = 1 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.checkMaintenance()
		}
	}
}

// checkMaintenance rewrites the log when it outgrew the configured threshold.
func (s *Store) checkMaintenance() {
	if s.opts.AofRewritePercentage <= 0 || atomic.LoadInt64(&s.dirtyCounter) == 0 {
		return
	}

	currentSize := s.aof.Size()
	base := s.aofBaseSize.Load()
	threshold := base + (base * int64(s.opts.AofRewritePercentage) / 100)
	// Min threshold 1MB to avoid rewriting tiny files constantly
	if threshold < 1024*1024 {
		threshold = 1024 * 1024
	}
	if currentSize > threshold {
		if err := s.RewriteAOF(); err != nil {
			slog.Error("Background AOF rewrite failed", "error", err)
		}
	}
}
