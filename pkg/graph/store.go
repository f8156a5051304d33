// Package graph implements the TagDB property graph on top of a kv.Backend.
//
// A Store holds typed vertices (Tag, Path, Http), each identified by a random
// UUID and known by a property value, and directed "tags" edges from tags to
// the items they label. Every exported operation runs in exactly one backend
// transaction. Writes are serialized per Store, so the find-then-create step
// of FindOrCreate and TagItem can never produce duplicates within a process.
//
// Basic usage:
//
//	backend, _ := badgerkv.Open(badgerkv.DefaultConfig("./data"))
//	g := graph.NewStore(backend, graph.DefaultOptions())
//	if err := g.TagItem(ctx, "topic", "golang", "https://go.dev"); err != nil {
//	    log.Fatal(err)
//	}
package graph

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sanonone/tagdb/pkg/kv"
	"github.com/sanonone/tagdb/pkg/metrics"
)

// Options configures a Store.
type Options struct {
	// Limits bounds NeighborsAtDepth.
	Limits TraversalLimits

	// ReadRetries is the number of attempts for read-only operations
	// that fail with a transient backend error. 0 means 1.
	ReadRetries uint

	// RetryInitialInterval is the first backoff delay between read attempts.
	RetryInitialInterval time.Duration

	// ReindexBatchSize caps the writes per transaction during Reindex.
	ReindexBatchSize int

	// Stat decides whether a tagging target exists on disk. Defaults to os.Stat.
	Stat func(name string) (fs.FileInfo, error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		Limits:               DefaultTraversalLimits(),
		ReadRetries:          3,
		RetryInitialInterval: 10 * time.Millisecond,
		ReindexBatchSize:     1000,
		Stat:                 os.Stat,
	}
}

// Store is a handle on one graph. It is safe for concurrent use.
type Store struct {
	backend kv.Backend
	opts    Options
	logger  *slog.Logger

	// writeMu serializes read-write transactions.
	writeMu sync.Mutex
}

// NewStore wraps backend. The Store does not own the backend; closing it is
// the caller's job.
func NewStore(backend kv.Backend, opts Options) *Store {
	defaults := DefaultOptions()
	if opts.Limits.MaxHops <= 0 {
		opts.Limits.MaxHops = defaults.Limits.MaxHops
	}
	if opts.Limits.MaxFrontier <= 0 {
		opts.Limits.MaxFrontier = defaults.Limits.MaxFrontier
	}
	if opts.ReadRetries == 0 {
		opts.ReadRetries = 1
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = defaults.RetryInitialInterval
	}
	if opts.ReindexBatchSize <= 0 {
		opts.ReindexBatchSize = defaults.ReindexBatchSize
	}
	if opts.Stat == nil {
		opts.Stat = os.Stat
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, opts: opts, logger: logger}
}

// Limits returns the traversal limits in effect.
func (s *Store) Limits() TraversalLimits {
	return s.opts.Limits
}

// tx wraps a backend transaction and tallies what it created, so metrics
// are recorded only for committed work.
type tx struct {
	kv.Txn
	vertices []VertexType
	edges    []EdgeKind
	deleted  int
}

// update runs fn in one serialized read-write transaction.
func (s *Store) update(ctx context.Context, op string, fn func(*tx) error) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		err = wrapError(op, err)
		s.observe(op, start, err)
		return err
	}

	s.writeMu.Lock()
	var t *tx
	err := s.backend.Update(ctx, func(txn kv.Txn) error {
		t = &tx{Txn: txn}
		return fn(t)
	})
	s.writeMu.Unlock()

	err = wrapError(op, err)
	if err == nil && t != nil {
		for _, typ := range t.vertices {
			metrics.VerticesCreatedTotal.WithLabelValues(typ.String()).Inc()
		}
		for _, kind := range t.edges {
			metrics.EdgesCreatedTotal.WithLabelValues(kind.String()).Inc()
		}
		if t.deleted > 0 {
			metrics.VerticesDeletedTotal.Add(float64(t.deleted))
		}
	}
	if errors.Is(err, ErrDuplicateRisk) {
		s.logger.Warn("write rejected by concurrent transaction", "op", op, "error", err)
	}
	s.observe(op, start, err)
	return err
}

// view runs fn in a read-only transaction, retrying transient failures.
func (s *Store) view(ctx context.Context, op string, fn func(*tx) error) error {
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.backend.View(ctx, func(txn kv.Txn) error {
			return fn(&tx{Txn: txn})
		})
		if err == nil {
			return struct{}{}, nil
		}
		if isPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.logger.Debug("read failed, retrying", "op", op, "attempt", attempt, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.opts.ReadRetries))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	err = wrapError(op, err)
	s.observe(op, start, err)
	return err
}

func (s *Store) observe(op string, start time.Time, err error) {
	metrics.GraphOperationsTotal.WithLabelValues(op, statusLabel(err)).Inc()
	metrics.GraphOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
