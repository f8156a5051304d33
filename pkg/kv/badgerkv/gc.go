package badgerkv

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// GCRunner runs periodic value log garbage collection on a BadgerDB instance.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewGCRunner validates its inputs and returns a runner that is not yet started.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio <= 0 || ratio >= 1 {
		return nil, errors.New("ratio must be between 0 and 1 (exclusive)")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the GC goroutine. Subsequent calls are no-ops.
func (r *GCRunner) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

// Stop halts GC and waits for the goroutine to exit. Safe to call repeatedly.
func (r *GCRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.startOnce.Do(func() { close(r.doneCh) })
		<-r.doneCh
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *GCRunner) runGC() {
	err := r.db.RunValueLogGC(r.ratio)
	switch {
	case err == nil:
		r.logger.Debug("badger value log GC completed")
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
		// nothing to collect, or a GC is already in progress
	default:
		r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
	}
}
