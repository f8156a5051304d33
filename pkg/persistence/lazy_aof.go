package persistence

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LazyAOFWriter batches commit groups in memory and hands them to the
// underlying AOFWriter periodically or when the buffer fills up.
//
// Durability guarantees:
//   - Commit groups are flushed to the OS every FlushInterval (default 100ms)
//     or as soon as MaxBufferSize groups are pending.
//   - A forced fsync runs every ForceSyncInterval (default 1s).
//   - Close flushes and syncs everything still pending.
//
// Callers that need a group on disk before returning call Sync (or Flush for
// OS-level durability) right after Write.
type LazyAOFWriter struct {
	underlying *AOFWriter

	mu      sync.Mutex
	buffer  [][]byte
	stopped bool
	// failed is set when a rollback could not restore the file; every
	// later write returns it.
	failed error

	flushTicker *time.Ticker
	syncTicker  *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup

	flushInterval     time.Duration
	forceSyncInterval time.Duration
	maxBufferSize     int
}

// Default configuration constants for LazyAOFWriter.
const (
	DefaultLazyFlushInterval = 100 * time.Millisecond
	DefaultForceSyncInterval = 1 * time.Second
	DefaultMaxBufferSize     = 1000
)

// NewLazyAOFWriter wraps an existing AOFWriter with the default batching policy.
// The underlying AOFWriter should not be used directly after wrapping it.
func NewLazyAOFWriter(underlying *AOFWriter) *LazyAOFWriter {
	return NewLazyAOFWriterWithConfig(
		underlying,
		DefaultLazyFlushInterval,
		DefaultForceSyncInterval,
		DefaultMaxBufferSize,
	)
}

// NewLazyAOFWriterWithConfig creates a lazy writer with custom intervals.
func NewLazyAOFWriterWithConfig(
	underlying *AOFWriter,
	flushInterval time.Duration,
	forceSyncInterval time.Duration,
	maxBufferSize int,
) *LazyAOFWriter {
	lw := &LazyAOFWriter{
		underlying:        underlying,
		buffer:            make([][]byte, 0, maxBufferSize),
		flushInterval:     flushInterval,
		forceSyncInterval: forceSyncInterval,
		maxBufferSize:     maxBufferSize,
		stopCh:            make(chan struct{}),
	}

	lw.flushTicker = time.NewTicker(flushInterval)
	lw.syncTicker = time.NewTicker(forceSyncInterval)
	lw.wg.Add(2)
	go lw.flushRoutine()
	go lw.syncRoutine()

	slog.Debug("LazyAOFWriter initialized",
		"path", underlying.Path(),
		"flush_interval", flushInterval,
		"sync_interval", forceSyncInterval,
		"max_buffer_size", maxBufferSize,
	)

	return lw
}

// Write queues one commit group. The group is written to the file as a
// single unit, never interleaved with another group.
func (lw *LazyAOFWriter) Write(group []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.writableUnlocked(); err != nil {
		return err
	}

	lw.buffer = append(lw.buffer, group)
	if len(lw.buffer) >= lw.maxBufferSize {
		return lw.flushUnlocked()
	}
	return nil
}

// Commit writes group straight through to the file, fsyncing it when fsync
// is set. On failure the group is removed again, from the queue and from
// the file, so a commit reported as failed is never replayed.
func (lw *LazyAOFWriter) Commit(group []byte, fsync bool) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.writableUnlocked(); err != nil {
		return err
	}
	if err := lw.flushUnlocked(); err != nil {
		return err
	}

	mark := lw.underlying.Size()
	err := lw.underlying.Write(group)
	if err == nil {
		err = lw.underlying.Flush()
	}
	if err == nil && fsync {
		err = lw.underlying.Sync()
	}
	if err == nil {
		return nil
	}

	if rbErr := lw.underlying.Rollback(mark); rbErr != nil {
		lw.failed = fmt.Errorf("AOF rollback to offset %d failed: %w", mark, rbErr)
		slog.Error("AOF is unusable after a failed commit", "path", lw.underlying.Path(), "error", lw.failed)
	}
	return err
}

func (lw *LazyAOFWriter) writableUnlocked() error {
	if lw.stopped {
		return fmt.Errorf("cannot write to closed LazyAOFWriter")
	}
	return lw.failed
}

// Flush writes all buffered groups to the OS. It does not fsync.
func (lw *LazyAOFWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	return lw.flushUnlocked()
}

// flushUnlocked performs the actual flush. Caller must hold the mutex.
func (lw *LazyAOFWriter) flushUnlocked() error {
	if len(lw.buffer) == 0 {
		return nil
	}

	if lw.failed != nil {
		return lw.failed
	}

	// Groups are dropped from the queue only once they reached the file,
	// and a failed batch is cut from the file, so a retry cannot write a
	// group twice.
	mark := lw.underlying.Size()
	var err error
	for _, group := range lw.buffer {
		if err = lw.underlying.Write(group); err != nil {
			err = fmt.Errorf("failed to write to AOF: %w", err)
			break
		}
	}
	if err == nil {
		if err = lw.underlying.Flush(); err != nil {
			err = fmt.Errorf("failed to flush AOF buffer: %w", err)
		}
	}
	if err != nil {
		if rbErr := lw.underlying.Rollback(mark); rbErr != nil {
			lw.failed = fmt.Errorf("AOF rollback to offset %d failed: %w", mark, rbErr)
		}
		return err
	}

	lw.buffer = lw.buffer[:0]
	return nil
}

// Sync flushes pending groups and fsyncs the file.
func (lw *LazyAOFWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}
	return lw.underlying.Sync()
}

// Close stops the background routines, flushes pending data and closes the file.
func (lw *LazyAOFWriter) Close() error {
	lw.mu.Lock()
	if lw.stopped {
		lw.mu.Unlock()
		return fmt.Errorf("LazyAOFWriter already closed")
	}
	lw.stopped = true
	lw.mu.Unlock()

	close(lw.stopCh)
	lw.flushTicker.Stop()
	lw.syncTicker.Stop()
	lw.wg.Wait()

	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		slog.Error("Failed to flush during Close", "error", err)
	}
	return lw.underlying.Close()
}

// Path returns the file path of the underlying AOF writer.
func (lw *LazyAOFWriter) Path() string {
	return lw.underlying.Path()
}

// Size returns the size the log will have once every pending group is flushed.
func (lw *LazyAOFWriter) Size() int64 {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	size := lw.underlying.Size()
	for _, group := range lw.buffer {
		size += int64(len(group))
	}
	return size
}

// ReplaceWith flushes pending groups and swaps in a rewritten file.
func (lw *LazyAOFWriter) ReplaceWith(newFilePath string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}
	return lw.underlying.ReplaceWith(newFilePath)
}

func (lw *LazyAOFWriter) flushRoutine() {
	defer lw.wg.Done()
	for {
		select {
		case <-lw.flushTicker.C:
			if err := lw.Flush(); err != nil {
				slog.Error("Periodic flush failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}

func (lw *LazyAOFWriter) syncRoutine() {
	defer lw.wg.Done()
	for {
		select {
		case <-lw.syncTicker.C:
			if err := lw.Sync(); err != nil {
				slog.Error("Periodic sync failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}
