package persistence

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAOFWriter_SizeTracksBufferedBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.aof")
	w, err := NewAOFWriter(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write([]byte("hello")))
	assert.Equal(t, int64(5), w.Size())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size(), "bytes stay buffered until flush")

	require.NoError(t, w.Sync())
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
}

func TestAOFWriter_TruncateTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.aof")
	w, err := NewAOFWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Write([]byte("goodtorn")))
	require.NoError(t, w.TruncateTo(4))
	assert.Equal(t, int64(4), w.Size())
	assert.Error(t, w.TruncateTo(10))

	require.NoError(t, w.Write([]byte("more")))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "goodmore", string(data))
}

func TestAOFWriter_ReplaceWith(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.aof")
	w, err := NewAOFWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte("old old old")))

	tmp := filepath.Join(dir, "rewrite.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0644))
	require.NoError(t, w.ReplaceWith(tmp))
	assert.Equal(t, int64(3), w.Size())

	require.NoError(t, w.Write([]byte("!")))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new!", string(data))
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

var errDiskFull = errors.New("disk full")

// shortWriter passes the first n bytes to w and then fails.
type shortWriter struct {
	w io.Writer
	n int
}

func (s *shortWriter) Write(p []byte) (int, error) {
	n := min(len(p), s.n)
	written, _ := s.w.Write(p[:n])
	s.n -= written
	return written, errDiskFull
}

func group(key string) []byte {
	b := NewBatch()
	b.Set([]byte(key), []byte("value-of-"+key))
	return b.Bytes()
}

func TestLazyWriter_FailedCommitLeavesNoTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.aof")
	base, err := NewAOFWriter(path)
	require.NoError(t, err)
	lw := NewLazyAOFWriterWithConfig(base, time.Hour, time.Hour, 1000)

	first := group("first")
	require.NoError(t, lw.Commit(first, true))

	// Let a few bytes of the next group reach the file before failing.
	base.mu.Lock()
	base.buf = bufio.NewWriterSize(&shortWriter{w: base.file, n: 7}, 16)
	base.mu.Unlock()

	err = lw.Commit(group("lost"), true)
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, int64(len(first)), lw.Size())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(first)), info.Size(), "partial group must be cut from the file")

	// The writer is usable again and the failed group never resurfaces.
	require.NoError(t, lw.Commit(group("after"), false))
	require.NoError(t, lw.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	recs, stats := collect(t, data)
	require.Len(t, recs, 2)
	assert.Equal(t, "first", string(recs[0].Key))
	assert.Equal(t, "after", string(recs[1].Key))
	assert.Equal(t, 0, stats.Discarded)
	assert.Equal(t, int64(len(data)), stats.Offset)
}

func TestLazyWriter_FailedFlushDoesNotDuplicateGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.aof")
	base, err := NewAOFWriter(path)
	require.NoError(t, err)
	lw := NewLazyAOFWriterWithConfig(base, time.Hour, time.Hour, 1000)

	require.NoError(t, lw.Write(group("a")))
	require.NoError(t, lw.Write(group("b")))

	base.mu.Lock()
	base.buf = bufio.NewWriterSize(&shortWriter{w: base.file, n: 20}, 16)
	base.mu.Unlock()
	require.ErrorIs(t, lw.Flush(), errDiskFull)

	// Queued groups survive the failed flush and are written exactly once.
	require.NoError(t, lw.Flush())
	require.NoError(t, lw.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	recs, _ := collect(t, data)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", string(recs[0].Key))
	assert.Equal(t, "b", string(recs[1].Key))
}
