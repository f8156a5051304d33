package persistence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// AOFWriter appends encoded commit groups to the log file.
//
// It tracks the logical size of the log, i.e. bytes on disk plus bytes still
// sitting in its buffer, so growth checks need no stat call.
type AOFWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	size int64
}

func openLog(path string) (*os.File, int64, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, info.Size(), nil
}

// NewAOFWriter opens or creates the log at path, positioned at its end.
func NewAOFWriter(path string) (*AOFWriter, error) {
	file, size, err := openLog(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open AOF file: %w", err)
	}
	return &AOFWriter{
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, 64*1024),
		size: size,
	}, nil
}

// Write buffers data. It reaches the file on Flush, Sync or when the buffer fills.
func (a *AOFWriter) Write(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, err := a.buf.Write(data)
	a.size += int64(n)
	return err
}

// Flush hands buffered bytes to the OS.
func (a *AOFWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Flush()
}

// Sync flushes and fsyncs.
func (a *AOFWriter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close flushes and closes the file.
func (a *AOFWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	flushErr := a.buf.Flush()
	closeErr := a.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// TruncateTo discards everything past offset, e.g. a torn group left by a
// crash, so the next group is appended right after the last valid one.
func (a *AOFWriter) TruncateTo(offset int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		return err
	}
	if offset < 0 || offset > a.size {
		return fmt.Errorf("truncate offset %d out of range [0, %d]", offset, a.size)
	}
	if err := a.file.Truncate(offset); err != nil {
		return err
	}
	if _, err := a.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if err := a.file.Sync(); err != nil {
		return err
	}
	a.size = offset
	return nil
}

// Rollback drops buffered bytes and cuts the file back to offset. It undoes
// a group whose write or sync failed, including any part of it that reached
// the file before the failure.
func (a *AOFWriter) Rollback(offset int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Reset(a.file)
	info, err := a.file.Stat()
	if err != nil {
		return err
	}
	if offset < 0 || offset > info.Size() {
		return fmt.Errorf("rollback offset %d out of range [0, %d]", offset, info.Size())
	}
	if err := a.file.Truncate(offset); err != nil {
		return err
	}
	if _, err := a.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if err := a.file.Sync(); err != nil {
		return err
	}
	a.size = offset
	return nil
}

// Path returns the file path.
func (a *AOFWriter) Path() string {
	return a.path
}

// Size returns the logical size of the log in bytes.
func (a *AOFWriter) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// ReplaceWith atomically renames newFilePath over the log and continues
// appending to the new file. Used at the end of a rewrite.
func (a *AOFWriter) ReplaceWith(newFilePath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		return err
	}
	if err := os.Rename(newFilePath, a.path); err != nil {
		return fmt.Errorf("failed to replace AOF file: %w", err)
	}
	// The old descriptor still points at the unlinked file.
	_ = a.file.Close()

	file, size, err := openLog(a.path)
	if err != nil {
		return fmt.Errorf("failed to reopen AOF file after replace: %w", err)
	}
	a.file = file
	a.buf.Reset(file)
	a.size = size
	return nil
}
