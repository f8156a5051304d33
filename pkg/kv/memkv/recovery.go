package memkv

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sanonone/tagdb/pkg/metrics"
	"github.com/sanonone/tagdb/pkg/persistence"
)

// replayAOF rebuilds the in-memory tree from the log and returns the number
// of leading bytes that hold complete commit groups.
func (s *Store) replayAOF() (int64, error) {
	file, err := os.Open(s.aofPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer file.Close()

	stats, err := persistence.Replay(file, func(rec persistence.Record) {
		switch rec.Op {
		case persistence.OpSet:
			s.data.Set(item{key: string(rec.Key), value: rec.Value})
		case persistence.OpDel:
			s.data.Delete(item{key: string(rec.Key)})
		}
	})
	if err != nil {
		return 0, err
	}
	if stats.Discarded > 0 {
		slog.Warn("AOF replay dropped an unterminated commit group", "path", s.aofPath, "records", stats.Discarded)
	}

	slog.Info("AOF replayed", "path", s.aofPath, "groups", stats.Groups, "records", stats.Records, "keys", s.data.Len())
	return stats.Offset, nil
}

// RewriteAOF compacts the log to one SET per live key.
// It blocks writers for the duration of the rewrite.
func (s *Store) RewriteAOF() error {
	if s.aof == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tempAof := filepath.Join(s.opts.DataDir, "rewrite.tmp")
	f, err := os.Create(tempAof)
	if err != nil {
		return err
	}
	defer os.Remove(tempAof)

	// The snapshot is a single commit group, streamed frame by frame.
	w := bufio.NewWriter(f)
	fw := persistence.NewFrameWriter(w)
	keys := 0
	err = fw.WriteFrame(persistence.OpMulti, nil)
	if err == nil {
		s.data.Scan(func(it item) bool {
			err = fw.WriteFrame(persistence.OpSet, persistence.EncodeKV([]byte(it.key), it.value))
			keys++
			return err == nil
		})
	}
	if err == nil {
		err = fw.WriteFrame(persistence.OpExec, nil)
	}
	if err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := s.aof.ReplaceWith(tempAof); err != nil {
		return err
	}

	size := s.aof.Size()
	s.aofBaseSize.Store(size)
	atomic.StoreInt64(&s.dirtyCounter, 0)
	metrics.AOFRewritesTotal.Inc()

	slog.Info("AOF rewritten", "path", s.aofPath, "keys", keys, "bytes", size)
	return nil
}
