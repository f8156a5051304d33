package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Batch accumulates the records of one commit and encodes them as a
// MULTI ... EXEC frame group.
type Batch struct {
	buf []byte
	n   int
	err error
}

// NewBatch starts an empty commit group.
func NewBatch() *Batch {
	return &Batch{buf: AppendFrame(nil, OpMulti, nil)}
}

// Set records a key/value write.
func (b *Batch) Set(key, value []byte) {
	b.add(OpSet, EncodeKV(key, value))
}

// Delete records a key removal.
func (b *Batch) Delete(key []byte) {
	b.add(OpDel, key)
}

func (b *Batch) add(op OpCode, payload []byte) {
	if len(payload) > MaxPayloadSize {
		if b.err == nil {
			b.err = fmt.Errorf("%s record of %d bytes: %w", op, len(payload), ErrPayloadTooLarge)
		}
		return
	}
	b.buf = AppendFrame(b.buf, op, payload)
	b.n++
}

// Err reports a record that could not be added. A batch with an error must
// not be written.
func (b *Batch) Err() error {
	return b.err
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return b.n
}

// Bytes terminates the group and returns its encoding.
func (b *Batch) Bytes() []byte {
	return AppendFrame(b.buf, OpExec, nil)
}

// Record is one decoded write.
type Record struct {
	Op    OpCode
	Key   []byte
	Value []byte
}

// ReplayStats summarises a replay pass.
type ReplayStats struct {
	Groups    int
	Records   int
	Discarded int   // records of a trailing group that never reached EXEC
	Offset    int64 // bytes of the file covered by complete groups
}

// Replay reads frame groups from r and calls apply for every record of every
// complete group, in file order. A torn or corrupt tail ends the replay
// without error; the records of the unfinished group are discarded.
func Replay(r io.Reader, apply func(Record)) (ReplayStats, error) {
	var (
		stats   ReplayStats
		pending []Record
		inGroup bool
		offset  int64
	)

	reader := bufio.NewReader(r)
	for {
		op, payload, n, err := ReadFrame(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, ErrIncompleteFrame) || errors.Is(err, ErrChecksumMismatch) ||
				errors.Is(err, ErrInvalidMagic) || errors.Is(err, ErrPayloadTooLarge) {
				break
			}
			return stats, err
		}
		offset += int64(n)

		switch op {
		case OpMulti:
			// A MULTI inside an open group means the previous group was torn.
			stats.Discarded += len(pending)
			pending = pending[:0]
			inGroup = true
		case OpSet:
			if !inGroup {
				return stats, fmt.Errorf("SET outside of commit group at offset %d", offset)
			}
			key, value, err := DecodeKV(payload)
			if err != nil {
				return stats, fmt.Errorf("decoding SET at offset %d: %w", offset, err)
			}
			pending = append(pending, Record{Op: OpSet, Key: key, Value: value})
		case OpDel:
			if !inGroup {
				return stats, fmt.Errorf("DEL outside of commit group at offset %d", offset)
			}
			pending = append(pending, Record{Op: OpDel, Key: payload})
		case OpExec:
			if !inGroup {
				return stats, fmt.Errorf("EXEC without MULTI at offset %d", offset)
			}
			for _, rec := range pending {
				apply(rec)
			}
			stats.Groups++
			stats.Records += len(pending)
			stats.Offset = offset
			pending = pending[:0]
			inGroup = false
		default:
			return stats, fmt.Errorf("unknown opcode 0x%02x at offset %d", byte(op), offset)
		}
	}

	stats.Discarded += len(pending)
	return stats, nil
}
