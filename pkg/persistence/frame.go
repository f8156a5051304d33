package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the AOF binary protocol.
const (
	// MagicByte is the marker used to identify the start of a valid frame.
	// It helps in scanning for recovery if the file is heavily corrupted.
	MagicByte = 0xA5

	// HeaderSize is the fixed size of the frame metadata:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32) = 10 bytes.
	HeaderSize = 10

	// MaxPayloadSize bounds a single frame. A header announcing more is
	// treated as corruption rather than allocated.
	MaxPayloadSize = 64 << 20
)

// OpCode identifies the kind of record carried by a frame.
type OpCode byte

const (
	// OpSet stores a key/value pair. Payload: EncodeKV(key, value).
	OpSet OpCode = 0x01
	// OpDel removes a key. Payload: the raw key.
	OpDel OpCode = 0x02
	// OpMulti opens a commit group. Payload: empty.
	OpMulti OpCode = 0x03
	// OpExec closes a commit group. Records between OpMulti and OpExec are
	// applied together or not at all.
	OpExec OpCode = 0x04
)

func (o OpCode) String() string {
	switch o {
	case OpSet:
		return "SET"
	case OpDel:
		return "DEL"
	case OpMulti:
		return "MULTI"
	case OpExec:
		return "EXEC"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrInvalidMagic indicates the file stream lost synchronization or is not a valid AOF.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended abruptly (e.g., power loss during write).
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrMalformedPayload indicates a SET payload whose length prefix is out of range.
	ErrMalformedPayload = errors.New("malformed frame payload")
	// ErrPayloadTooLarge indicates a frame longer than MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("frame payload too large")
)

// FrameWriter handles the safe writing of binary frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a writer that wraps an underlying io.Writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes the payload into a binary frame and writes it.
// Frame Format: [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)]
func (fw *FrameWriter) WriteFrame(op OpCode, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	_, err := fw.w.Write(AppendFrame(nil, op, payload))
	return err
}

// AppendFrame appends the encoded frame to dst and returns the extended slice.
// Building the whole frame in one buffer keeps header and payload in a single write.
func AppendFrame(dst []byte, op OpCode, payload []byte) []byte {
	var header [HeaderSize]byte
	header[0] = MagicByte
	header[1] = byte(op)
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// ReadFrame reads the next frame from the reader.
// It performs validation of the Magic Byte and the CRC32 Checksum.
// Returns the opcode, the payload, the total bytes read (header + payload), and an error.
func ReadFrame(r io.Reader) (OpCode, []byte, int, error) {
	header := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, header); err != nil {
		// EOF exactly at a frame boundary is a clean exit.
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return 0, nil, HeaderSize, ErrInvalidMagic
	}

	op := OpCode(header[1])
	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	if length > MaxPayloadSize {
		return 0, nil, HeaderSize, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, HeaderSize, ErrIncompleteFrame
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return 0, nil, HeaderSize + int(length), ErrChecksumMismatch
	}

	return op, payload, HeaderSize + int(length), nil
}

// EncodeKV packs a key/value pair as [KeyLen uvarint][Key][Value].
func EncodeKV(key, value []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen32+len(key)+len(value))
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	buf = append(buf, key...)
	return append(buf, value...)
}

// DecodeKV is the inverse of EncodeKV. The returned slices alias payload.
func DecodeKV(payload []byte) (key, value []byte, err error) {
	n, read := binary.Uvarint(payload)
	if read <= 0 || n > uint64(len(payload)-read) {
		return nil, nil, ErrMalformedPayload
	}
	start := read
	end := start + int(n)
	return payload[start:end], payload[end:], nil
}
