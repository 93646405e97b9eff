package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Field limits used by the packet catalogue.
const (
	MaxStringLength = 32767
	MaxChatLength   = 262144
	MaxByteArray    = MaxFrameLength
)

// Reader is a bounded cursor over one decoded packet body. It never reads
// past the end of its buffer.
type Reader struct {
	buf []byte
	off int
}

// NewReader creates a cursor over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

// Consumed returns the number of bytes read so far.
func (r *Reader) Consumed() int {
	return r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if n > r.Len() {
		return nil, fmt.Errorf("%w: need %d bytes, %d remain", ErrTruncatedFrame, n, r.Len())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) VarInt() (int32, error) {
	return ReadVarInt(r)
}

func (r *Reader) VarLong() (int64, error) {
	return ReadVarLong(r)
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, Violation("invalid boolean 0x%02X", b)
}

func (r *Reader) Int8() (int8, error) {
	b, err := r.ReadByte()
	return int8(b), err
}

func (r *Reader) Uint8() (uint8, error) {
	return r.ReadByte()
}

func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) Int32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) Int64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) Float32() (float32, error) {
	v, err := r.Int32()
	return math.Float32frombits(uint32(v)), err
}

func (r *Reader) Float64() (float64, error) {
	v, err := r.Int64()
	return math.Float64frombits(uint64(v)), err
}

// length reads a VarInt length prefix and bounds it by limit before any
// allocation happens.
func (r *Reader) length(limit int) (int, error) {
	n, err := r.VarInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrOversizedField, n)
	}
	if int(n) > limit {
		return 0, fmt.Errorf("%w: length %d exceeds %d", ErrOversizedField, n, limit)
	}
	return int(n), nil
}

// String reads a length prefixed UTF-8 string of at most maxChars UTF-16
// code units. The byte length is bounded by maxChars*4 before the body is
// touched.
func (r *Reader) String(maxChars int) (string, error) {
	n, err := r.length(maxChars * 4)
	if err != nil {
		return "", err
	}
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", Violation("string is not valid UTF-8")
	}
	s := string(b)
	if units := utf16Len(s); units > maxChars {
		return "", fmt.Errorf("%w: string of %d chars exceeds %d", ErrOversizedField, units, maxChars)
	}
	return s, nil
}

// ByteArray reads a VarInt prefixed byte slice of at most max bytes. The
// returned slice is a copy.
func (r *Reader) ByteArray(max int) ([]byte, error) {
	n, err := r.length(max)
	if err != nil {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *Reader) UUID() (uuid.UUID, error) {
	var id uuid.UUID
	b, err := r.take(16)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// Rest consumes and returns a copy of all remaining bytes.
func (r *Reader) Rest() []byte {
	out := make([]byte, r.Len())
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}

func utf16Len(s string) int {
	n := 0
	for _, c := range s {
		if c > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}
