package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Builder constructs packet bodies. Methods chain; the first encoding
// failure is kept and later writes become no-ops, so callers check Err once
// after the last write.
type Builder struct {
	buf []byte
	err error
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 64)}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.err = nil
}

// Err returns the first encoding error, if any.
func (b *Builder) Err() error {
	return b.err
}

// Bytes returns the encoded body.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes written.
func (b *Builder) Len() int {
	return len(b.buf)
}

func (b *Builder) fail(format string, args ...any) *Builder {
	if b.err == nil {
		b.err = fmt.Errorf("%w: %s", ErrValueOutOfRange, fmt.Sprintf(format, args...))
	}
	return b
}

func (b *Builder) VarInt(v int32) *Builder {
	if b.err == nil {
		b.buf = AppendVarInt(b.buf, v)
	}
	return b
}

func (b *Builder) VarLong(v int64) *Builder {
	if b.err == nil {
		b.buf = AppendVarLong(b.buf, v)
	}
	return b
}

// Length writes a non-negative int as a VarInt.
func (b *Builder) Length(n int) *Builder {
	if n < 0 || n > math.MaxInt32 {
		return b.fail("length %d outside VarInt range", n)
	}
	return b.VarInt(int32(n))
}

func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.Uint8(1)
	}
	return b.Uint8(0)
}

func (b *Builder) Int8(v int8) *Builder {
	return b.Uint8(uint8(v))
}

func (b *Builder) Uint8(v uint8) *Builder {
	if b.err == nil {
		b.buf = append(b.buf, v)
	}
	return b
}

func (b *Builder) Int16(v int16) *Builder {
	return b.Uint16(uint16(v))
}

func (b *Builder) Uint16(v uint16) *Builder {
	if b.err == nil {
		b.buf = binary.BigEndian.AppendUint16(b.buf, v)
	}
	return b
}

func (b *Builder) Int32(v int32) *Builder {
	if b.err == nil {
		b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(v))
	}
	return b
}

func (b *Builder) Int64(v int64) *Builder {
	if b.err == nil {
		b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v))
	}
	return b
}

func (b *Builder) Float32(v float32) *Builder {
	return b.Int32(int32(math.Float32bits(v)))
}

func (b *Builder) Float64(v float64) *Builder {
	return b.Int64(int64(math.Float64bits(v)))
}

// String writes a length prefixed UTF-8 string of at most maxChars UTF-16
// code units.
func (b *Builder) String(s string, maxChars int) *Builder {
	if units := utf16Len(s); units > maxChars {
		return b.fail("string of %d chars exceeds %d", units, maxChars)
	}
	return b.Length(len(s)).Raw([]byte(s))
}

// ByteArray writes a VarInt prefixed byte slice of at most max bytes.
func (b *Builder) ByteArray(data []byte, max int) *Builder {
	if len(data) > max {
		return b.fail("byte array of %d bytes exceeds %d", len(data), max)
	}
	return b.Length(len(data)).Raw(data)
}

func (b *Builder) UUID(id uuid.UUID) *Builder {
	return b.Raw(id[:])
}

// Raw appends data without a length prefix.
func (b *Builder) Raw(data []byte) *Builder {
	if b.err == nil {
		b.buf = append(b.buf, data...)
	}
	return b
}
