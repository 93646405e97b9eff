package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Size limits of the variable length integers.
const (
	MaxVarIntLen  = 5
	MaxVarLongLen = 10
)

// ReadVarInt decodes a VarInt from br. An exhausted in-memory cursor is
// reported as ErrMalformedVarInt; a stream that ends before the first byte
// returns io.EOF and one that ends mid value returns io.ErrUnexpectedEOF.
func ReadVarInt(br io.ByteReader) (int32, error) {
	v, err := readVar(br, MaxVarIntLen)
	if err != nil {
		return 0, err
	}
	return int32(uint32(v)), nil
}

// ReadVarLong decodes a VarLong from br.
func ReadVarLong(br io.ByteReader) (int64, error) {
	v, err := readVar(br, MaxVarLongLen)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func readVar(br io.ByteReader, maxLen int) (uint64, error) {
	var v uint64
	for i := 0; i < maxLen; i++ {
		b, err := br.ReadByte()
		if err != nil {
			switch {
			case errors.Is(err, ErrTruncatedFrame):
				return 0, fmt.Errorf("%w: input exhausted after %d bytes", ErrMalformedVarInt, i)
			case errors.Is(err, io.EOF) && i > 0:
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v |= uint64(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			// The last group may only carry the bits that still fit the type.
			if i == maxLen-1 && b > lastGroupMax(maxLen) {
				return 0, fmt.Errorf("%w: value exceeds %d bits", ErrMalformedVarInt, bitsFor(maxLen))
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: longer than %d bytes", ErrMalformedVarInt, maxLen)
}

func bitsFor(maxLen int) int {
	if maxLen == MaxVarIntLen {
		return 32
	}
	return 64
}

func lastGroupMax(maxLen int) byte {
	return byte(1<<(bitsFor(maxLen)-7*(maxLen-1))) - 1
}

// AppendVarInt appends the encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// AppendVarLong appends the encoding of v to dst.
func AppendVarLong(dst []byte, v int64) []byte {
	u := uint64(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// VarIntSize returns the number of bytes AppendVarInt writes for v.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}
