package protocol

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntKnownEncodings(t *testing.T) {
	cases := []struct {
		value int32
		wire  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{25565, []byte{0xdd, 0xc7, 0x01}},
		{2097151, []byte{0xff, 0xff, 0x7f}},
		{math.MaxInt32, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
		{-1, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
		{math.MinInt32, []byte{0x80, 0x80, 0x80, 0x80, 0x08}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.wire, AppendVarInt(nil, tc.value), "encode %d", tc.value)
		assert.Equal(t, len(tc.wire), VarIntSize(tc.value))

		got, err := NewReader(tc.wire).VarInt()
		require.NoError(t, err)
		assert.Equal(t, tc.value, got)
	}
}

func TestVarLongRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 300, math.MaxInt64, math.MinInt64, 1 << 40} {
		wire := AppendVarLong(nil, v)
		assert.LessOrEqual(t, len(wire), MaxVarLongLen)
		got, err := NewReader(wire).VarLong()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestVarIntTooLong(t *testing.T) {
	_, err := NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}).VarInt()
	assert.ErrorIs(t, err, ErrMalformedVarInt)

	// Fifth byte carrying bits beyond 32.
	_, err = NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x1f}).VarInt()
	assert.ErrorIs(t, err, ErrMalformedVarInt)

	_, err = NewReader(bytes.Repeat([]byte{0x80}, 11)).VarLong()
	assert.ErrorIs(t, err, ErrMalformedVarInt)
}

func TestVarIntExhaustedCursor(t *testing.T) {
	_, err := NewReader([]byte{0x80, 0x80}).VarInt()
	assert.ErrorIs(t, err, ErrMalformedVarInt)

	_, err = NewReader(nil).VarInt()
	assert.ErrorIs(t, err, ErrMalformedVarInt)
}

func TestVarIntStreamEOF(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)

	_, err = ReadVarInt(bytes.NewReader([]byte{0x80}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestPrimitiveRoundTrip(t *testing.T) {
	id := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	b := NewBuilder().
		Bool(true).
		Int8(-5).
		Uint8(250).
		Int16(-1234).
		Uint16(65000).
		Int32(-123456789).
		Int64(math.MinInt64).
		Float32(3.5).
		Float64(-0.125).
		String("héllo wörld", 32).
		ByteArray([]byte{1, 2, 3}, 16).
		UUID(id).
		VarLong(-42)
	require.NoError(t, b.Err())

	r := NewReader(b.Bytes())
	vb, err := r.Bool()
	require.NoError(t, err)
	assert.True(t, vb)
	v8, _ := r.Int8()
	assert.Equal(t, int8(-5), v8)
	u8, _ := r.Uint8()
	assert.Equal(t, uint8(250), u8)
	v16, _ := r.Int16()
	assert.Equal(t, int16(-1234), v16)
	u16, _ := r.Uint16()
	assert.Equal(t, uint16(65000), u16)
	v32, _ := r.Int32()
	assert.Equal(t, int32(-123456789), v32)
	v64, _ := r.Int64()
	assert.Equal(t, int64(math.MinInt64), v64)
	f32, _ := r.Float32()
	assert.Equal(t, float32(3.5), f32)
	f64, _ := r.Float64()
	assert.Equal(t, -0.125, f64)
	s, err := r.String(32)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", s)
	arr, err := r.ByteArray(16)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, arr)
	gotID, err := r.UUID()
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	vl, err := r.VarLong()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), vl)
	assert.Zero(t, r.Len())
}

func TestFixedWidthIsBigEndian(t *testing.T) {
	b := NewBuilder().Uint16(0x0102).Int32(0x03040506)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, b.Bytes())
}

func TestStringOversizedRejectedBeforeBody(t *testing.T) {
	// Only the length prefix is present; the declared size alone must fail.
	wire := AppendVarInt(nil, 1<<20)
	_, err := NewReader(wire).String(MaxStringLength)
	assert.ErrorIs(t, err, ErrOversizedField)

	wire = AppendVarInt(nil, -1)
	_, err = NewReader(wire).String(16)
	assert.ErrorIs(t, err, ErrOversizedField)
}

func TestStringTruncated(t *testing.T) {
	wire := append(AppendVarInt(nil, 10), "abc"...)
	_, err := NewReader(wire).String(16)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestStringTooManyChars(t *testing.T) {
	wire := NewBuilder().String("abcdefghijklmnopq", 32).Bytes()
	_, err := NewReader(wire).String(16)
	assert.ErrorIs(t, err, ErrOversizedField)
}

func TestStringInvalidUTF8(t *testing.T) {
	wire := append(AppendVarInt(nil, 2), 0xc3, 0x28)
	_, err := NewReader(wire).String(16)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestByteArrayOversized(t *testing.T) {
	wire := AppendVarInt(nil, 300)
	_, err := NewReader(wire).ByteArray(256)
	assert.ErrorIs(t, err, ErrOversizedField)
}

func TestInvalidBool(t *testing.T) {
	_, err := NewReader([]byte{2}).Bool()
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestBuilderValueOutOfRange(t *testing.T) {
	b := NewBuilder().String("seventeen-chars!!", 16).Int32(7)
	assert.ErrorIs(t, b.Err(), ErrValueOutOfRange)
	assert.Zero(t, b.Len(), "writes after a failure are dropped")

	b = NewBuilder().ByteArray(make([]byte, 10), 4)
	assert.ErrorIs(t, b.Err(), ErrValueOutOfRange)

	b = NewBuilder().Length(-1)
	assert.ErrorIs(t, b.Err(), ErrValueOutOfRange)

	b.Reset()
	assert.NoError(t, b.Err())
}

func TestFixedWidthTruncated(t *testing.T) {
	_, err := NewReader([]byte{1, 2, 3}).Int64()
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}
