package protocol

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadOfSize(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*31 + 7)
	}
	return p
}

func TestFrameSymmetry(t *testing.T) {
	const threshold = 64
	for _, mode := range []int{-1, threshold} {
		for size := 0; size <= threshold+1; size++ {
			payload := payloadOfSize(size)
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, 0x21, payload, mode))

			f, err := ReadFrame(bufio.NewReader(&buf), mode, DefaultFrameLimits())
			require.NoError(t, err, "mode %d size %d", mode, size)
			assert.Equal(t, int32(0x21), f.ID)
			assert.Equal(t, payload, f.Payload, "mode %d size %d", mode, size)
			assert.Zero(t, buf.Len(), "frame fully consumed")
		}
	}
}

func TestFrameCompressesAtThreshold(t *testing.T) {
	const threshold = 16
	// The body is the packet id plus payload; id 0x01 takes one byte.
	below, err := AppendFrame(nil, 0x01, payloadOfSize(threshold-2), threshold)
	require.NoError(t, err)
	at, err := AppendFrame(nil, 0x01, payloadOfSize(threshold-1), threshold)
	require.NoError(t, err)

	dataLength := func(frame []byte) int32 {
		r := NewReader(frame)
		_, err := r.VarInt()
		require.NoError(t, err)
		n, err := r.VarInt()
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, int32(0), dataLength(below))
	assert.Equal(t, int32(threshold), dataLength(at))
}

func TestFrameUncompressedLayout(t *testing.T) {
	frame, err := AppendFrame(nil, 0x00, []byte{0xAA, 0xBB}, -1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0xAA, 0xBB}, frame)
}

func compressedFrame(t *testing.T, declared int32, body []byte) []byte {
	t.Helper()
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	inner := AppendVarInt(nil, declared)
	inner = append(inner, z.Bytes()...)
	return append(AppendVarInt(nil, int32(len(inner))), inner...)
}

func TestFrameCompressionMismatch(t *testing.T) {
	body := append([]byte{0x05}, payloadOfSize(200)...)

	for _, declared := range []int32{int32(len(body)) + 1, int32(len(body)) - 1} {
		frame := compressedFrame(t, declared, body)
		_, err := ReadFrame(bufio.NewReader(bytes.NewReader(frame)), 64, DefaultFrameLimits())
		assert.ErrorIs(t, err, ErrCompressionMismatch, "declared %d", declared)
	}
}

func TestFrameInflatesPastDataLength(t *testing.T) {
	body := append([]byte{0x05}, payloadOfSize(300)...)
	frame := compressedFrame(t, 100, body)

	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(frame)), 64, DefaultFrameLimits())
	require.ErrorIs(t, err, ErrCompressionMismatch)
	assert.Contains(t, err.Error(), "inflated data exceeds 100 bytes")
}

func TestFrameCompressedBelowThreshold(t *testing.T) {
	body := []byte{0x05, 1, 2, 3}
	frame := compressedFrame(t, int32(len(body)), body)
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(frame)), 64, DefaultFrameLimits())
	assert.ErrorIs(t, err, ErrCompressionMismatch)
}

func TestFrameCompressionBomb(t *testing.T) {
	limits := DefaultFrameLimits()
	frame := compressedFrame(t, int32(limits.MaxDataLength)+1, []byte{0x00})
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(frame)), 64, limits)
	assert.ErrorIs(t, err, ErrCompressionBombSuspected)
}

func TestFrameTooLargeBeforeRead(t *testing.T) {
	// Only the length prefix exists; the reader must fail on it alone.
	wire := AppendVarInt(nil, MaxFrameLength+1)
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(wire)), -1, DefaultFrameLimits())
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	small := FrameLimits{MaxFrameLength: 8, MaxDataLength: 64}
	wire = AppendVarInt(nil, 9)
	_, err = ReadFrame(bufio.NewReader(bytes.NewReader(wire)), -1, small)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameWriteTooLarge(t *testing.T) {
	_, err := AppendFrame(nil, 0x00, make([]byte, MaxFrameLength), -1)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameEmptyLength(t *testing.T) {
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader([]byte{0x00})), -1, DefaultFrameLimits())
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 5; i++ {
		require.NoError(t, WriteFrame(&buf, int32(i), payloadOfSize(i*40), 32))
	}
	br := bufio.NewReader(&buf)
	for i := 0; i < 5; i++ {
		f, err := ReadFrame(br, 32, DefaultFrameLimits())
		require.NoError(t, err)
		assert.Equal(t, int32(i), f.ID)
		assert.Len(t, f.Payload, i*40)
	}
}
