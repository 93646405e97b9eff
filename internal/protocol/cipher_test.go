package protocol

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// NIST SP 800-38A, F.3.7 / F.3.8 (CFB8-AES128).
func TestCFB8KnownAnswer(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")
	iv := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	plain := mustHex(t, "6bc1bee22e409f96e93d7e117393172aae2d")
	want := mustHex(t, "3b79424c9c0dd436bace9e0ed4586a4f32b9")

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	got := make([]byte, len(plain))
	NewCFB8Encrypter(block, iv).XORKeyStream(got, plain)
	assert.Equal(t, want, got)

	back := make([]byte, len(want))
	NewCFB8Decrypter(block, iv).XORKeyStream(back, want)
	assert.Equal(t, plain, back)
}

func TestCFB8ChunkingIndependent(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, SharedSecretSize)
	data := payloadOfSize(1000)

	enc, _, err := NewStreams(secret)
	require.NoError(t, err)
	whole := make([]byte, len(data))
	enc.XORKeyStream(whole, data)

	enc, _, err = NewStreams(secret)
	require.NoError(t, err)
	var pieces []byte
	for off := 0; off < len(data); {
		n := min(off%13+1, len(data)-off)
		chunk := make([]byte, n)
		enc.XORKeyStream(chunk, data[off:off+n])
		pieces = append(pieces, chunk...)
		off += n
	}
	assert.Equal(t, whole, pieces)
}

func TestCFB8InPlace(t *testing.T) {
	secret := bytes.Repeat([]byte{0x07}, SharedSecretSize)
	data := payloadOfSize(64)
	buf := append([]byte(nil), data...)

	enc, dec, err := NewStreams(secret)
	require.NoError(t, err)
	enc.XORKeyStream(buf, buf)
	assert.NotEqual(t, data, buf)
	dec.XORKeyStream(buf, buf)
	assert.Equal(t, data, buf)
}

func TestWrapIdentity(t *testing.T) {
	secret := mustHex(t, "00112233445566778899aabbccddeeff")
	var wire bytes.Buffer

	_, w, err := Wrap(nil, &wire, secret)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, WriteFrame(w, int32(i), payloadOfSize(100*i), 50))
	}

	r, _, err := Wrap(&wire, io.Discard, secret)
	require.NoError(t, err)
	br := bufio.NewReader(r)
	for i := 0; i < 3; i++ {
		f, err := ReadFrame(br, 50, DefaultFrameLimits())
		require.NoError(t, err)
		assert.Equal(t, int32(i), f.ID)
		assert.Equal(t, payloadOfSize(100*i), f.Payload)
	}
}

func TestNewStreamsRejectsBadSecret(t *testing.T) {
	_, _, err := NewStreams(make([]byte, 8))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
