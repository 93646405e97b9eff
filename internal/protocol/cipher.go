package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// SharedSecretSize is the length of the negotiated AES-128 key.
const SharedSecretSize = 16

// cfb8 is AES in 8-bit cipher feedback mode. The shift register advances by
// one ciphertext byte per processed byte, which is what makes the stream
// self-synchronizing.
type cfb8 struct {
	block    cipher.Block
	register []byte
	out      []byte
	decrypt  bool
}

func newCFB8(block cipher.Block, iv []byte, decrypt bool) cipher.Stream {
	bs := block.BlockSize()
	if len(iv) != bs {
		panic("protocol: CFB8 IV length must equal block size")
	}
	c := &cfb8{
		block:    block,
		register: make([]byte, bs),
		out:      make([]byte, bs),
		decrypt:  decrypt,
	}
	copy(c.register, iv)
	return c
}

// NewCFB8Encrypter returns a stream encrypting with block in CFB8 mode.
func NewCFB8Encrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, false)
}

// NewCFB8Decrypter returns a stream decrypting with block in CFB8 mode.
func NewCFB8Decrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, true)
}

func (c *cfb8) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("protocol: CFB8 output smaller than input")
	}
	last := len(c.register) - 1
	for i, in := range src {
		c.block.Encrypt(c.out, c.register)
		out := in ^ c.out[0]
		feedback := out
		if c.decrypt {
			feedback = in
		}
		copy(c.register, c.register[1:])
		c.register[last] = feedback
		dst[i] = out
	}
}

// NewStreams derives the outbound and inbound cipher streams for a shared
// secret. Key and IV are both the secret.
func NewStreams(secret []byte) (enc, dec cipher.Stream, err error) {
	if len(secret) != SharedSecretSize {
		return nil, nil, fmt.Errorf("%w: shared secret is %d bytes, want %d", ErrAuthenticationFailed, len(secret), SharedSecretSize)
	}
	// Each direction gets its own block; reads and writes run on different
	// goroutines.
	encBlock, err := aes.NewCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	decBlock, err := aes.NewCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return NewCFB8Encrypter(encBlock, secret), NewCFB8Decrypter(decBlock, secret), nil
}

// Wrap splices the cipher around a raw stream. Bytes read from the returned
// reader are decrypted; bytes written to the returned writer are encrypted.
func Wrap(r io.Reader, w io.Writer, secret []byte) (io.Reader, io.Writer, error) {
	enc, dec, err := NewStreams(secret)
	if err != nil {
		return nil, nil, err
	}
	return &cipher.StreamReader{S: dec, R: r}, &cipher.StreamWriter{S: enc, W: w}, nil
}
