package protocol

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

const (
	// MaxFrameLength is the largest frame length a 3 byte VarInt can carry.
	MaxFrameLength = 2097151
	// MaxDataLength caps the declared decompressed size of a frame body.
	MaxDataLength = 8388608
)

// Frame is one decoded packet frame.
type Frame struct {
	ID      int32
	Payload []byte
}

// FrameLimits bounds the allocations a peer can cause with one frame.
type FrameLimits struct {
	MaxFrameLength int
	MaxDataLength  int
}

// DefaultFrameLimits returns the protocol's limits.
func DefaultFrameLimits() FrameLimits {
	return FrameLimits{
		MaxFrameLength: MaxFrameLength,
		MaxDataLength:  MaxDataLength,
	}
}

// ByteStream is what ReadFrame consumes; *bufio.Reader satisfies it.
type ByteStream interface {
	io.Reader
	io.ByteReader
}

// ReadFrame reads one frame from r. A negative threshold selects the
// uncompressed format. Socket errors are returned as they are; the caller
// classifies them.
func ReadFrame(r ByteStream, threshold int, limits FrameLimits) (Frame, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return Frame{}, err
	}
	if length <= 0 {
		return Frame{}, fmt.Errorf("%w: frame length %d", ErrTruncatedFrame, length)
	}
	if int(length) > limits.MaxFrameLength {
		return Frame{}, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, limits.MaxFrameLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}

	if threshold >= 0 {
		body, err = inflateBody(body, threshold, limits)
		if err != nil {
			return Frame{}, err
		}
	}

	cur := NewReader(body)
	id, err := cur.VarInt()
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read packet id: %w", err)
	}
	return Frame{ID: id, Payload: cur.Rest()}, nil
}

// inflateBody strips the data length header of a compressed mode frame and
// inflates the remainder when the sender compressed it.
func inflateBody(body []byte, threshold int, limits FrameLimits) ([]byte, error) {
	cur := NewReader(body)
	dataLength, err := cur.VarInt()
	if err != nil {
		return nil, fmt.Errorf("failed to read data length: %w", err)
	}
	switch {
	case dataLength == 0:
		return body[cur.Consumed():], nil
	case dataLength < 0:
		return nil, fmt.Errorf("%w: negative data length %d", ErrCompressionMismatch, dataLength)
	case int(dataLength) > limits.MaxDataLength:
		return nil, fmt.Errorf("%w: declared %d bytes (max %d)", ErrCompressionBombSuspected, dataLength, limits.MaxDataLength)
	case int(dataLength) < threshold:
		return nil, fmt.Errorf("%w: compressed body of %d bytes is below threshold %d", ErrCompressionMismatch, dataLength, threshold)
	}

	zr, err := zlib.NewReader(bytes.NewReader(body[cur.Consumed():]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompressionMismatch, err)
	}
	defer zr.Close()

	out := make([]byte, dataLength)
	n, err := io.ReadFull(zr, out)
	if err != nil {
		return nil, fmt.Errorf("%w: inflated %d of %d bytes: %w", ErrCompressionMismatch, n, dataLength, err)
	}
	// One byte past the declared size is enough to catch an overlong stream.
	var extra [1]byte
	if m, _ := zr.Read(extra[:]); m > 0 {
		return nil, fmt.Errorf("%w: inflated data exceeds %d bytes", ErrCompressionMismatch, dataLength)
	}
	return out, nil
}

var deflaters = sync.Pool{
	New: func() any { return zlib.NewWriter(nil) },
}

// AppendFrame appends the wire form of packet id with payload to dst.
func AppendFrame(dst []byte, id int32, payload []byte, threshold int) ([]byte, error) {
	bodyLen := VarIntSize(id) + len(payload)

	if threshold < 0 {
		if bodyLen > MaxFrameLength {
			return dst, fmt.Errorf("%w: %d byte body", ErrFrameTooLarge, bodyLen)
		}
		dst = AppendVarInt(dst, int32(bodyLen))
		dst = AppendVarInt(dst, id)
		return append(dst, payload...), nil
	}

	if bodyLen < threshold {
		frameLen := 1 + bodyLen
		if frameLen > MaxFrameLength {
			return dst, fmt.Errorf("%w: %d byte body", ErrFrameTooLarge, bodyLen)
		}
		dst = AppendVarInt(dst, int32(frameLen))
		dst = append(dst, 0)
		dst = AppendVarInt(dst, id)
		return append(dst, payload...), nil
	}

	if bodyLen > MaxDataLength {
		return dst, fmt.Errorf("%w: %d byte body", ErrFrameTooLarge, bodyLen)
	}
	var compressed bytes.Buffer
	zw := deflaters.Get().(*zlib.Writer)
	defer deflaters.Put(zw)
	zw.Reset(&compressed)
	var idBuf [MaxVarIntLen]byte
	if _, err := zw.Write(AppendVarInt(idBuf[:0], id)); err != nil {
		return dst, fmt.Errorf("failed to compress packet id: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return dst, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return dst, fmt.Errorf("failed to finish compression: %w", err)
	}

	frameLen := VarIntSize(int32(bodyLen)) + compressed.Len()
	if frameLen > MaxFrameLength {
		return dst, fmt.Errorf("%w: %d bytes after compression", ErrFrameTooLarge, frameLen)
	}
	dst = AppendVarInt(dst, int32(frameLen))
	dst = AppendVarInt(dst, int32(bodyLen))
	return append(dst, compressed.Bytes()...), nil
}

// WriteFrame encodes one frame and hands it to w in a single Write call.
func WriteFrame(w io.Writer, id int32, payload []byte, threshold int) error {
	frame, err := AppendFrame(nil, id, payload, threshold)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
