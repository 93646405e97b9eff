package network

import (
	"bufio"
	"bytes"
	"crypto/cipher"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/quarry/internal/protocol"
)

const readBufferSize = 4096

// Recorder receives per-frame traffic figures. Implementations must be safe
// for concurrent use.
type Recorder interface {
	FrameIn(state protocol.State, id int32, size int)
	FrameOut(state protocol.State, id int32, size int)
	UnknownPacket(state protocol.State, id int32)
}

type nopRecorder struct{}

func (nopRecorder) FrameIn(protocol.State, int32, int)  {}
func (nopRecorder) FrameOut(protocol.State, int32, int) {}
func (nopRecorder) UnknownPacket(protocol.State, int32) {}

// Transport frames packets over one socket. Reads and writes may run on
// different goroutines; the cipher and the threshold are switched before
// that happens, while the login sequence still owns both directions.
type Transport struct {
	conn     net.Conn
	br       *bufio.Reader
	w        io.Writer
	registry *protocol.Registry
	limits   protocol.FrameLimits
	recorder Recorder
	logger   zerolog.Logger

	threshold    int
	encrypted    bool
	writeTimeout time.Duration
	wbuf         []byte
}

// NewTransport wraps conn. Compression and encryption start disabled.
func NewTransport(conn net.Conn, registry *protocol.Registry, limits protocol.FrameLimits, writeTimeout time.Duration, recorder Recorder) *Transport {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Transport{
		conn:         conn,
		br:           bufio.NewReaderSize(conn, readBufferSize),
		w:            conn,
		registry:     registry,
		limits:       limits,
		recorder:     recorder,
		logger:       log.With().Str("component", "transport").Logger(),
		threshold:    -1,
		writeTimeout: writeTimeout,
	}
}

// SetLogger replaces the logger used for skipped packets. It must be called
// from the goroutine that reads.
func (t *Transport) SetLogger(logger zerolog.Logger) {
	t.logger = logger
}

// Threshold returns the active compression threshold, -1 when disabled.
func (t *Transport) Threshold() int { return t.threshold }

// Encrypted reports whether the cipher is active.
func (t *Transport) Encrypted() bool { return t.encrypted }

// SetThreshold switches the frame format. It applies to the next frame in
// both directions.
func (t *Transport) SetThreshold(threshold int) {
	t.threshold = threshold
}

// EnableEncryption puts the cipher under every later byte. Bytes already
// pulled into the read buffer arrived after the client switched, so they
// are deciphered in place before reading resumes.
func (t *Transport) EnableEncryption(secret []byte) error {
	if t.encrypted {
		return protocol.Violation("encryption already enabled")
	}
	enc, dec, err := protocol.NewStreams(secret)
	if err != nil {
		return err
	}

	pending, _ := t.br.Peek(t.br.Buffered())
	pending = append([]byte(nil), pending...)
	dec.XORKeyStream(pending, pending)

	t.br.Reset(io.MultiReader(bytes.NewReader(pending), cipher.StreamReader{S: dec, R: t.conn}))
	t.w = cipher.StreamWriter{S: enc, W: t.conn}
	t.encrypted = true
	return nil
}

// SetReadDeadline bounds the next reads.
func (t *Transport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

// ReadPacket reads and decodes the next serverbound packet for state.
// Unknown packets that state tolerates are logged, counted and skipped.
// Socket failures are returned wrapped in protocol.ErrTransport.
func (t *Transport) ReadPacket(state protocol.State) (protocol.Packet, error) {
	for {
		frame, err := protocol.ReadFrame(t.br, t.threshold, t.limits)
		if err != nil {
			return nil, protocol.Transport(err)
		}
		t.recorder.FrameIn(state, frame.ID, len(frame.Payload))

		p, err := t.registry.Decode(state, protocol.Serverbound, frame.ID, frame.Payload)
		if err != nil {
			if protocol.Recoverable(err, state) {
				t.logger.Debug().
					Str("kind", protocol.KindOf(err)).
					Str("state", state.String()).
					Int32("id", frame.ID).
					Int("size", len(frame.Payload)).
					Msg("skipped unknown packet")
				t.recorder.UnknownPacket(state, frame.ID)
				continue
			}
			return nil, err
		}
		return p, nil
	}
}

// WritePacket encodes p and writes it as one frame within the write
// timeout.
func (t *Transport) WritePacket(state protocol.State, p protocol.Packet) error {
	id, payload, err := t.registry.Encode(p)
	if err != nil {
		return err
	}
	t.wbuf, err = protocol.AppendFrame(t.wbuf[:0], id, payload, t.threshold)
	if err != nil {
		return err
	}
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if _, err := t.w.Write(t.wbuf); err != nil {
		return protocol.Transport(err)
	}
	t.recorder.FrameOut(state, id, len(payload))
	return nil
}

// Close closes the socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Release drops the cipher streams and buffers. It must only be called
// once no goroutine uses the transport any more.
func (t *Transport) Release() {
	t.br.Reset(eofReader{})
	t.w = io.Discard
	t.wbuf = nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
