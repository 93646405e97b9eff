package network

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/quarry/internal/auth"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/game"
	"github.com/energizer-project/quarry/internal/protocol"
)

func testOptions() Options {
	return Options{
		Address:              "127.0.0.1:0",
		MaxConnections:       10,
		CompressionThreshold: -1,
		Limits:               protocol.DefaultFrameLimits(),
		HandshakeTimeout:     2 * time.Second,
		LoginTimeout:         2 * time.Second,
		KeepAliveInterval:    time.Second,
		KeepAliveTimeout:     2 * time.Second,
		WriteTimeout:         2 * time.Second,
		ShutdownTimeout:      2 * time.Second,
		InboundQueueSize:     16,
		OutboundQueueSize:    64,
	}
}

type fixture struct {
	listener *Listener
	hub      *game.Hub
	bus      *events.EventBus
	cancel   context.CancelFunc
	finished chan struct{}
	err      error
}

func (f *fixture) addr() string { return f.listener.Addr().String() }

// stop cancels the listener and waits for Start to return.
func (f *fixture) stop(t *testing.T) {
	t.Helper()
	f.cancel()
	select {
	case <-f.finished:
		require.NoError(t, f.err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func startListener(t *testing.T, opts Options, mutate func(*Services)) *fixture {
	t.Helper()
	bus := events.NewEventBus()
	hub := game.NewHub(game.HubConfig{MaxPlayers: 100, WorldName: "test"}, bus)
	svc := Services{
		Registry: protocol.Default(),
		Logic:    hub,
		Bus:      bus,
		Status: func() protocol.StatusInfo {
			return protocol.StatusInfo{
				Version:     protocol.StatusVersion{Name: protocol.VersionName, Protocol: protocol.ProtocolVersion},
				Players:     protocol.StatusPlayers{Max: 100, Online: hub.Online()},
				Description: protocol.Text("test server"),
			}
		},
	}
	if mutate != nil {
		mutate(&svc)
	}

	l, err := NewListener(opts, svc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{listener: l, hub: hub, bus: bus, cancel: cancel, finished: make(chan struct{})}
	go func() {
		f.err = l.Start(ctx)
		close(f.finished)
	}()

	select {
	case <-l.Ready():
	case <-f.finished:
		t.Fatalf("listener failed: %v", f.err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not ready")
	}
	t.Cleanup(func() {
		cancel()
		<-f.finished
		bus.Stop()
	})
	return f
}

// testClient speaks the protocol from the client side.
type testClient struct {
	t         *testing.T
	conn      net.Conn
	r         protocol.ByteStream
	w         io.Writer
	state     protocol.State
	threshold int
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return &testClient{
		t:         t,
		conn:      conn,
		r:         bufio.NewReader(conn),
		w:         conn,
		state:     protocol.Handshaking,
		threshold: -1,
	}
}

func (c *testClient) send(p protocol.Packet) {
	c.t.Helper()
	id, payload, err := protocol.Default().Encode(p)
	require.NoError(c.t, err)
	require.NoError(c.t, protocol.WriteFrame(c.w, id, payload, c.threshold))
}

func (c *testClient) sendRaw(id int32, payload []byte) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteFrame(c.w, id, payload, c.threshold))
}

func (c *testClient) recv() protocol.Packet {
	c.t.Helper()
	frame, err := protocol.ReadFrame(c.r, c.threshold, protocol.DefaultFrameLimits())
	require.NoError(c.t, err)
	p, err := protocol.Default().Decode(c.state, protocol.Clientbound, frame.ID, frame.Payload)
	require.NoError(c.t, err)
	return p
}

// recvType skips packets until one of type T arrives.
func recvType[T protocol.Packet](c *testClient) T {
	c.t.Helper()
	for i := 0; i < 64; i++ {
		if v, ok := c.recv().(T); ok {
			return v
		}
	}
	var zero T
	c.t.Fatalf("no %T within 64 packets", zero)
	return zero
}

// recvChat returns the next chat packet whose text mentions s.
func (c *testClient) recvChat(s string) *protocol.ClientboundChat {
	c.t.Helper()
	for i := 0; i < 64; i++ {
		chat := recvType[*protocol.ClientboundChat](c)
		if chat.Message.Text == s {
			return chat
		}
		for _, w := range chat.Message.With {
			if w.Text == s {
				return chat
			}
		}
	}
	c.t.Fatalf("no chat mentioning %q", s)
	return nil
}

// expectClosed asserts the server closed the socket.
func (c *testClient) expectClosed() {
	c.t.Helper()
	_, err := protocol.ReadFrame(c.r, c.threshold, protocol.DefaultFrameLimits())
	require.Error(c.t, err)
}

func (c *testClient) handshake(next protocol.State) {
	c.t.Helper()
	c.send(&protocol.Handshake{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerAddress:   "localhost",
		ServerPort:      25565,
		NextState:       next,
	})
	c.state = next
}

// loginOffline runs an offline login and returns the success packet.
func (c *testClient) loginOffline(name string) *protocol.LoginSuccess {
	c.t.Helper()
	c.handshake(protocol.Login)
	c.send(&protocol.LoginStart{Username: name})
	return c.finishLogin()
}

// finishLogin consumes SetCompression and LoginSuccess.
func (c *testClient) finishLogin() *protocol.LoginSuccess {
	c.t.Helper()
	for {
		switch p := c.recv().(type) {
		case *protocol.SetCompression:
			c.threshold = int(p.Threshold)
		case *protocol.LoginSuccess:
			c.state = protocol.Play
			return p
		case *protocol.LoginDisconnect:
			c.t.Fatalf("login refused: %s", p.Reason.PlainText())
		default:
			c.t.Fatalf("unexpected %s during login", p.Kind())
		}
	}
}

// encryptFor answers an encryption request, using token in place of the
// server's when it is non-nil.
func (c *testClient) encryptFor(req *protocol.EncryptionRequest, secret, token []byte) {
	c.t.Helper()
	pub, err := x509.ParsePKIXPublicKey(req.PublicKey)
	require.NoError(c.t, err)
	key := pub.(*rsa.PublicKey)

	if token == nil {
		token = req.VerifyToken
	}
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, key, secret)
	require.NoError(c.t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, key, token)
	require.NoError(c.t, err)

	c.send(&protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken})
}

// enableCipher switches the client streams to the shared secret.
func (c *testClient) enableCipher(secret []byte) {
	c.t.Helper()
	require.Zero(c.t, c.r.(*bufio.Reader).Buffered())
	r, w, err := protocol.Wrap(c.conn, c.conn, secret)
	require.NoError(c.t, err)
	c.r = bufio.NewReader(r)
	c.w = w
}

// fakeVerifier answers hasJoined locally and records the server hash.
type fakeVerifier struct {
	mu     sync.Mutex
	hashes []string
	fail   error
}

func (v *fakeVerifier) HasJoined(_ context.Context, username, serverHash, _ string) (*auth.Profile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hashes = append(v.hashes, serverHash)
	if v.fail != nil {
		return nil, v.fail
	}
	return &auth.Profile{
		ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(username)),
		Name: username,
	}, nil
}

func (v *fakeVerifier) lastHash() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.hashes) == 0 {
		return ""
	}
	return v.hashes[len(v.hashes)-1]
}

// collect subscribes to t and returns a channel of received events.
func collect(bus *events.EventBus, types ...events.EventType) <-chan events.Event {
	ch := make(chan events.Event, 64)
	bus.Subscribe("test-collector", func(_ context.Context, e events.Event) error {
		select {
		case ch <- e:
		default:
		}
		return nil
	}, types...)
	return ch
}

func waitEvent(t *testing.T, ch <-chan events.Event, match func(events.Event) bool) events.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return events.Event{}
		}
	}
}
