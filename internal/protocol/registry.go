package protocol

import (
	"errors"
	"fmt"
	"sync"
)

// Descriptor registers one packet type.
type Descriptor struct {
	Name string
	New  func() Packet
}

// Registry maps (state, direction, id) to a packet constructor. It is
// filled during start-up, sealed, and read without locking afterwards.
type Registry struct {
	byKind map[Kind]Descriptor
	sealed bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[Kind]Descriptor)}
}

// Register adds a descriptor. The kind is taken from a fresh instance.
func (r *Registry) Register(d Descriptor) error {
	if r.sealed {
		return errors.New("registry is sealed")
	}
	if d.New == nil {
		return fmt.Errorf("descriptor %q has no constructor", d.Name)
	}
	k := d.New().Kind()
	if prev, ok := r.byKind[k]; ok {
		return fmt.Errorf("duplicate packet %s: %q already registered as %q", k, d.Name, prev.Name)
	}
	r.byKind[k] = d
	return nil
}

// MustRegister is Register for start-up code.
func (r *Registry) MustRegister(descs ...Descriptor) {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Lookup returns the descriptor for k.
func (r *Registry) Lookup(k Kind) (Descriptor, bool) {
	d, ok := r.byKind[k]
	return d, ok
}

// Len returns the number of registered packet kinds.
func (r *Registry) Len() int {
	return len(r.byKind)
}

// Decode turns a frame payload into a packet. Unknown ids yield
// ErrUnknownPacket; during Handshaking and Login the error also wraps
// ErrProtocolViolation. Bytes left over after decoding are a violation.
func (r *Registry) Decode(state State, dir Direction, id int32, payload []byte) (Packet, error) {
	k := Kind{State: state, Direction: dir, ID: id}
	d, ok := r.byKind[k]
	if !ok {
		if state == Handshaking || state == Login {
			return nil, fmt.Errorf("%w: %w: %s", ErrProtocolViolation, ErrUnknownPacket, k)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownPacket, k)
	}

	p := d.New()
	cur := NewReader(payload)
	if err := p.Decode(cur); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", d.Name, err)
	}
	if cur.Len() > 0 {
		return nil, Violation("%d trailing bytes after %s", cur.Len(), d.Name)
	}
	return p, nil
}

// Encode serializes p into its packet id and payload. The packet kind must
// be registered.
func (r *Registry) Encode(p Packet) (int32, []byte, error) {
	k := p.Kind()
	if _, ok := r.byKind[k]; !ok {
		return 0, nil, fmt.Errorf("%w: cannot encode unregistered %s", ErrUnknownPacket, k)
	}
	b := NewBuilder()
	p.Encode(b)
	if err := b.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to encode %s: %w", k, err)
	}
	return k.ID, b.Bytes(), nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process wide registry holding the full catalogue. It
// is built on first use and sealed.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		r.MustRegister(handshakePackets...)
		r.MustRegister(statusPackets...)
		r.MustRegister(loginPackets...)
		r.MustRegister(playPackets...)
		r.Seal()
		defaultRegistry = r
	})
	return defaultRegistry
}
