package protocol

// Handshake is the only packet of the Handshaking state.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       State
}

func (*Handshake) Kind() Kind { return Kind{Handshaking, Serverbound, 0x00} }

func (p *Handshake) Encode(b *Builder) {
	b.VarInt(p.ProtocolVersion).
		String(p.ServerAddress, 255).
		Uint16(p.ServerPort).
		VarInt(int32(p.NextState))
}

func (p *Handshake) Decode(r *Reader) error {
	var err error
	if p.ProtocolVersion, err = r.VarInt(); err != nil {
		return err
	}
	if p.ServerAddress, err = r.String(255); err != nil {
		return err
	}
	if p.ServerPort, err = r.Uint16(); err != nil {
		return err
	}
	next, err := r.VarInt()
	if err != nil {
		return err
	}
	p.NextState = State(next)
	return nil
}

var handshakePackets = []Descriptor{
	{Name: "Handshake", New: func() Packet { return &Handshake{} }},
}
