package protocol

import "github.com/google/uuid"

// Chat positions of ClientboundChat.
const (
	ChatPositionChat   uint8 = 0
	ChatPositionSystem uint8 = 1
	ChatPositionHotbar uint8 = 2
)

// MaxChatMessageLength bounds serverbound chat.
const MaxChatMessageLength = 256

// TeleportConfirm acknowledges a PlayerPositionAndLook.
type TeleportConfirm struct {
	TeleportID int32
}

func (*TeleportConfirm) Kind() Kind          { return Kind{Play, Serverbound, 0x00} }
func (p *TeleportConfirm) Encode(b *Builder) { b.VarInt(p.TeleportID) }
func (p *TeleportConfirm) Decode(r *Reader) (err error) {
	p.TeleportID, err = r.VarInt()
	return err
}

// ServerboundChat is a chat line or command typed by the player.
type ServerboundChat struct {
	Message string
}

func (*ServerboundChat) Kind() Kind          { return Kind{Play, Serverbound, 0x03} }
func (p *ServerboundChat) Encode(b *Builder) { b.String(p.Message, MaxChatMessageLength) }
func (p *ServerboundChat) Decode(r *Reader) (err error) {
	p.Message, err = r.String(MaxChatMessageLength)
	return err
}

// ClientSettings reports the client's locale and display options.
type ClientSettings struct {
	Locale             string
	ViewDistance       int8
	ChatMode           int32
	ChatColors         bool
	DisplayedSkinParts uint8
	MainHand           int32
}

func (*ClientSettings) Kind() Kind { return Kind{Play, Serverbound, 0x05} }

func (p *ClientSettings) Encode(b *Builder) {
	b.String(p.Locale, 16).
		Int8(p.ViewDistance).
		VarInt(p.ChatMode).
		Bool(p.ChatColors).
		Uint8(p.DisplayedSkinParts).
		VarInt(p.MainHand)
}

func (p *ClientSettings) Decode(r *Reader) error {
	var err error
	if p.Locale, err = r.String(16); err != nil {
		return err
	}
	if p.ViewDistance, err = r.Int8(); err != nil {
		return err
	}
	if p.ChatMode, err = r.VarInt(); err != nil {
		return err
	}
	if p.ChatColors, err = r.Bool(); err != nil {
		return err
	}
	if p.DisplayedSkinParts, err = r.Uint8(); err != nil {
		return err
	}
	p.MainHand, err = r.VarInt()
	return err
}

// ServerboundPluginMessage is a custom channel payload from the client.
type ServerboundPluginMessage struct {
	Channel string
	Data    []byte
}

func (*ServerboundPluginMessage) Kind() Kind { return Kind{Play, Serverbound, 0x0B} }

func (p *ServerboundPluginMessage) Encode(b *Builder) {
	b.String(p.Channel, MaxStringLength).Raw(p.Data)
}

func (p *ServerboundPluginMessage) Decode(r *Reader) (err error) {
	p.Channel, p.Data, err = decodePluginMessage(r)
	return err
}

// ServerboundKeepAlive answers a ClientboundKeepAlive with the same id.
type ServerboundKeepAlive struct {
	ID int64
}

func (*ServerboundKeepAlive) Kind() Kind          { return Kind{Play, Serverbound, 0x10} }
func (p *ServerboundKeepAlive) Encode(b *Builder) { b.Int64(p.ID) }
func (p *ServerboundKeepAlive) Decode(r *Reader) (err error) {
	p.ID, err = r.Int64()
	return err
}

// PlayerPosition moves the player without turning.
type PlayerPosition struct {
	X, Y, Z  float64
	OnGround bool
}

func (*PlayerPosition) Kind() Kind { return Kind{Play, Serverbound, 0x12} }

func (p *PlayerPosition) Encode(b *Builder) {
	b.Float64(p.X).Float64(p.Y).Float64(p.Z).Bool(p.OnGround)
}

func (p *PlayerPosition) Decode(r *Reader) error {
	var err error
	if p.X, p.Y, p.Z, err = readVec3(r); err != nil {
		return err
	}
	p.OnGround, err = r.Bool()
	return err
}

// PlayerPositionAndRotation moves and turns the player.
type PlayerPositionAndRotation struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (*PlayerPositionAndRotation) Kind() Kind { return Kind{Play, Serverbound, 0x13} }

func (p *PlayerPositionAndRotation) Encode(b *Builder) {
	b.Float64(p.X).Float64(p.Y).Float64(p.Z).
		Float32(p.Yaw).Float32(p.Pitch).
		Bool(p.OnGround)
}

func (p *PlayerPositionAndRotation) Decode(r *Reader) error {
	var err error
	if p.X, p.Y, p.Z, err = readVec3(r); err != nil {
		return err
	}
	if p.Yaw, err = r.Float32(); err != nil {
		return err
	}
	if p.Pitch, err = r.Float32(); err != nil {
		return err
	}
	p.OnGround, err = r.Bool()
	return err
}

// PlayerRotation turns the player in place.
type PlayerRotation struct {
	Yaw, Pitch float32
	OnGround   bool
}

func (*PlayerRotation) Kind() Kind { return Kind{Play, Serverbound, 0x14} }

func (p *PlayerRotation) Encode(b *Builder) {
	b.Float32(p.Yaw).Float32(p.Pitch).Bool(p.OnGround)
}

func (p *PlayerRotation) Decode(r *Reader) error {
	var err error
	if p.Yaw, err = r.Float32(); err != nil {
		return err
	}
	if p.Pitch, err = r.Float32(); err != nil {
		return err
	}
	p.OnGround, err = r.Bool()
	return err
}

// PlayerMovement only updates the on-ground flag.
type PlayerMovement struct {
	OnGround bool
}

func (*PlayerMovement) Kind() Kind          { return Kind{Play, Serverbound, 0x15} }
func (p *PlayerMovement) Encode(b *Builder) { b.Bool(p.OnGround) }
func (p *PlayerMovement) Decode(r *Reader) (err error) {
	p.OnGround, err = r.Bool()
	return err
}

// ClientboundChat delivers a chat component to the client.
type ClientboundChat struct {
	Message  Chat
	Position uint8
	Sender   uuid.UUID
}

func (*ClientboundChat) Kind() Kind { return Kind{Play, Clientbound, 0x0E} }

func (p *ClientboundChat) Encode(b *Builder) {
	b.String(p.Message.JSON(), MaxChatLength).Uint8(p.Position).UUID(p.Sender)
}

func (p *ClientboundChat) Decode(r *Reader) error {
	raw, err := r.String(MaxChatLength)
	if err != nil {
		return err
	}
	if p.Message, err = ParseChat(raw); err != nil {
		return err
	}
	if p.Position, err = r.Uint8(); err != nil {
		return err
	}
	p.Sender, err = r.UUID()
	return err
}

// ClientboundPluginMessage is a custom channel payload to the client.
type ClientboundPluginMessage struct {
	Channel string
	Data    []byte
}

func (*ClientboundPluginMessage) Kind() Kind { return Kind{Play, Clientbound, 0x17} }

func (p *ClientboundPluginMessage) Encode(b *Builder) {
	b.String(p.Channel, MaxStringLength).Raw(p.Data)
}

func (p *ClientboundPluginMessage) Decode(r *Reader) (err error) {
	p.Channel, p.Data, err = decodePluginMessage(r)
	return err
}

// Disconnect closes a Play connection with a reason.
type Disconnect struct {
	Reason Chat
}

func (*Disconnect) Kind() Kind          { return Kind{Play, Clientbound, 0x19} }
func (p *Disconnect) Encode(b *Builder) { b.String(p.Reason.JSON(), MaxChatLength) }
func (p *Disconnect) Decode(r *Reader) error {
	raw, err := r.String(MaxChatLength)
	if err != nil {
		return err
	}
	p.Reason, err = ParseChat(raw)
	return err
}

// UnloadChunk tells the client to drop a chunk column.
type UnloadChunk struct {
	ChunkX, ChunkZ int32
}

func (*UnloadChunk) Kind() Kind { return Kind{Play, Clientbound, 0x1C} }

func (p *UnloadChunk) Encode(b *Builder) {
	b.Int32(p.ChunkX).Int32(p.ChunkZ)
}

func (p *UnloadChunk) Decode(r *Reader) error {
	var err error
	if p.ChunkX, err = r.Int32(); err != nil {
		return err
	}
	p.ChunkZ, err = r.Int32()
	return err
}

// ClientboundKeepAlive probes the client; it must answer with the same id.
type ClientboundKeepAlive struct {
	ID int64
}

func (*ClientboundKeepAlive) Kind() Kind          { return Kind{Play, Clientbound, 0x1F} }
func (p *ClientboundKeepAlive) Encode(b *Builder) { b.Int64(p.ID) }
func (p *ClientboundKeepAlive) Decode(r *Reader) (err error) {
	p.ID, err = r.Int64()
	return err
}

// PlayerPositionAndLook teleports the player.
type PlayerPositionAndLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	Flags      uint8
	TeleportID int32
}

func (*PlayerPositionAndLook) Kind() Kind { return Kind{Play, Clientbound, 0x34} }

func (p *PlayerPositionAndLook) Encode(b *Builder) {
	b.Float64(p.X).Float64(p.Y).Float64(p.Z).
		Float32(p.Yaw).Float32(p.Pitch).
		Uint8(p.Flags).
		VarInt(p.TeleportID)
}

func (p *PlayerPositionAndLook) Decode(r *Reader) error {
	var err error
	if p.X, p.Y, p.Z, err = readVec3(r); err != nil {
		return err
	}
	if p.Yaw, err = r.Float32(); err != nil {
		return err
	}
	if p.Pitch, err = r.Float32(); err != nil {
		return err
	}
	if p.Flags, err = r.Uint8(); err != nil {
		return err
	}
	p.TeleportID, err = r.VarInt()
	return err
}

// TimeUpdate sets world age and time of day.
type TimeUpdate struct {
	WorldAge  int64
	TimeOfDay int64
}

func (*TimeUpdate) Kind() Kind { return Kind{Play, Clientbound, 0x4E} }

func (p *TimeUpdate) Encode(b *Builder) {
	b.Int64(p.WorldAge).Int64(p.TimeOfDay)
}

func (p *TimeUpdate) Decode(r *Reader) error {
	var err error
	if p.WorldAge, err = r.Int64(); err != nil {
		return err
	}
	p.TimeOfDay, err = r.Int64()
	return err
}

func readVec3(r *Reader) (x, y, z float64, err error) {
	if x, err = r.Float64(); err != nil {
		return
	}
	if y, err = r.Float64(); err != nil {
		return
	}
	z, err = r.Float64()
	return
}

func decodePluginMessage(r *Reader) (string, []byte, error) {
	channel, err := r.String(MaxStringLength)
	if err != nil {
		return "", nil, err
	}
	return channel, r.Rest(), nil
}

var playPackets = []Descriptor{
	{Name: "TeleportConfirm", New: func() Packet { return &TeleportConfirm{} }},
	{Name: "ServerboundChat", New: func() Packet { return &ServerboundChat{} }},
	{Name: "ClientSettings", New: func() Packet { return &ClientSettings{} }},
	{Name: "ServerboundPluginMessage", New: func() Packet { return &ServerboundPluginMessage{} }},
	{Name: "ServerboundKeepAlive", New: func() Packet { return &ServerboundKeepAlive{} }},
	{Name: "PlayerPosition", New: func() Packet { return &PlayerPosition{} }},
	{Name: "PlayerPositionAndRotation", New: func() Packet { return &PlayerPositionAndRotation{} }},
	{Name: "PlayerRotation", New: func() Packet { return &PlayerRotation{} }},
	{Name: "PlayerMovement", New: func() Packet { return &PlayerMovement{} }},
	{Name: "ClientboundChat", New: func() Packet { return &ClientboundChat{} }},
	{Name: "ClientboundPluginMessage", New: func() Packet { return &ClientboundPluginMessage{} }},
	{Name: "Disconnect", New: func() Packet { return &Disconnect{} }},
	{Name: "UnloadChunk", New: func() Packet { return &UnloadChunk{} }},
	{Name: "ClientboundKeepAlive", New: func() Packet { return &ClientboundKeepAlive{} }},
	{Name: "PlayerPositionAndLook", New: func() Packet { return &PlayerPositionAndLook{} }},
	{Name: "TimeUpdate", New: func() Packet { return &TimeUpdate{} }},
}
