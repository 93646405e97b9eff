package protocol

import "github.com/google/uuid"

// MaxUsernameLength is the longest accepted player name.
const MaxUsernameLength = 16

// LoginStart opens the login sequence.
type LoginStart struct {
	Username string
}

func (*LoginStart) Kind() Kind          { return Kind{Login, Serverbound, 0x00} }
func (p *LoginStart) Encode(b *Builder) { b.String(p.Username, MaxUsernameLength) }
func (p *LoginStart) Decode(r *Reader) (err error) {
	p.Username, err = r.String(MaxUsernameLength)
	return err
}

// EncryptionResponse carries the RSA encrypted shared secret and verify
// token.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (*EncryptionResponse) Kind() Kind { return Kind{Login, Serverbound, 0x01} }

func (p *EncryptionResponse) Encode(b *Builder) {
	b.ByteArray(p.SharedSecret, 256).ByteArray(p.VerifyToken, 256)
}

func (p *EncryptionResponse) Decode(r *Reader) error {
	var err error
	if p.SharedSecret, err = r.ByteArray(256); err != nil {
		return err
	}
	p.VerifyToken, err = r.ByteArray(256)
	return err
}

// LoginPluginResponse answers a LoginPluginRequest.
type LoginPluginResponse struct {
	MessageID  int32
	Successful bool
	Data       []byte
}

func (*LoginPluginResponse) Kind() Kind { return Kind{Login, Serverbound, 0x02} }

func (p *LoginPluginResponse) Encode(b *Builder) {
	b.VarInt(p.MessageID).Bool(p.Successful).Raw(p.Data)
}

func (p *LoginPluginResponse) Decode(r *Reader) error {
	var err error
	if p.MessageID, err = r.VarInt(); err != nil {
		return err
	}
	if p.Successful, err = r.Bool(); err != nil {
		return err
	}
	p.Data = r.Rest()
	return nil
}

// LoginDisconnect closes the connection during login with a reason.
type LoginDisconnect struct {
	Reason Chat
}

func (*LoginDisconnect) Kind() Kind          { return Kind{Login, Clientbound, 0x00} }
func (p *LoginDisconnect) Encode(b *Builder) { b.String(p.Reason.JSON(), MaxChatLength) }
func (p *LoginDisconnect) Decode(r *Reader) error {
	raw, err := r.String(MaxChatLength)
	if err != nil {
		return err
	}
	p.Reason, err = ParseChat(raw)
	return err
}

// EncryptionRequest starts the key exchange in online mode.
type EncryptionRequest struct {
	ServerID    string
	PublicKey   []byte
	VerifyToken []byte
}

func (*EncryptionRequest) Kind() Kind { return Kind{Login, Clientbound, 0x01} }

func (p *EncryptionRequest) Encode(b *Builder) {
	b.String(p.ServerID, 20).
		ByteArray(p.PublicKey, MaxStringLength).
		ByteArray(p.VerifyToken, 256)
}

func (p *EncryptionRequest) Decode(r *Reader) error {
	var err error
	if p.ServerID, err = r.String(20); err != nil {
		return err
	}
	if p.PublicKey, err = r.ByteArray(MaxStringLength); err != nil {
		return err
	}
	p.VerifyToken, err = r.ByteArray(256)
	return err
}

// LoginSuccess ends the login sequence; the connection is in Play after it.
type LoginSuccess struct {
	UUID     uuid.UUID
	Username string
}

func (*LoginSuccess) Kind() Kind { return Kind{Login, Clientbound, 0x02} }

func (p *LoginSuccess) Encode(b *Builder) {
	b.UUID(p.UUID).String(p.Username, MaxUsernameLength)
}

func (p *LoginSuccess) Decode(r *Reader) error {
	var err error
	if p.UUID, err = r.UUID(); err != nil {
		return err
	}
	p.Username, err = r.String(MaxUsernameLength)
	return err
}

// SetCompression announces the compression threshold. Every frame after it
// uses the compressed format.
type SetCompression struct {
	Threshold int32
}

func (*SetCompression) Kind() Kind          { return Kind{Login, Clientbound, 0x03} }
func (p *SetCompression) Encode(b *Builder) { b.VarInt(p.Threshold) }
func (p *SetCompression) Decode(r *Reader) (err error) {
	p.Threshold, err = r.VarInt()
	return err
}

// LoginPluginRequest is a custom query during login.
type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

func (*LoginPluginRequest) Kind() Kind { return Kind{Login, Clientbound, 0x04} }

func (p *LoginPluginRequest) Encode(b *Builder) {
	b.VarInt(p.MessageID).String(p.Channel, MaxStringLength).Raw(p.Data)
}

func (p *LoginPluginRequest) Decode(r *Reader) error {
	var err error
	if p.MessageID, err = r.VarInt(); err != nil {
		return err
	}
	if p.Channel, err = r.String(MaxStringLength); err != nil {
		return err
	}
	p.Data = r.Rest()
	return nil
}

var loginPackets = []Descriptor{
	{Name: "LoginStart", New: func() Packet { return &LoginStart{} }},
	{Name: "EncryptionResponse", New: func() Packet { return &EncryptionResponse{} }},
	{Name: "LoginPluginResponse", New: func() Packet { return &LoginPluginResponse{} }},
	{Name: "LoginDisconnect", New: func() Packet { return &LoginDisconnect{} }},
	{Name: "EncryptionRequest", New: func() Packet { return &EncryptionRequest{} }},
	{Name: "LoginSuccess", New: func() Packet { return &LoginSuccess{} }},
	{Name: "SetCompression", New: func() Packet { return &SetCompression{} }},
	{Name: "LoginPluginRequest", New: func() Packet { return &LoginPluginRequest{} }},
}
