package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// StatusInfo is the JSON document returned by a status response.
type StatusInfo struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description Chat          `json:"description"`
	Favicon     string        `json:"favicon,omitempty"`
}

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type StatusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []StatusSample `json:"sample,omitempty"`
}

type StatusSample struct {
	Name string    `json:"name"`
	ID   uuid.UUID `json:"id"`
}

// StatusRequest asks for the server list entry.
type StatusRequest struct{}

func (*StatusRequest) Kind() Kind           { return Kind{Status, Serverbound, 0x00} }
func (*StatusRequest) Encode(*Builder)      {}
func (*StatusRequest) Decode(*Reader) error { return nil }

// StatusPing carries an opaque payload the server echoes back.
type StatusPing struct {
	Payload int64
}

func (*StatusPing) Kind() Kind          { return Kind{Status, Serverbound, 0x01} }
func (p *StatusPing) Encode(b *Builder) { b.Int64(p.Payload) }
func (p *StatusPing) Decode(r *Reader) (err error) {
	p.Payload, err = r.Int64()
	return err
}

// StatusResponse carries a StatusInfo as JSON.
type StatusResponse struct {
	JSON string
}

// NewStatusResponse marshals info into a response packet.
func NewStatusResponse(info StatusInfo) (*StatusResponse, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{JSON: string(data)}, nil
}

func (*StatusResponse) Kind() Kind          { return Kind{Status, Clientbound, 0x00} }
func (p *StatusResponse) Encode(b *Builder) { b.String(p.JSON, MaxStringLength) }
func (p *StatusResponse) Decode(r *Reader) (err error) {
	p.JSON, err = r.String(MaxStringLength)
	return err
}

// Info parses the JSON document.
func (p *StatusResponse) Info() (StatusInfo, error) {
	var info StatusInfo
	if err := json.Unmarshal([]byte(p.JSON), &info); err != nil {
		return info, Violation("invalid status document: %v", err)
	}
	return info, nil
}

// StatusPong echoes the ping payload.
type StatusPong struct {
	Payload int64
}

func (*StatusPong) Kind() Kind          { return Kind{Status, Clientbound, 0x01} }
func (p *StatusPong) Encode(b *Builder) { b.Int64(p.Payload) }
func (p *StatusPong) Decode(r *Reader) (err error) {
	p.Payload, err = r.Int64()
	return err
}

var statusPackets = []Descriptor{
	{Name: "StatusRequest", New: func() Packet { return &StatusRequest{} }},
	{Name: "StatusPing", New: func() Packet { return &StatusPing{} }},
	{Name: "StatusResponse", New: func() Packet { return &StatusResponse{} }},
	{Name: "StatusPong", New: func() Packet { return &StatusPong{} }},
}
