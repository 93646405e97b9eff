package network

import (
	"time"

	"github.com/google/uuid"

	"github.com/energizer-project/quarry/internal/auth"
)

// Session is the negotiated material of one connection. It belongs to the
// connection's actor and is never shared.
type Session struct {
	ConnID      uint64
	Remote      string
	ConnectedAt time.Time

	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16

	Username   string
	UUID       uuid.UUID
	Properties []auth.ProfileProperty

	VerifyToken  []byte
	SharedSecret []byte
	Encrypted    bool
	Threshold    int
}

func newSession(id uint64, remote string) *Session {
	return &Session{
		ConnID:      id,
		Remote:      remote,
		ConnectedAt: time.Now(),
		Threshold:   -1,
	}
}

// Wipe zeroes the key material.
func (s *Session) Wipe() {
	clear(s.SharedSecret)
	clear(s.VerifyToken)
	s.SharedSecret = nil
	s.VerifyToken = nil
}
