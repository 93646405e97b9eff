package network

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/quarry/internal/protocol"
)

func TestStateMachineLegalPath(t *testing.T) {
	var seen []string
	m := NewStateMachine(func(from, to protocol.State) {
		seen = append(seen, from.String()+">"+to.String())
	})
	assert.Equal(t, protocol.Handshaking, m.State())

	require.NoError(t, m.Transition(protocol.Login))
	require.NoError(t, m.Transition(protocol.Play))
	require.NoError(t, m.Transition(protocol.Closed))

	assert.Equal(t, []string{
		protocol.Handshaking.String() + ">" + protocol.Login.String(),
		protocol.Login.String() + ">" + protocol.Play.String(),
		protocol.Play.String() + ">" + protocol.Closed.String(),
	}, seen)
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	illegal := [][2]protocol.State{
		{protocol.Handshaking, protocol.Play},
		{protocol.Status, protocol.Login},
		{protocol.Status, protocol.Play},
		{protocol.Login, protocol.Status},
		{protocol.Play, protocol.Login},
		{protocol.Closed, protocol.Handshaking},
		{protocol.Closed, protocol.Play},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	m := NewStateMachine(nil)
	require.NoError(t, m.Transition(protocol.Status))
	err := m.Transition(protocol.Login)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolation)
	assert.Equal(t, protocol.Status, m.State())
}

func TestExpectNamesUnexpectedPacket(t *testing.T) {
	hs, err := expect[*protocol.Handshake](protocol.Handshaking, &protocol.Handshake{ServerPort: 1})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), hs.ServerPort)

	_, err = expect[*protocol.LoginStart](protocol.Login, &protocol.EncryptionResponse{})
	assert.ErrorIs(t, err, protocol.ErrProtocolViolation)
}

func TestCloseReason(t *testing.T) {
	cases := []struct {
		err    error
		reason string
		notify bool
	}{
		{nil, "", false},
		{&disconnectError{reason: "bye"}, "bye", true},
		{fmt.Errorf("wrapped: %w", &disconnectError{reason: "bye"}), "bye", true},
		{protocol.Transport(errors.New("reset")), "", false},
		{protocol.ErrAuthenticationFailed, "Failed to verify username!", true},
		{fmt.Errorf("%w: late", protocol.ErrKeepAliveTimeout), "Timed out", true},
		{protocol.ErrFrameTooLarge, "Protocol error (frame_too_large)", true},
		{protocol.Violation("nope"), "Protocol error (protocol_violation)", true},
		{errors.New("boom"), "Internal server error", true},
	}
	for _, tc := range cases {
		reason, notify := closeReason(tc.err)
		assert.Equal(t, tc.reason, reason, "%v", tc.err)
		assert.Equal(t, tc.notify, notify, "%v", tc.err)
	}
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(0.001, 2, 0)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 2, l.Len())
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "127.0.0.1", hostOf("127.0.0.1:25565"))
	assert.Equal(t, "::1", hostOf("[::1]:25565"))
	assert.Equal(t, "garbage", hostOf("garbage"))
}
