package network

import (
	"github.com/energizer-project/quarry/internal/protocol"
)

// transitions lists the legal successors of each state.
var transitions = map[protocol.State][]protocol.State{
	protocol.Handshaking: {protocol.Status, protocol.Login, protocol.Closed},
	protocol.Status:      {protocol.Closed},
	protocol.Login:       {protocol.Play, protocol.Closed},
	protocol.Play:        {protocol.Closed},
}

// StateMachine holds the protocol state of one connection. The observer,
// if set, sees every transition after it happened.
type StateMachine struct {
	state    protocol.State
	observer func(from, to protocol.State)
}

// NewStateMachine starts in Handshaking.
func NewStateMachine(observer func(from, to protocol.State)) *StateMachine {
	return &StateMachine{state: protocol.Handshaking, observer: observer}
}

// State returns the current state.
func (m *StateMachine) State() protocol.State {
	return m.state
}

// Transition moves to next or fails with a protocol violation.
func (m *StateMachine) Transition(next protocol.State) error {
	if !CanTransition(m.state, next) {
		return protocol.Violation("illegal transition %s -> %s", m.state, next)
	}
	from := m.state
	m.state = next
	if m.observer != nil {
		m.observer(from, next)
	}
	return nil
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to protocol.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// expect asserts that p is of type T, failing with a protocol violation
// naming the state otherwise.
func expect[T protocol.Packet](state protocol.State, p protocol.Packet) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, protocol.Violation("unexpected %s in %s", p.Kind(), state)
	}
	return v, nil
}
