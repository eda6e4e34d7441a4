package broadcaster

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrIllegalTransition = errors.New("illegal connection state transition")

// ConnState is the lifecycle of a client connection. Only Admitted
// connections receive updates.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateAdmitted
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAdmitted:
		return "admitted"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

func (s ConnState) canTransitionTo(next ConnState) bool {
	switch s {
	case StateConnecting:
		return next == StateAuthenticating || next == StateDisconnected
	case StateAuthenticating:
		return next == StateAdmitted || next == StateDisconnected
	case StateAdmitted:
		return next == StateDisconnected
	default:
		return false
	}
}

// StateMachine guards a single connection's state. It is safe for concurrent
// use.
type StateMachine struct {
	state atomic.Int32
}

func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

func (m *StateMachine) Current() ConnState {
	return ConnState(m.state.Load())
}

func (m *StateMachine) Transition(next ConnState) error {
	for {
		current := m.Current()
		if !current.canTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, next)
		}
		if m.state.CompareAndSwap(int32(current), int32(next)) {
			return nil
		}
	}
}
