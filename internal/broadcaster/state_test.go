package broadcaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_HappyPath(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, StateConnecting, m.Current())

	require.NoError(t, m.Transition(StateAuthenticating))
	require.NoError(t, m.Transition(StateAdmitted))
	require.NoError(t, m.Transition(StateDisconnected))
	assert.Equal(t, StateDisconnected, m.Current())
}

func TestStateMachine_RejectedHandshake(t *testing.T) {
	m := NewStateMachine()
	require.NoError(t, m.Transition(StateAuthenticating))
	require.NoError(t, m.Transition(StateDisconnected))

	assert.ErrorIs(t, m.Transition(StateAdmitted), ErrIllegalTransition)
}

func TestStateMachine_IllegalTransitions(t *testing.T) {
	cases := []struct {
		from []ConnState
		to   ConnState
	}{
		{to: StateAdmitted},
		{from: []ConnState{StateAuthenticating}, to: StateConnecting},
		{from: []ConnState{StateAuthenticating, StateAdmitted}, to: StateAuthenticating},
		{from: []ConnState{StateDisconnected}, to: StateDisconnected},
	}

	for _, tc := range cases {
		m := NewStateMachine()
		for _, s := range tc.from {
			require.NoError(t, m.Transition(s))
		}
		assert.ErrorIs(t, m.Transition(tc.to), ErrIllegalTransition, "%v -> %s", tc.from, tc.to)
	}
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "admitted", StateAdmitted.String())
	assert.Equal(t, "unknown(9)", ConnState(9).String())
}
