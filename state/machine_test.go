package state

import (
	"testing"

	imap "github.com/dyd1024/imapstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineLifecycle(t *testing.T) {
	m := New(imap.ConnStateNotAuthenticated)

	assert.Error(t, m.Transition(imap.ConnStateSelected), "cannot select before login")
	require.NoError(t, m.Transition(imap.ConnStateAuthenticated))
	require.NoError(t, m.Transition(imap.ConnStateSelected))
	require.NoError(t, m.Transition(imap.ConnStateSelected), "re-select")
	require.NoError(t, m.Transition(imap.ConnStateAuthenticated))
	require.NoError(t, m.Transition(imap.ConnStateLogout))

	assert.Equal(t, imap.ConnStateLogout, m.State())
	for _, s := range []imap.ConnState{imap.ConnStateNotAuthenticated, imap.ConnStateAuthenticated, imap.ConnStateSelected} {
		assert.False(t, m.CanTransition(s), "logout is terminal")
	}
}

func TestMachineHooks(t *testing.T) {
	m := New(imap.ConnStateAuthenticated)
	var seen [][2]imap.ConnState
	m.OnTransition(func(from, to imap.ConnState) {
		seen = append(seen, [2]imap.ConnState{from, to})
	})

	require.NoError(t, m.Transition(imap.ConnStateSelected))
	assert.Error(t, m.Transition(imap.ConnStateNotAuthenticated))
	require.NoError(t, m.Transition(imap.ConnStateAuthenticated))

	assert.Equal(t, [][2]imap.ConnState{
		{imap.ConnStateAuthenticated, imap.ConnStateSelected},
		{imap.ConnStateSelected, imap.ConnStateAuthenticated},
	}, seen)
}

func TestCommandAllowedStates(t *testing.T) {
	tests := []struct {
		cmd   string
		state imap.ConnState
		ok    bool
	}{
		{imap.CommandNoop, imap.ConnStateNotAuthenticated, true},
		{imap.CommandLogin, imap.ConnStateAuthenticated, false},
		{imap.CommandAppend, imap.ConnStateNotAuthenticated, false},
		{imap.CommandAppend, imap.ConnStateAuthenticated, true},
		{imap.CommandAppend, imap.ConnStateSelected, true},
		{imap.CommandFetch, imap.ConnStateAuthenticated, false},
		{imap.CommandStore, imap.ConnStateSelected, true},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+"/"+tt.state.String(), func(t *testing.T) {
			m := New(tt.state)
			err := m.RequireState(CommandAllowedStates(tt.cmd)...)
			assert.Equal(t, tt.ok, err == nil)
		})
	}

	assert.Nil(t, CommandAllowedStates("XYZZY"))
}
