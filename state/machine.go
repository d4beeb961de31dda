// Package state tracks the IMAP session state and validates transitions.
package state

import (
	"fmt"
	"sync"

	imap "github.com/dyd1024/imapstore"
)

// TransitionHook is called after every successful transition.
type TransitionHook func(from, to imap.ConnState)

// Machine manages IMAP session state transitions.
type Machine struct {
	mu          sync.RWMutex
	state       imap.ConnState
	transitions map[imap.ConnState][]imap.ConnState
	hooks       []TransitionHook
}

// New creates a new state machine starting in the given state.
func New(initial imap.ConnState) *Machine {
	return &Machine{
		state:       initial,
		transitions: DefaultTransitions(),
	}
}

// State returns the current state.
func (m *Machine) State() imap.ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves to target or fails if the move is not allowed.
func (m *Machine) Transition(target imap.ConnState) error {
	m.mu.Lock()
	from := m.state
	if !m.canTransition(from, target) {
		m.mu.Unlock()
		return fmt.Errorf("imap: invalid state transition from %s to %s", from, target)
	}
	m.state = target
	hooks := m.hooks
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(from, target)
	}
	return nil
}

// RequireState checks that the current state is one of the allowed states.
func (m *Machine) RequireState(allowed ...imap.ConnState) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range allowed {
		if m.state == s {
			return nil
		}
	}
	return fmt.Errorf("command not allowed in %s state", m.state)
}

// OnTransition registers a hook run after each transition.
func (m *Machine) OnTransition(hook TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// CanTransition returns whether moving from the current state to target is
// allowed.
func (m *Machine) CanTransition(target imap.ConnState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canTransition(m.state, target)
}

func (m *Machine) canTransition(from, to imap.ConnState) bool {
	for _, s := range m.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
