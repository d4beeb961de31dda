package state

import (
	imap "github.com/dyd1024/imapstore"
)

// DefaultTransitions returns the allowed transitions:
//   - NotAuthenticated -> Authenticated (LOGIN/AUTHENTICATE)
//   - Authenticated -> Selected (SELECT/EXAMINE)
//   - Selected -> Selected (SELECT/EXAMINE of another mailbox)
//   - Selected -> Authenticated (CLOSE/UNSELECT, failed SELECT, mailbox gone)
//   - any -> Logout
func DefaultTransitions() map[imap.ConnState][]imap.ConnState {
	return map[imap.ConnState][]imap.ConnState{
		imap.ConnStateNotAuthenticated: {
			imap.ConnStateAuthenticated,
			imap.ConnStateLogout,
		},
		imap.ConnStateAuthenticated: {
			imap.ConnStateSelected,
			imap.ConnStateLogout,
		},
		imap.ConnStateSelected: {
			imap.ConnStateAuthenticated,
			imap.ConnStateSelected,
			imap.ConnStateLogout,
		},
	}
}

var (
	anyState      = []imap.ConnState{imap.ConnStateNotAuthenticated, imap.ConnStateAuthenticated, imap.ConnStateSelected}
	notAuthState  = []imap.ConnState{imap.ConnStateNotAuthenticated}
	authenticated = []imap.ConnState{imap.ConnStateAuthenticated, imap.ConnStateSelected}
	selectedState = []imap.ConnState{imap.ConnStateSelected}
)

// CommandAllowedStates returns the states in which a command is accepted,
// or nil for commands the server does not know.
func CommandAllowedStates(cmd string) []imap.ConnState {
	switch cmd {
	case imap.CommandCapability, imap.CommandNoop, imap.CommandLogout:
		return anyState

	case imap.CommandStartTLS, imap.CommandAuthenticate, imap.CommandLogin:
		return notAuthState

	case imap.CommandSelect, imap.CommandExamine, imap.CommandCreate,
		imap.CommandDelete, imap.CommandRename, imap.CommandList,
		imap.CommandStatus, imap.CommandAppend,
		imap.CommandSetMetadata, imap.CommandGetMetadata:
		return authenticated

	case imap.CommandCheck, imap.CommandClose, imap.CommandUnselect,
		imap.CommandExpunge, imap.CommandFetch, imap.CommandStore,
		imap.CommandCopy, imap.CommandUID:
		return selectedState

	default:
		return nil
	}
}
