// Package commands provides the built-in IMAP command handlers for the server.
//
// Each handler receives the request the decode package produced for its
// verb, runs it against the session's mailbox.Manager and either returns
// an error, which the server turns into the tagged completion, or
// completes the command itself.
//
// Importing this package automatically registers all built-in handlers
// via the init function, so that server.New() includes them by default.
package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/server"
)

func init() {
	server.RegisterBuiltinFunc = RegisterAll
}

// RegisterAll registers all built-in IMAP command handlers on the given server.
func RegisterAll(srv *server.Server) {
	// Any state commands
	srv.HandleFunc(imap.CommandCapability, Capability())
	srv.HandleFunc(imap.CommandNoop, Noop())
	srv.HandleFunc(imap.CommandLogout, Logout())

	// Not authenticated state commands
	srv.HandleFunc(imap.CommandStartTLS, StartTLS())
	srv.HandleFunc(imap.CommandLogin, Login())
	srv.HandleFunc(imap.CommandAuthenticate, Authenticate())

	// Authenticated state commands
	srv.HandleFunc(imap.CommandSelect, Select())
	srv.HandleFunc(imap.CommandExamine, Examine())
	srv.HandleFunc(imap.CommandCreate, Create())
	srv.HandleFunc(imap.CommandDelete, Delete())
	srv.HandleFunc(imap.CommandRename, Rename())
	srv.HandleFunc(imap.CommandList, List())
	srv.HandleFunc(imap.CommandStatus, Status())
	srv.HandleFunc(imap.CommandAppend, Append())
	srv.HandleFunc(imap.CommandSetMetadata, SetMetadata())
	srv.HandleFunc(imap.CommandGetMetadata, GetMetadata())

	// Selected state commands
	srv.HandleFunc(imap.CommandCheck, Check())
	srv.HandleFunc(imap.CommandClose, Close())
	srv.HandleFunc(imap.CommandUnselect, Unselect())
	srv.HandleFunc(imap.CommandExpunge, Expunge())
	srv.HandleFunc(imap.CommandFetch, Fetch())
	srv.HandleFunc(imap.CommandStore, Store())
	srv.HandleFunc(imap.CommandCopy, Copy())
}

// request returns the decoded request of ctx as T.
func request[T any](ctx *server.CommandContext) (T, error) {
	req, ok := ctx.Request.(T)
	if !ok {
		var zero T
		return zero, imap.ErrBad("invalid arguments")
	}
	return req, nil
}

// selected returns the selected mailbox of the session.
func selected(ctx *server.CommandContext) (*server.SelectedMailbox, error) {
	sel := ctx.Session.Selected()
	if sel == nil {
		return nil, imap.ErrBad("no mailbox selected")
	}
	ctx.Mailbox = sel.Name()
	return sel, nil
}
