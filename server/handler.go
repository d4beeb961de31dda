package server

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

// CommandHandler handles an IMAP command.
type CommandHandler interface {
	Handle(ctx *CommandContext) error
}

// CommandHandlerFunc is a function that implements CommandHandler.
type CommandHandlerFunc func(ctx *CommandContext) error

// Handle implements CommandHandler.
func (f CommandHandlerFunc) Handle(ctx *CommandContext) error {
	return f(ctx)
}

// CommandContext provides context for handling a single IMAP command.
//
// A handler either returns an error, which the dispatcher turns into the
// tagged completion, or writes the completion itself with WriteOK.
type CommandContext struct {
	// Context is cancelled when the connection goes away.
	Context context.Context

	// Tag is the command tag.
	Tag string

	// Name is the command name (uppercase, without the UID prefix).
	Name string

	// UID is set for UID FETCH, UID STORE, UID COPY and UID EXPUNGE.
	UID bool

	// Request is the decoded argument struct from the decode package.
	Request interface{}

	// Conn is the connection this command was received on.
	Conn *Conn

	// Session is the per-connection state.
	Session *Session

	// Server is the server instance.
	Server *Server

	// Logger carries the connection, tag and command fields.
	Logger *logrus.Entry

	// Mailbox is the mailbox name the command operates on, for logging.
	Mailbox string

	completed bool

	// values stores middleware-injected values for the duration of this command.
	mu     sync.RWMutex
	values map[string]interface{}
}

// SetValue stores a value in the command context (for middleware data passing).
func (ctx *CommandContext) SetValue(key string, value interface{}) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.values == nil {
		ctx.values = make(map[string]interface{})
	}
	ctx.values[key] = value
}

// Value retrieves a value from the command context.
func (ctx *CommandContext) Value(key string) (interface{}, bool) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	v, ok := ctx.values[key]
	return v, ok
}

// State returns the current connection state.
func (ctx *CommandContext) State() imap.ConnState {
	return ctx.Conn.State()
}

// Manager returns the mailbox manager.
func (ctx *CommandContext) Manager() *mailbox.Manager {
	return ctx.Session.Manager()
}

// WriteOK flushes the pending unsolicited responses and completes the
// command with OK.
func (ctx *CommandContext) WriteOK(code imap.ResponseCode, codeArg interface{}, text string) {
	ctx.complete(&imap.StatusResponse{Type: imap.StatusResponseTypeOK, Code: code, CodeArg: codeArg, Text: text})
}

func (ctx *CommandContext) complete(resp *imap.StatusResponse) {
	if ctx.completed {
		return
	}
	ctx.completed = true
	ctx.Conn.flushUpdates(ctx.Context, ctx.allowExpunge())
	ctx.Conn.writeStatus(ctx.Tag, resp)
}

// allowExpunge reports whether EXPUNGE responses may precede the
// completion. Sequence-number FETCH, STORE and COPY must not see messages
// renumbered under them.
func (ctx *CommandContext) allowExpunge() bool {
	switch ctx.Name {
	case imap.CommandFetch, imap.CommandStore, imap.CommandCopy:
		return ctx.UID
	}
	return true
}
