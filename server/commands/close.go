package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/server"
)

// Close returns a handler for the CLOSE command.
// CLOSE permanently removes the \Deleted messages of a read-write
// selection without EXPUNGE responses and returns to the authenticated
// state.
func Close() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		sel, err := selected(ctx)
		if err != nil {
			return err
		}

		if !sel.ReadOnly() {
			if _, err := ctx.Manager().Expunge(ctx.Context, sel.ID(), nil, ctx.Session.ID()); err != nil {
				return err
			}
		}
		return unselect(ctx)
	}
}

// Unselect returns a handler for the UNSELECT command (RFC 3691).
// UNSELECT closes the current mailbox without expunging.
func Unselect() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		if _, err := selected(ctx); err != nil {
			return err
		}
		return unselect(ctx)
	}
}

func unselect(ctx *server.CommandContext) error {
	ctx.Session.Unselect()
	return ctx.Conn.SetState(imap.ConnStateAuthenticated)
}
