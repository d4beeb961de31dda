package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/server"
)

// Logout returns a handler for the LOGOUT command.
func Logout() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		ctx.Conn.WriteBYE("LOGOUT requested")
		ctx.Session.Unselect()
		if err := ctx.Conn.SetState(imap.ConnStateLogout); err != nil {
			return err
		}
		return nil
	}
}
