package commands

import (
	"github.com/dyd1024/imapstore/server"
)

// Capability returns a handler for the CAPABILITY command.
func Capability() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		ctx.Conn.WriteCapabilities()
		return nil
	}
}
