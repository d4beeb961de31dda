package commands

import (
	"github.com/dyd1024/imapstore/server"
)

// Noop returns a handler for the NOOP command. It does nothing itself;
// pending mailbox updates go out before its completion.
func Noop() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		return nil
	}
}

// Check returns a handler for the CHECK command. Every write is durable
// once acknowledged, so CHECK behaves like NOOP.
func Check() server.CommandHandlerFunc {
	return Noop()
}
