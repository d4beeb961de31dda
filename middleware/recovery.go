package middleware

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/server"
)

// Recovery turns a panicking handler into a NO completion and logs the
// stack.
func Recovery() Middleware {
	return func(next server.CommandHandler) server.CommandHandler {
		return server.CommandHandlerFunc(func(ctx *server.CommandContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					entry(ctx).WithFields(logrus.Fields{
						"command": ctx.Name,
						"panic":   r,
						"stack":   string(debug.Stack()),
					}).Error("Panic in command handler")
					err = imap.ErrNo("internal server error")
				}
			}()

			return next.Handle(ctx)
		})
	}
}
