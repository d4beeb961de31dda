package middleware

import (
	"context"
	"errors"
	"time"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/server"
)

// Timeout bounds the context passed to the handler. A handler that fails
// because the deadline passed completes with NO.
func Timeout(d time.Duration) Middleware {
	return func(next server.CommandHandler) server.CommandHandler {
		return server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
			parent := ctx.Context
			if parent == nil {
				parent = context.Background()
			}
			timeoutCtx, cancel := context.WithTimeout(parent, d)
			defer cancel()

			ctx.Context = timeoutCtx
			defer func() { ctx.Context = parent }()

			err := next.Handle(ctx)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
				return imap.ErrNo("command timed out")
			}
			return err
		})
	}
}
