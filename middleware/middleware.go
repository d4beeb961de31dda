// Package middleware wraps command handlers with cross-cutting behavior:
// logging, metrics, panic recovery, rate limiting and timeouts.
package middleware

import (
	"github.com/sirupsen/logrus"

	"github.com/dyd1024/imapstore/server"
)

// Middleware wraps a CommandHandler to add behavior before/after handling.
type Middleware func(next server.CommandHandler) server.CommandHandler

// Chain composes multiple middlewares into a single middleware.
// The first middleware in the list is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next server.CommandHandler) server.CommandHandler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Apply wraps every handler registered on srv with mw.
func Apply(srv *server.Server, mw Middleware) {
	for _, name := range srv.Dispatcher().Names() {
		srv.WrapHandler(name, func(h server.CommandHandler) server.CommandHandler {
			return mw(h)
		})
	}
}

// ApplyChain applies a chain of middlewares to all registered handlers.
func ApplyChain(srv *server.Server, middlewares ...Middleware) {
	Apply(srv, Chain(middlewares...))
}

func entry(ctx *server.CommandContext) *logrus.Entry {
	switch {
	case ctx.Logger != nil:
		return ctx.Logger
	case ctx.Conn != nil:
		return ctx.Conn.Logger()
	default:
		return logrus.NewEntry(logrus.StandardLogger())
	}
}
