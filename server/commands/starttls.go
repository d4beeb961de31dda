package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/server"
)

// StartTLS returns a handler for the STARTTLS command. Anything the client
// pipelined behind STARTTLS is dropped before the handshake.
func StartTLS() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		if ctx.Conn.IsTLS() {
			return imap.ErrBad("already using TLS")
		}

		opts := ctx.Server.Options()
		if !opts.EnableStartTLS || opts.TLSConfig == nil {
			return imap.ErrNo("STARTTLS not available")
		}

		ctx.WriteOK("", nil, "Begin TLS negotiation now")

		if err := ctx.Conn.UpgradeTLS(opts.TLSConfig); err != nil {
			ctx.Logger.WithError(err).Warn("TLS negotiation failed")
			return imap.ErrBye("TLS negotiation failed")
		}
		return nil
	}
}
