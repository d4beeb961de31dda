package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/server"
)

// Expunge returns a handler for the EXPUNGE and UID EXPUNGE commands.
// The EXPUNGE responses reach this session like any other update, before
// the tagged completion.
func Expunge() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.ExpungeRequest](ctx)
		if err != nil {
			return err
		}
		sel, err := selected(ctx)
		if err != nil {
			return err
		}
		if sel.ReadOnly() {
			return imap.ErrNo("mailbox is read-only")
		}

		removed, err := ctx.Manager().Expunge(ctx.Context, sel.ID(), req.UIDs, ctx.Session.ID())
		if err != nil {
			return err
		}
		ctx.Logger.WithField("mailbox", sel.Name()).WithField("count", len(removed)).Debug("Messages expunged")
		return nil
	}
}
