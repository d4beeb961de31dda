package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/server"
)

// Delete returns a handler for the DELETE command. Sessions that have the
// mailbox selected, this one included, are moved out of it at their next
// command.
func Delete() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.DeleteRequest](ctx)
		if err != nil {
			return err
		}
		ctx.Mailbox = req.Mailbox

		path, err := ctx.Session.Path(req.Mailbox)
		if err != nil {
			return err
		}
		if path.Name == mailbox.Inbox {
			return imap.ErrNo("cannot delete INBOX")
		}
		return ctx.Manager().DeleteMailbox(ctx.Context, path, ctx.Session.ID())
	}
}
