package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/server"
)

// Rename returns a handler for the RENAME command. Messages keep their
// UIDs and the UIDVALIDITY of the mailbox is unchanged.
func Rename() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.RenameRequest](ctx)
		if err != nil {
			return err
		}
		ctx.Mailbox = req.From

		from, err := ctx.Session.Path(req.From)
		if err != nil {
			return err
		}
		to, err := ctx.Session.Path(req.To)
		if err != nil {
			return err
		}
		// TODO: RFC 3501 renames INBOX by moving its messages into the new
		// mailbox and leaving an empty INBOX behind.
		if from.Name == mailbox.Inbox {
			return imap.ErrNoWithCode(imap.ResponseCodeCannot, "cannot rename INBOX")
		}
		if to.Name == mailbox.Inbox {
			return imap.ErrNoWithCode(imap.ResponseCodeAlreadyExists, "INBOX always exists")
		}
		return ctx.Manager().RenameMailbox(ctx.Context, from, to)
	}
}
