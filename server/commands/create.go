package commands

import (
	"strings"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/server"
)

// Create returns a handler for the CREATE command. A trailing hierarchy
// delimiter only declares intent to create children and is dropped.
func Create() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.CreateRequest](ctx)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(req.Mailbox, string(server.Delimiter))
		ctx.Mailbox = name

		path, err := ctx.Session.Path(name)
		if err != nil {
			return err
		}
		if path.Name == mailbox.Inbox {
			return imap.ErrNoWithCode(imap.ResponseCodeAlreadyExists, "INBOX always exists")
		}
		if _, err := ctx.Manager().CreateMailbox(ctx.Context, path); err != nil {
			return err
		}
		return nil
	}
}
