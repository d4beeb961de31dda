package commands

import (
	"fmt"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/server"
)

// Copy returns a handler for the COPY and UID COPY commands. An unknown
// destination completes with NO [TRYCREATE].
func Copy() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.CopyRequest](ctx)
		if err != nil {
			return err
		}
		sel, err := selected(ctx)
		if err != nil {
			return err
		}

		uids, err := sel.Resolve(req.Set)
		if err != nil {
			return err
		}

		ctx.Mailbox = req.Mailbox
		path, err := ctx.Session.Path(req.Mailbox)
		if err != nil {
			return err
		}
		dest, err := ctx.Manager().GetMailbox(ctx.Context, path)
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return nil
		}

		res, err := ctx.Manager().Copy(ctx.Context, sel.ID(), dest.ID, imap.UIDSetOf(uids...), ctx.Session.ID())
		if err != nil {
			return err
		}
		if len(res.DestUIDs) == 0 {
			return nil
		}

		arg := fmt.Sprintf("%d %s %s", res.UIDValidity, imap.UIDSetOf(res.SourceUIDs...), imap.UIDSetOf(res.DestUIDs...))
		ctx.WriteOK(imap.ResponseCodeCopyUID, arg, "COPY completed")
		return nil
	}
}
