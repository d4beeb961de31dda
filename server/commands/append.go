package commands

import (
	"fmt"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/server"
)

// Append returns a handler for the APPEND command.
//
// The message is stored first, then the pending unsolicited responses are
// written and only then the tagged OK carrying APPENDUID, so a client that
// sees the completion already knows the state it describes. An unknown
// target mailbox completes with NO [TRYCREATE].
func Append() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.AppendRequest](ctx)
		if err != nil {
			return err
		}
		ctx.Mailbox = req.Mailbox

		path, err := ctx.Session.Path(req.Mailbox)
		if err != nil {
			return err
		}
		mb, err := ctx.Manager().GetMailbox(ctx.Context, path)
		if err != nil {
			return err
		}

		// A message appended to the selected mailbox is announced to this
		// session by the flush below and is not recent to anyone else.
		sel := ctx.Session.Selected()
		isRecent := sel == nil || sel.ID() != mb.ID

		res, err := ctx.Manager().AppendMessage(ctx.Context, mb.ID, req.Content, req.Options.InternalDate, req.Options.Flags, isRecent, ctx.Session.ID())
		if err != nil {
			return err
		}

		ctx.Logger.WithField("mailbox", req.Mailbox).WithField("uid", res.UID).Debug("Message appended")
		ctx.WriteOK(imap.ResponseCodeAppendUID, fmt.Sprintf("%d %d", res.UIDValidity, res.UID), "APPEND completed")
		return nil
	}
}
