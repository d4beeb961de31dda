package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/server"
)

// Status returns a handler for the STATUS command.
func Status() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.StatusRequest](ctx)
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
		st, err := ctx.Manager().Status(ctx.Context, mb.ID)
		if err != nil {
			return err
		}

		data := &imap.StatusData{Mailbox: req.Mailbox}
		opts := req.Options
		if opts.NumMessages {
			data.NumMessages = &st.Messages
		}
		if opts.NumRecent {
			data.NumRecent = &st.Recent
		}
		if opts.UIDNext {
			uidNext := uint32(st.Mailbox.UIDNext)
			data.UIDNext = &uidNext
		}
		if opts.UIDValidity {
			data.UIDValidity = &st.Mailbox.UIDValidity
		}
		if opts.NumUnseen {
			data.NumUnseen = &st.Unseen
		}
		if opts.HighestModSeq {
			modSeq := uint64(st.HighestModSeq)
			data.HighestModSeq = &modSeq
		}

		server.NewListWriter(ctx.Conn.Encoder()).WriteStatus(data)
		return nil
	}
}
