package commands

import (
	"strings"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/server"
	"github.com/dyd1024/imapstore/wire"
)

// Select returns a handler for the SELECT command.
// SELECT opens a mailbox in read-write mode.
func Select() server.CommandHandlerFunc {
	return handleSelect()
}

// Examine returns a handler for the EXAMINE command.
// EXAMINE opens a mailbox in read-only mode.
func Examine() server.CommandHandlerFunc {
	return handleSelect()
}

func handleSelect() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.SelectRequest](ctx)
		if err != nil {
			return err
		}
		ctx.Mailbox = req.Mailbox

		sel, data, err := ctx.Session.Select(ctx.Context, req.Mailbox, req.ReadOnly)
		if err != nil {
			// The previous selection is gone even when the new one failed.
			if ctx.State() == imap.ConnStateSelected {
				if serr := ctx.Conn.SetState(imap.ConnStateAuthenticated); serr != nil {
					return serr
				}
			}
			return err
		}
		if ctx.State() != imap.ConnStateSelected {
			if err := ctx.Conn.SetState(imap.ConnStateSelected); err != nil {
				ctx.Session.Unselect()
				return err
			}
		}

		enc := ctx.Conn.Encoder()
		enc.Encode(func(e *wire.Encoder) {
			e.Star().Atom("FLAGS").SP().Flags(data.Flags).CRLF()
			e.NumResponse(data.NumMessages, "EXISTS")
			e.NumResponse(data.NumRecent, "RECENT")
		})
		if data.FirstUnseen > 0 {
			ctx.Conn.WriteUntaggedOK(imap.ResponseCodeUnseen, data.FirstUnseen, "first unseen message")
		}
		ctx.Conn.WriteUntaggedOK(imap.ResponseCodePermanentFlags, flagList(data.PermanentFlags), "permanent flags")
		ctx.Conn.WriteUntaggedOK(imap.ResponseCodeUIDValidity, data.UIDValidity, "UIDs valid")
		ctx.Conn.WriteUntaggedOK(imap.ResponseCodeUIDNext, uint32(data.UIDNext), "predicted next UID")
		if data.HighestModSeq > 0 {
			ctx.Conn.WriteUntaggedOK(imap.ResponseCodeHighestModSeq, uint64(data.HighestModSeq), "highest modseq")
		}

		ctx.Logger.WithField("mailbox", sel.Name()).Debug("Mailbox selected")

		code := imap.ResponseCodeReadWrite
		if data.ReadOnly {
			code = imap.ResponseCodeReadOnly
		}
		ctx.WriteOK(code, nil, ctx.Name+" completed")
		return nil
	}
}

// flagList formats flags as a parenthesized list for a response code.
func flagList(flags []imap.Flag) string {
	strs := make([]string, len(flags))
	for i, f := range flags {
		strs[i] = string(f)
	}
	return "(" + strings.Join(strs, " ") + ")"
}
