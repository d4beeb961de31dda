package commands

import (
	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/server"
)

// Store returns a handler for the STORE and UID STORE commands.
// Unless .SILENT was given the resulting flags of every addressed message
// are returned, changed or not.
func Store() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.StoreRequest](ctx)
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

		uids, err := sel.Resolve(req.Set)
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return nil
		}
		set := imap.UIDSetOf(uids...)

		update := mailbox.FlagsUpdate{Mode: storeMode(req.Flags.Action)}
		// \Recent is managed by the server.
		for _, f := range req.Flags.Flags {
			if imap.CanonicalFlag(f) != imap.FlagRecent {
				update.Flags = append(update.Flags, f)
			}
		}
		if _, err := ctx.Manager().MutateFlags(ctx.Context, sel.ID(), set, update, ctx.Session.ID()); err != nil {
			return err
		}
		if req.Flags.Silent {
			return nil
		}

		msgs, err := ctx.Manager().Messages(ctx.Context, sel.ID(), set, mailbox.FetchMetadata)
		if err != nil {
			return err
		}
		w := server.NewFetchWriter(ctx.Conn.Encoder())
		for _, msg := range msgs {
			seq, ok := sel.SeqNum(msg.UID)
			if !ok {
				continue
			}
			data := &server.FetchMessageData{
				SeqNum:    seq,
				WithFlags: true,
				Flags:     sessionFlags(sel, msg.UID, msg.Flags),
			}
			if ctx.UID {
				data.UID = msg.UID
			}
			w.WriteFetchData(data)
		}
		return nil
	}
}

func storeMode(action imap.StoreAction) mailbox.FlagsMode {
	switch action {
	case imap.StoreFlagsAdd:
		return mailbox.FlagsAdd
	case imap.StoreFlagsDel:
		return mailbox.FlagsRemove
	default:
		return mailbox.FlagsReplace
	}
}
