package commands

import (
	"strconv"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/server"
)

// Fetch returns a handler for the FETCH and UID FETCH commands.
// Serving a non-peek body section marks the message \Seen when the
// mailbox is read-write, and FLAGS is then returned with it.
func Fetch() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.FetchRequest](ctx)
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
		if len(uids) == 0 {
			return nil
		}
		set := imap.UIDSetOf(uids...)

		opts := req.Options
		if ctx.UID {
			opts.UID = true
		}
		if opts.SetsSeen() && !sel.ReadOnly() {
			update := mailbox.FlagsUpdate{Mode: mailbox.FlagsAdd, Flags: []imap.Flag{imap.FlagSeen}}
			if _, err := ctx.Manager().MutateFlags(ctx.Context, sel.ID(), set, update, ctx.Session.ID()); err != nil {
				return err
			}
			opts.Flags = true
		}

		fetchType := mailbox.FetchMetadata
		if len(opts.BodySection) > 0 || opts.Envelope {
			fetchType = mailbox.FetchFull
		}
		msgs, err := ctx.Manager().Messages(ctx.Context, sel.ID(), set, fetchType)
		if err != nil {
			return err
		}

		w := server.NewFetchWriter(ctx.Conn.Encoder())
		for _, msg := range msgs {
			// Expunged by another session and not yet announced.
			seq, ok := sel.SeqNum(msg.UID)
			if !ok {
				continue
			}
			w.WriteFetchData(fetchData(sel, msg, seq, &opts))
		}
		return nil
	}
}

func fetchData(sel *server.SelectedMailbox, msg *mailbox.Message, seq uint32, opts *imap.FetchOptions) *server.FetchMessageData {
	data := &server.FetchMessageData{SeqNum: seq}
	if opts.UID {
		data.UID = msg.UID
	}
	if opts.Flags {
		data.WithFlags = true
		data.Flags = sessionFlags(sel, msg.UID, msg.Flags)
	}
	if opts.RFC822Size {
		data.WithSize = true
		data.RFC822Size = msg.Size
	}
	if opts.InternalDate {
		data.InternalDate = msg.InternalDate
	}
	if opts.Envelope {
		data.Envelope = mailbox.Envelope(msg.Content)
	}
	if opts.ModSeq {
		data.ModSeq = msg.ModSeq
	}
	for _, bs := range opts.BodySection {
		data.Sections = append(data.Sections, server.FetchSectionData{
			Name: sectionName(bs),
			Data: sectionData(msg.Content, bs),
		})
	}
	return data
}

// sessionFlags returns the stored flags plus \Recent when the message is
// recent to this session.
func sessionFlags(sel *server.SelectedMailbox, uid imap.UID, flags mailbox.Flags) []imap.Flag {
	out := flags.Clone()
	if sel.IsRecent(uid) {
		out = append(out, imap.FlagRecent)
	}
	return out
}

func sectionName(bs *imap.FetchItemBodySection) string {
	if bs.Alias != "" {
		return bs.Alias
	}
	name := "BODY[" + bs.Specifier + "]"
	if bs.Partial != nil {
		name += "<" + strconv.FormatInt(bs.Partial.Offset, 10) + ">"
	}
	return name
}

func sectionData(content []byte, bs *imap.FetchItemBodySection) []byte {
	data := content
	switch bs.Specifier {
	case imap.SectionHeader:
		data, _ = mailbox.SplitMessage(content)
	case imap.SectionText:
		_, data = mailbox.SplitMessage(content)
	}
	if p := bs.Partial; p != nil {
		if p.Offset >= int64(len(data)) {
			return []byte{}
		}
		data = data[p.Offset:]
		if p.Count < int64(len(data)) {
			data = data[:p.Count]
		}
	}
	if data == nil {
		data = []byte{}
	}
	return data
}
