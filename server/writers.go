package server

import (
	"sync"
	"time"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/wire"
)

// ResponseEncoder wraps a wire.Encoder with thread-safe access.
type ResponseEncoder struct {
	mu  sync.Mutex
	enc *wire.Encoder
	err error
}

// NewResponseEncoder creates a new ResponseEncoder.
func NewResponseEncoder(enc *wire.Encoder) *ResponseEncoder {
	return &ResponseEncoder{enc: enc}
}

// Encode calls the given function with exclusive access to the encoder and
// flushes what it wrote.
func (re *ResponseEncoder) Encode(fn func(enc *wire.Encoder)) {
	re.mu.Lock()
	defer re.mu.Unlock()
	fn(re.enc)
	if err := re.enc.Flush(); err != nil && re.err == nil {
		re.err = err
	}
}

// Err returns the first write error.
func (re *ResponseEncoder) Err() error {
	re.mu.Lock()
	defer re.mu.Unlock()
	return re.err
}

// FetchMessageData is one FETCH response. Zero fields are omitted, except
// Flags which is written whenever WithFlags is set.
type FetchMessageData struct {
	SeqNum       uint32
	UID          imap.UID
	Flags        []imap.Flag
	WithFlags    bool
	RFC822Size   int64
	WithSize     bool
	InternalDate time.Time
	Envelope     *imap.Envelope
	ModSeq       imap.ModSeq
	Sections     []FetchSectionData
}

// FetchSectionData is a body section returned as a literal. Name is the
// item name as echoed to the client, e.g. "BODY[HEADER]" or "RFC822".
type FetchSectionData struct {
	Name string
	Data []byte
}

// FetchWriter writes FETCH response data.
type FetchWriter struct {
	enc *ResponseEncoder
}

// NewFetchWriter creates a new FetchWriter.
func NewFetchWriter(enc *ResponseEncoder) *FetchWriter {
	return &FetchWriter{enc: enc}
}

// WriteFetchData writes a complete FETCH response for a message.
func (w *FetchWriter) WriteFetchData(data *FetchMessageData) {
	w.enc.Encode(func(enc *wire.Encoder) {
		enc.Star().Number(data.SeqNum).SP().Atom("FETCH").SP().BeginList()

		first := true
		sp := func() {
			if !first {
				enc.SP()
			}
			first = false
		}

		if data.WithFlags {
			sp()
			enc.Atom("FLAGS").SP().Flags(data.Flags)
		}

		if data.UID != 0 {
			sp()
			enc.Atom("UID").SP().Number(uint32(data.UID))
		}

		if data.WithSize {
			sp()
			enc.Atom("RFC822.SIZE").SP().Number64(uint64(data.RFC822Size))
		}

		if !data.InternalDate.IsZero() {
			sp()
			enc.Atom("INTERNALDATE").SP().DateTime(data.InternalDate)
		}

		if data.Envelope != nil {
			sp()
			enc.Atom("ENVELOPE").SP()
			writeEnvelope(enc, data.Envelope)
		}

		if data.ModSeq != 0 {
			sp()
			enc.Atom("MODSEQ").SP().BeginList().Number64(uint64(data.ModSeq)).EndList()
		}

		for _, section := range data.Sections {
			sp()
			enc.Atom(section.Name).SP().Literal(section.Data)
		}

		enc.EndList().CRLF()
	})
}

func writeEnvelope(enc *wire.Encoder, env *imap.Envelope) {
	enc.BeginList()
	if env.Date.IsZero() {
		enc.Nil()
	} else {
		enc.QuotedString(env.Date.Format(time.RFC822Z))
	}
	enc.SP()
	if env.Subject == "" {
		enc.Nil()
	} else {
		enc.String(env.Subject)
	}
	enc.SP()
	writeAddressList(enc, env.From)
	enc.SP()
	writeAddressList(enc, env.Sender)
	enc.SP()
	writeAddressList(enc, env.ReplyTo)
	enc.SP()
	writeAddressList(enc, env.To)
	enc.SP()
	writeAddressList(enc, env.Cc)
	enc.SP()
	writeAddressList(enc, env.Bcc)
	enc.SP()
	if env.InReplyTo == "" {
		enc.Nil()
	} else {
		enc.String(env.InReplyTo)
	}
	enc.SP()
	if env.MessageID == "" {
		enc.Nil()
	} else {
		enc.String(env.MessageID)
	}
	enc.EndList()
}

func writeAddressList(enc *wire.Encoder, addrs []*imap.Address) {
	if len(addrs) == 0 {
		enc.Nil()
		return
	}
	enc.BeginList()
	for i, addr := range addrs {
		if i > 0 {
			enc.SP()
		}
		enc.BeginList()
		if addr.Name != "" {
			enc.String(addr.Name)
		} else {
			enc.Nil()
		}
		enc.SP().Nil() // at-domain-list
		enc.SP()
		if addr.Mailbox != "" {
			enc.String(addr.Mailbox)
		} else {
			enc.Nil()
		}
		enc.SP()
		if addr.Host != "" {
			enc.String(addr.Host)
		} else {
			enc.Nil()
		}
		enc.EndList()
	}
	enc.EndList()
}

// ListWriter writes LIST responses.
type ListWriter struct {
	enc *ResponseEncoder
}

// NewListWriter creates a new ListWriter.
func NewListWriter(enc *ResponseEncoder) *ListWriter {
	return &ListWriter{enc: enc}
}

// WriteList writes a single LIST response. A zero delim is written as NIL.
func (w *ListWriter) WriteList(attrs []string, delim rune, name string) {
	w.enc.Encode(func(enc *wire.Encoder) {
		enc.Star().Atom("LIST").SP().BeginList()
		for i, attr := range attrs {
			if i > 0 {
				enc.SP()
			}
			enc.Atom(attr)
		}
		enc.EndList().SP()
		if delim == 0 {
			enc.Nil()
		} else {
			enc.QuotedString(string(delim))
		}
		enc.SP().MailboxName(name).CRLF()
	})
}

// WriteStatus writes an untagged STATUS response.
func (w *ListWriter) WriteStatus(data *imap.StatusData) {
	w.enc.Encode(func(enc *wire.Encoder) {
		enc.Star().Atom("STATUS").SP().MailboxName(data.Mailbox).SP().BeginList()
		first := true
		sp := func() {
			if !first {
				enc.SP()
			}
			first = false
		}
		if data.NumMessages != nil {
			sp()
			enc.Atom("MESSAGES").SP().Number(*data.NumMessages)
		}
		if data.NumRecent != nil {
			sp()
			enc.Atom("RECENT").SP().Number(*data.NumRecent)
		}
		if data.UIDNext != nil {
			sp()
			enc.Atom("UIDNEXT").SP().Number(*data.UIDNext)
		}
		if data.UIDValidity != nil {
			sp()
			enc.Atom("UIDVALIDITY").SP().Number(*data.UIDValidity)
		}
		if data.NumUnseen != nil {
			sp()
			enc.Atom("UNSEEN").SP().Number(*data.NumUnseen)
		}
		if data.HighestModSeq != nil {
			sp()
			enc.Atom("HIGHESTMODSEQ").SP().Number64(*data.HighestModSeq)
		}
		enc.EndList().CRLF()
	})
}

// WriteMetadata writes an untagged METADATA response. Entries without a
// value are written as NIL.
func (w *ListWriter) WriteMetadata(mailbox string, entries []imap.MetadataEntry) {
	w.enc.Encode(func(enc *wire.Encoder) {
		enc.Star().Atom("METADATA").SP().MailboxName(mailbox).SP().BeginList()
		for i, e := range entries {
			if i > 0 {
				enc.SP()
			}
			enc.AString(e.Name).SP()
			if e.Value == nil {
				enc.Nil()
			} else {
				enc.String(*e.Value)
			}
		}
		enc.EndList().CRLF()
	})
}

// UpdateWriter writes unsolicited updates.
type UpdateWriter struct {
	enc *ResponseEncoder
}

// NewUpdateWriter creates a new UpdateWriter.
func NewUpdateWriter(enc *ResponseEncoder) *UpdateWriter {
	return &UpdateWriter{enc: enc}
}

// WriteExists writes an EXISTS update.
func (w *UpdateWriter) WriteExists(num uint32) {
	w.enc.Encode(func(enc *wire.Encoder) {
		enc.NumResponse(num, "EXISTS")
	})
}

// WriteExpunge writes an EXPUNGE update.
func (w *UpdateWriter) WriteExpunge(seqNum uint32) {
	w.enc.Encode(func(enc *wire.Encoder) {
		enc.NumResponse(seqNum, "EXPUNGE")
	})
}

// WriteRecent writes a RECENT update.
func (w *UpdateWriter) WriteRecent(num uint32) {
	w.enc.Encode(func(enc *wire.Encoder) {
		enc.NumResponse(num, "RECENT")
	})
}

// WriteMessageFlags writes updated flags for a message.
func (w *UpdateWriter) WriteMessageFlags(seqNum uint32, uid imap.UID, flags []imap.Flag) {
	w.enc.Encode(func(enc *wire.Encoder) {
		enc.Star().Number(seqNum).SP().Atom("FETCH").SP().
			BeginList().Atom("UID").SP().Number(uint32(uid)).SP().
			Atom("FLAGS").SP().Flags(flags).EndList().CRLF()
	})
}
