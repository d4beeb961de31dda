package wire

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/utf7"

	imap "github.com/dyd1024/imapstore"
)

// Encoder writes IMAP responses to an io.Writer through a fluent API.
// Write errors are sticky and reported by Flush.
type Encoder struct {
	w   *bufio.Writer
	err error
}

// NewEncoder creates a new Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriterSize(w, 4096)
	}
	return &Encoder{w: bw}
}

func (e *Encoder) writeString(s string) {
	if e.err == nil {
		_, e.err = e.w.WriteString(s)
	}
}

func (e *Encoder) writeByte(b byte) {
	if e.err == nil {
		e.err = e.w.WriteByte(b)
	}
}

func (e *Encoder) write(p []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(p)
	}
}

// Flush flushes buffered data and returns the first write error.
func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

// Atom writes an atom verbatim.
func (e *Encoder) Atom(s string) *Encoder {
	e.writeString(s)
	return e
}

// SP writes a space.
func (e *Encoder) SP() *Encoder {
	e.writeByte(' ')
	return e
}

// CRLF writes a CRLF.
func (e *Encoder) CRLF() *Encoder {
	e.writeString("\r\n")
	return e
}

// QuotedString writes a quoted string, escaping special characters.
func (e *Encoder) QuotedString(s string) *Encoder {
	e.writeByte('"')
	for i := 0; i < len(s); i++ {
		if IsQuotedSpecial(s[i]) {
			e.writeByte('\\')
		}
		e.writeByte(s[i])
	}
	e.writeByte('"')
	return e
}

// String writes a string as a quoted string or, when it holds bytes a
// quoted string cannot carry, as a literal.
func (e *Encoder) String(s string) *Encoder {
	if NeedsLiteral(s) {
		return e.Literal([]byte(s))
	}
	return e.QuotedString(s)
}

// AString writes an atom when possible, a string otherwise.
func (e *Encoder) AString(s string) *Encoder {
	if NeedsQuoting(s) || NeedsLiteral(s) {
		return e.String(s)
	}
	return e.Atom(s)
}

// NString writes NIL for an empty value, a string otherwise.
func (e *Encoder) NString(s string) *Encoder {
	if s == "" {
		return e.Nil()
	}
	return e.String(s)
}

// Nil writes NIL.
func (e *Encoder) Nil() *Encoder {
	e.writeString("NIL")
	return e
}

// Number writes an unsigned 32-bit number.
func (e *Encoder) Number(n uint32) *Encoder {
	e.writeString(strconv.FormatUint(uint64(n), 10))
	return e
}

// Number64 writes an unsigned 64-bit number.
func (e *Encoder) Number64(n uint64) *Encoder {
	e.writeString(strconv.FormatUint(n, 10))
	return e
}

// Literal writes a literal {n}\r\n<data>.
func (e *Encoder) Literal(data []byte) *Encoder {
	e.writeByte('{')
	e.writeString(strconv.Itoa(len(data)))
	e.writeString("}\r\n")
	e.write(data)
	return e
}

// BeginList writes an opening parenthesis.
func (e *Encoder) BeginList() *Encoder {
	e.writeByte('(')
	return e
}

// EndList writes a closing parenthesis.
func (e *Encoder) EndList() *Encoder {
	e.writeByte(')')
	return e
}

// Flags writes a parenthesized list of flags.
func (e *Encoder) Flags(flags []imap.Flag) *Encoder {
	e.BeginList()
	for i, f := range flags {
		if i > 0 {
			e.SP()
		}
		e.Atom(string(f))
	}
	return e.EndList()
}

// DateTime writes a date-time in DD-Mon-YYYY HH:MM:SS +ZZZZ format.
func (e *Encoder) DateTime(t time.Time) *Encoder {
	return e.QuotedString(t.Format(imap.InternalDateLayout))
}

// Tag writes a command tag.
func (e *Encoder) Tag(tag string) *Encoder {
	e.writeString(tag)
	return e
}

// Star writes the untagged response prefix "* ".
func (e *Encoder) Star() *Encoder {
	e.writeString("* ")
	return e
}

// StatusResponse writes a status response line. An empty or "*" tag
// produces an untagged response.
func (e *Encoder) StatusResponse(tag, status, code, text string) *Encoder {
	if tag == "" || tag == "*" {
		e.Star()
	} else {
		e.Tag(tag).SP()
	}
	e.Atom(status)
	if code != "" {
		e.writeString(" [")
		e.writeString(code)
		e.writeByte(']')
	}
	if text != "" {
		e.SP()
		e.writeString(text)
	}
	return e.CRLF()
}

// Status writes resp as the completion of tag.
func (e *Encoder) Status(tag string, resp *imap.StatusResponse) *Encoder {
	return e.StatusResponse(tag, string(resp.Type), resp.CodeString(), resp.Text)
}

// NumResponse writes an untagged numeric response such as "* 5 EXISTS".
func (e *Encoder) NumResponse(num uint32, name string) *Encoder {
	return e.Star().Number(num).SP().Atom(name).CRLF()
}

// ContinuationRequest writes a continuation request.
func (e *Encoder) ContinuationRequest(text string) *Encoder {
	e.writeString("+ ")
	e.writeString(text)
	return e.CRLF()
}

// MailboxName writes a mailbox name, quoting if needed.
func (e *Encoder) MailboxName(name string) *Encoder {
	if strings.EqualFold(name, "INBOX") {
		return e.Atom("INBOX")
	}
	if encoded, err := utf7.Encoding.NewEncoder().String(name); err == nil {
		name = encoded
	}
	return e.AString(name)
}
