// Package wire implements the IMAP tokenizer and response encoder.
//
// The Decoder reads tokens straight from the connection's buffered reader,
// so literals are consumed as exactly n octets whatever bytes they contain.
package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxLineLength bounds a command line, literal payloads excluded.
const DefaultMaxLineLength = 64 * 1024

// DefaultMaxLiteralSize bounds a single literal.
const DefaultMaxLiteralSize = 50 * 1024 * 1024

// Decoder reads and parses IMAP protocol data from an io.Reader.
type Decoder struct {
	r *bufio.Reader

	// MaxLiteralSize rejects literals announcing more octets. 0 disables
	// the check.
	MaxLiteralSize int64

	// MaxLineLength rejects command lines longer than this, literal
	// payloads excluded. 0 disables the check.
	MaxLineLength int

	// ContinuationRequest is called before the payload of a synchronizing
	// literal is read.
	ContinuationRequest func() error

	guard    bool
	lineLen  int
	lineDone bool
}

// NewDecoder creates a new Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 4096)
	}
	return &Decoder{
		r:              br,
		MaxLiteralSize: DefaultMaxLiteralSize,
		MaxLineLength:  DefaultMaxLineLength,
	}
}

// SetInjectionGuard turns command-injection detection on or off. While on,
// a synchronizing literal whose payload is already buffered before the
// continuation request went out is rejected. The announced payload and the
// rest of its command line are consumed, however they arrive, and any
// input buffered behind them is dropped.
func (d *Decoder) SetInjectionGuard(on bool) {
	d.guard = on
}

// BeginLine marks the start of a new command line.
func (d *Decoder) BeginLine() {
	d.lineLen = 0
	d.lineDone = false
}

// LineDone reports whether the line terminator of the current line has
// been consumed, or the rest of the input was dropped.
func (d *Decoder) LineDone() bool {
	return d.lineDone
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b == '\n' {
		d.lineLen = 0
		d.lineDone = true
		return b, nil
	}
	d.lineDone = false
	d.lineLen++
	if d.MaxLineLength > 0 && d.lineLen > d.MaxLineLength {
		return 0, syntaxErrorf("line too long")
	}
	return b, nil
}

// PeekByte returns the next byte without consuming it.
func (d *Decoder) PeekByte() (byte, error) {
	b, err := d.r.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadLine reads the remainder of the current line, without the CRLF.
func (d *Decoder) ReadLine() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			d.lineLen = 0
			d.lineDone = true
			return strings.TrimSuffix(buf.String(), "\r"), nil
		}
		buf.WriteByte(b)
	}
}

// ReadAtom reads an atom (a sequence of non-special characters).
func (d *Decoder) ReadAtom() (string, error) {
	return d.readWhile(isAtomChar, "atom")
}

// ReadTag reads a command tag. Tags are atoms without '+'.
func (d *Decoder) ReadTag() (string, error) {
	return d.readWhile(func(b byte) bool { return isAtomChar(b) && b != '+' }, "tag")
}

// ReadListMailbox reads a LIST pattern, which may contain '%' and '*'.
func (d *Decoder) ReadListMailbox() (string, error) {
	b, err := d.PeekByte()
	if err != nil {
		return "", err
	}
	if b == '"' || b == '{' || b == '~' {
		return d.ReadString()
	}
	return d.readWhile(func(b byte) bool { return isAtomChar(b) || b == '%' || b == '*' || b == ']' }, "list-mailbox")
}

// ReadItemName reads a data item name such as BODY.PEEK, stopping before
// '[' and '<'.
func (d *Decoder) ReadItemName() (string, error) {
	return d.readWhile(func(b byte) bool { return isAtomChar(b) && b != '[' && b != '<' }, "data item")
}

// ReadSequenceSet reads the raw text of a sequence set.
func (d *Decoder) ReadSequenceSet() (string, error) {
	return d.readWhile(func(b byte) bool {
		return (b >= '0' && b <= '9') || b == ':' || b == ',' || b == '*'
	}, "sequence set")
}

func (d *Decoder) readWhile(accept func(byte) bool, what string) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := d.r.Peek(1)
		if err != nil {
			if err == io.EOF && buf.Len() > 0 {
				return buf.String(), nil
			}
			return "", err
		}
		if !accept(b[0]) {
			break
		}
		ch, err := d.readByte()
		if err != nil {
			return "", err
		}
		buf.WriteByte(ch)
	}
	if buf.Len() == 0 {
		return "", syntaxErrorf("expected %s", what)
	}
	return buf.String(), nil
}

// ReadQuotedString reads a quoted string.
func (d *Decoder) ReadQuotedString() (string, error) {
	b, err := d.readByte()
	if err != nil {
		return "", err
	}
	if b != '"' {
		return "", syntaxErrorf("expected '\"', got %q", b)
	}

	var buf bytes.Buffer
	for {
		ch, err := d.readByte()
		if err != nil {
			return "", err
		}
		switch ch {
		case '"':
			return buf.String(), nil
		case '\n':
			d.lineLen = 0
			d.lineDone = true
			return "", syntaxErrorf("unterminated quoted string")
		case '\r':
			return "", syntaxErrorf("unterminated quoted string")
		case '\\':
			escaped, err := d.readByte()
			if err != nil {
				return "", err
			}
			if !IsQuotedSpecial(escaped) {
				return "", syntaxErrorf("invalid escape %q in quoted string", escaped)
			}
			buf.WriteByte(escaped)
		default:
			buf.WriteByte(ch)
		}
	}
}

// LiteralInfo describes a literal header.
type LiteralInfo struct {
	Size    int64
	NonSync bool // {n+}
	Binary  bool // ~{n}
}

// ReadLiteralInfo reads a literal header like {42}, {42+} or ~{42} and the
// CRLF that ends it. The octet count must be a non-negative decimal number
// no larger than MaxLiteralSize.
func (d *Decoder) ReadLiteralInfo() (*LiteralInfo, error) {
	info := &LiteralInfo{}

	b, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if b == '~' {
		info.Binary = true
		if b, err = d.readByte(); err != nil {
			return nil, err
		}
	}
	if b != '{' {
		return nil, syntaxErrorf("expected '{', got %q", b)
	}

	var digits bytes.Buffer
	for {
		ch, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if ch == '}' {
			break
		}
		switch {
		case ch >= '0' && ch <= '9' && !info.NonSync:
			digits.WriteByte(ch)
		case ch == '+' && !info.NonSync && digits.Len() > 0:
			info.NonSync = true
		default:
			return nil, syntaxErrorf("invalid literal octet count: unexpected %q", ch)
		}
	}
	if digits.Len() == 0 {
		return nil, syntaxErrorf("invalid literal octet count: missing")
	}

	size, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return nil, syntaxErrorf("invalid literal octet count %q", digits.String())
	}
	info.Size = size

	if d.MaxLiteralSize > 0 && size > d.MaxLiteralSize {
		if info.NonSync {
			// The payload is already on its way and cannot be skipped safely.
			return nil, fatalErrorf(nil, "literal of %d octets exceeds maximum of %d", size, d.MaxLiteralSize)
		}
		return nil, syntaxErrorf("literal of %d octets exceeds maximum of %d", size, d.MaxLiteralSize)
	}

	if err := d.ReadCRLF(); err != nil {
		return nil, err
	}
	return info, nil
}

// ReadLiteral reads the payload announced by info. For synchronizing
// literals the continuation request is sent first.
func (d *Decoder) ReadLiteral(info *LiteralInfo) ([]byte, error) {
	if !info.NonSync {
		if d.guard && d.r.Buffered() > 0 {
			if err := d.discardInjected(info.Size); err != nil {
				return nil, err
			}
			return nil, syntaxErrorf("literal data received before continuation request")
		}
		if d.ContinuationRequest != nil {
			if err := d.ContinuationRequest(); err != nil {
				return nil, err
			}
		}
	}

	data := make([]byte, info.Size)
	if _, err := io.ReadFull(d.r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fatalErrorf(io.ErrUnexpectedEOF, "unterminated literal")
		}
		return nil, err
	}
	d.lineDone = false
	return data, nil
}

// discardInjected skips a literal of size octets and the rest of its line,
// including further literals announced on it, then drops buffered input.
func (d *Decoder) discardInjected(size int64) error {
	for {
		if _, err := io.CopyN(io.Discard, d.r, size); err != nil {
			return fatalErrorf(io.ErrUnexpectedEOF, "unterminated literal")
		}
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			return fatalErrorf(io.ErrUnexpectedEOF, "unterminated line")
		}
		next, ok := trailingLiteral(line)
		if !ok {
			break
		}
		if d.MaxLiteralSize > 0 && next > d.MaxLiteralSize {
			return fatalErrorf(nil, "literal of %d octets exceeds maximum of %d", next, d.MaxLiteralSize)
		}
		size = next
	}
	_, _ = d.r.Discard(d.r.Buffered())
	d.lineLen = 0
	d.lineDone = true
	return nil
}

// trailingLiteral parses a "{n}" or "{n+}" announcement ending line.
func trailingLiteral(line []byte) (int64, bool) {
	s := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
	if !strings.HasSuffix(s, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(s, '{')
	if open < 0 {
		return 0, false
	}
	digits := strings.TrimSuffix(s[open+1:len(s)-1], "+")
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ReadString reads either a quoted string or a literal.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.PeekByte()
	if err != nil {
		return "", err
	}

	switch b {
	case '"':
		return d.ReadQuotedString()
	case '{', '~':
		info, err := d.ReadLiteralInfo()
		if err != nil {
			return "", err
		}
		data, err := d.ReadLiteral(info)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", syntaxErrorf("expected string, got %q", b)
	}
}

// ReadAString reads an astring (atom, quoted string or literal).
func (d *Decoder) ReadAString() (string, error) {
	b, err := d.PeekByte()
	if err != nil {
		return "", err
	}
	switch b {
	case '"', '{', '~':
		return d.ReadString()
	default:
		return d.readWhile(func(b byte) bool { return isAtomChar(b) || b == ']' }, "astring")
	}
}

// ReadNString reads an nstring. ok is false for NIL.
func (d *Decoder) ReadNString() (s string, ok bool, err error) {
	b, err := d.PeekByte()
	if err != nil {
		return "", false, err
	}
	if b == '"' || b == '{' || b == '~' {
		s, err = d.ReadString()
		return s, err == nil, err
	}
	atom, err := d.ReadAtom()
	if err != nil {
		return "", false, err
	}
	if !strings.EqualFold(atom, "NIL") {
		return "", false, syntaxErrorf("expected string or NIL, got %q", atom)
	}
	return "", false, nil
}

// ReadNumber reads an unsigned 32-bit number.
func (d *Decoder) ReadNumber() (uint32, error) {
	n, err := d.readNumber(32)
	return uint32(n), err
}

// ReadNumber64 reads an unsigned 64-bit number.
func (d *Decoder) ReadNumber64() (uint64, error) {
	return d.readNumber(64)
}

func (d *Decoder) readNumber(bits int) (uint64, error) {
	s, err := d.readWhile(func(b byte) bool { return b >= '0' && b <= '9' }, "number")
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, syntaxErrorf("invalid number %q", s)
	}
	return n, nil
}

// ReadSP reads a single space character.
func (d *Decoder) ReadSP() error {
	return d.ExpectByte(' ')
}

// ReadCRLF reads the CRLF ending a line.
func (d *Decoder) ReadCRLF() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	if b == '\r' {
		if b, err = d.readByte(); err != nil {
			return err
		}
	}
	if b != '\n' {
		return syntaxErrorf("expected CRLF, got %q", b)
	}
	d.lineLen = 0
	d.lineDone = true
	return nil
}

// ExpectByte reads a byte and returns an error if it doesn't match.
func (d *Decoder) ExpectByte(expected byte) error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	if b != expected {
		return syntaxErrorf("expected %q, got %q", expected, b)
	}
	return nil
}

// ReadList reads a parenthesized, space separated list and calls fn for
// each element.
func (d *Decoder) ReadList(fn func() error) error {
	if err := d.ExpectByte('('); err != nil {
		return err
	}

	first := true
	for {
		b, err := d.PeekByte()
		if err != nil {
			return err
		}
		if b == ')' {
			_, err := d.readByte()
			return err
		}
		if !first {
			if err := d.ReadSP(); err != nil {
				return err
			}
		}
		if err := fn(); err != nil {
			return err
		}
		first = false
	}
}

// ReadFlag reads a flag: a keyword atom or a backslash-prefixed system flag.
func (d *Decoder) ReadFlag() (string, error) {
	b, err := d.PeekByte()
	if err != nil {
		return "", err
	}
	prefix := ""
	if b == '\\' {
		_, _ = d.readByte()
		prefix = "\\"
		if next, err := d.PeekByte(); err == nil && next == '*' {
			_, _ = d.readByte()
			return "\\*", nil
		}
	}
	atom, err := d.ReadAtom()
	if err != nil {
		return "", fmt.Errorf("flag: %w", err)
	}
	return prefix + atom, nil
}

// ReadFlags reads a parenthesized list of flags.
func (d *Decoder) ReadFlags() ([]string, error) {
	var flags []string
	err := d.ReadList(func() error {
		flag, err := d.ReadFlag()
		if err != nil {
			return err
		}
		flags = append(flags, flag)
		return nil
	})
	return flags, err
}

// DiscardLine discards the rest of the current line.
func (d *Decoder) DiscardLine() error {
	_, err := d.r.ReadBytes('\n')
	d.lineLen = 0
	d.lineDone = true
	return err
}

// Buffered returns the number of bytes buffered.
func (d *Decoder) Buffered() int {
	return d.r.Buffered()
}

// DiscardBuffered drops any input already buffered.
func (d *Decoder) DiscardBuffered() int {
	n, _ := d.r.Discard(d.r.Buffered())
	d.lineDone = true
	return n
}

// isAtomChar returns true if the byte is a valid atom character.
func isAtomChar(b byte) bool {
	if b <= 0x20 || b > 0x7e {
		return false
	}
	switch b {
	case '(', ')', '{', '%', '*', '"', '\\', ']':
		return false
	}
	return true
}

// IsQuotedSpecial returns true if the byte needs escaping in a quoted string.
func IsQuotedSpecial(b byte) bool {
	return b == '"' || b == '\\'
}

// NeedsQuoting returns true if the string cannot be sent as an atom.
func NeedsQuoting(s string) bool {
	if s == "" || strings.EqualFold(s, "NIL") {
		return true
	}
	for i := 0; i < len(s); i++ {
		if !isAtomChar(s[i]) {
			return true
		}
	}
	return false
}

// NeedsLiteral returns true if the string must be sent as a literal.
func NeedsLiteral(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == '\r' || b == '\n' || b == 0 || b > 0x7e {
			return true
		}
	}
	return false
}
