package decode

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/utf7"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/wire"
)

type parseFunc func(p *parser) (interface{}, error)

var parsers = map[string]parseFunc{
	imap.CommandCapability:   noArgs,
	imap.CommandNoop:         noArgs,
	imap.CommandLogout:       noArgs,
	imap.CommandStartTLS:     noArgs,
	imap.CommandCheck:        noArgs,
	imap.CommandClose:        noArgs,
	imap.CommandUnselect:     noArgs,
	imap.CommandLogin:        parseLogin,
	imap.CommandAuthenticate: parseAuthenticate,
	imap.CommandSelect:       parseSelect(false),
	imap.CommandExamine:      parseSelect(true),
	imap.CommandCreate:       parseCreate,
	imap.CommandDelete:       parseDelete,
	imap.CommandRename:       parseRename,
	imap.CommandList:         parseList,
	imap.CommandStatus:       parseStatus,
	imap.CommandAppend:       parseAppend,
	imap.CommandExpunge:      parseExpunge,
	imap.CommandFetch:        parseFetch,
	imap.CommandStore:        parseStore,
	imap.CommandCopy:         parseCopy,
	imap.CommandSetMetadata:  parseSetMetadata,
	imap.CommandGetMetadata:  parseGetMetadata,
}

var uidCommands = map[string]bool{
	imap.CommandFetch:   true,
	imap.CommandStore:   true,
	imap.CommandCopy:    true,
	imap.CommandExpunge: true,
}

// Decoder reads commands from a wire.Decoder.
type Decoder struct {
	w *wire.Decoder
}

// New creates a command decoder on top of w.
func New(w *wire.Decoder) *Decoder {
	return &Decoder{w: w}
}

// Wire returns the underlying tokenizer, used for SASL exchanges.
func (d *Decoder) Wire() *wire.Decoder {
	return d.w
}

// Decode reads the next command.
//
// It returns io.EOF when the stream ends between commands. Syntax errors
// are returned as a non-fatal *wire.DecodingError after the rest of the
// offending line has been discarded, so the next call starts on a fresh
// command. A fatal *wire.DecodingError means the stream position is lost.
// Any other error comes from the transport.
func (d *Decoder) Decode() (*Command, error) {
	d.w.BeginLine()
	if _, err := d.w.PeekByte(); err != nil {
		return nil, err
	}

	cmd, err := d.decode()
	if err != nil {
		tag := ""
		if cmd != nil {
			tag = cmd.Tag
		}
		return nil, d.fail(tag, err)
	}
	return cmd, nil
}

func (d *Decoder) decode() (*Command, error) {
	tag, err := d.w.ReadTag()
	if err != nil {
		return nil, err
	}
	cmd := &Command{Tag: tag}
	if err := d.w.ReadSP(); err != nil {
		return cmd, err
	}
	name, err := d.w.ReadAtom()
	if err != nil {
		return cmd, err
	}
	cmd.Name = strings.ToUpper(name)

	if cmd.Name == imap.CommandUID {
		if err := d.w.ReadSP(); err != nil {
			return cmd, err
		}
		if name, err = d.w.ReadAtom(); err != nil {
			return cmd, err
		}
		cmd.Name = strings.ToUpper(name)
		cmd.UID = true
		if !uidCommands[cmd.Name] {
			return cmd, syntaxError("unknown UID command %s", cmd.Name)
		}
	}

	parse, ok := parsers[cmd.Name]
	if !ok {
		return cmd, syntaxError("unknown command %s", cmd.Name)
	}
	req, err := parse(&parser{d: d.w, uid: cmd.UID})
	if err != nil {
		return cmd, err
	}
	if err := d.w.ReadCRLF(); err != nil {
		return cmd, err
	}
	cmd.Request = req
	return cmd, nil
}

// fail normalises err and resynchronises the stream on syntax errors.
func (d *Decoder) fail(tag string, err error) error {
	de, ok := wire.AsDecodingError(err)
	if !ok {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		de = &wire.DecodingError{Msg: "unexpected end of input", Fatal: true, Err: io.ErrUnexpectedEOF}
	}
	de.Tag = tag
	if !de.Fatal && !d.w.LineDone() {
		_ = d.w.DiscardLine()
	}
	return de
}

func syntaxError(format string, args ...interface{}) error {
	return &wire.DecodingError{Msg: fmt.Sprintf(format, args...)}
}

type parser struct {
	d   *wire.Decoder
	uid bool
}

func (p *parser) sp() error {
	return p.d.ReadSP()
}

// peek returns the next byte, or 0 at end of input.
func (p *parser) peek() byte {
	b, err := p.d.PeekByte()
	if err != nil {
		return 0
	}
	return b
}

func (p *parser) mailbox() (string, error) {
	if err := p.sp(); err != nil {
		return "", err
	}
	raw, err := p.d.ReadAString()
	if err != nil {
		return "", err
	}
	return mailboxName(raw)
}

// mailboxName decodes a modified UTF-7 mailbox name.
func mailboxName(raw string) (string, error) {
	name, err := utf7.Encoding.NewDecoder().String(raw)
	if err != nil {
		return "", syntaxError("invalid mailbox name %q", raw)
	}
	return name, nil
}

func (p *parser) numSet() (imap.NumSet, error) {
	if err := p.sp(); err != nil {
		return nil, err
	}
	raw, err := p.d.ReadSequenceSet()
	if err != nil {
		return nil, err
	}
	if p.uid {
		set, err := imap.ParseUIDSet(raw)
		if err != nil {
			return nil, syntaxError("invalid uid set %q", raw)
		}
		return set, nil
	}
	set, err := imap.ParseSeqSet(raw)
	if err != nil {
		return nil, syntaxError("invalid sequence set %q", raw)
	}
	return set, nil
}

func (p *parser) flagList() ([]imap.Flag, error) {
	raw, err := p.d.ReadFlags()
	if err != nil {
		return nil, err
	}
	return toFlags(raw)
}

func toFlags(raw []string) ([]imap.Flag, error) {
	flags := make([]imap.Flag, 0, len(raw))
	for _, f := range raw {
		if f == string(imap.FlagWildcard) {
			return nil, syntaxError("\\* is not a valid message flag")
		}
		flags = append(flags, imap.Flag(f))
	}
	return flags, nil
}

func noArgs(p *parser) (interface{}, error) {
	return &NoArgs{}, nil
}

func parseLogin(p *parser) (interface{}, error) {
	req := &LoginRequest{}
	var err error
	if err = p.sp(); err != nil {
		return nil, err
	}
	if req.Username, err = p.d.ReadAString(); err != nil {
		return nil, err
	}
	if err = p.sp(); err != nil {
		return nil, err
	}
	if req.Password, err = p.d.ReadAString(); err != nil {
		return nil, err
	}
	return req, nil
}

func parseAuthenticate(p *parser) (interface{}, error) {
	req := &AuthenticateRequest{}
	if err := p.sp(); err != nil {
		return nil, err
	}
	mech, err := p.d.ReadAtom()
	if err != nil {
		return nil, err
	}
	req.Mechanism = strings.ToUpper(mech)
	if p.peek() == ' ' {
		if err := p.sp(); err != nil {
			return nil, err
		}
		if req.InitialResponse, err = p.d.ReadAtom(); err != nil {
			return nil, err
		}
		req.HasInitialResponse = true
	}
	return req, nil
}

func parseSelect(readOnly bool) parseFunc {
	return func(p *parser) (interface{}, error) {
		name, err := p.mailbox()
		if err != nil {
			return nil, err
		}
		return &SelectRequest{Mailbox: name, ReadOnly: readOnly}, nil
	}
}

func parseCreate(p *parser) (interface{}, error) {
	name, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	return &CreateRequest{Mailbox: name}, nil
}

func parseDelete(p *parser) (interface{}, error) {
	name, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	return &DeleteRequest{Mailbox: name}, nil
}

func parseRename(p *parser) (interface{}, error) {
	from, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	to, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	return &RenameRequest{From: from, To: to}, nil
}

func parseList(p *parser) (interface{}, error) {
	ref, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	if err := p.sp(); err != nil {
		return nil, err
	}
	rawPattern, err := p.d.ReadListMailbox()
	if err != nil {
		return nil, err
	}
	pattern, err := mailboxName(rawPattern)
	if err != nil {
		return nil, err
	}
	return &ListRequest{Reference: ref, Pattern: pattern}, nil
}

func parseStatus(p *parser) (interface{}, error) {
	name, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	if err := p.sp(); err != nil {
		return nil, err
	}
	req := &StatusRequest{Mailbox: name}
	err = p.d.ReadList(func() error {
		item, err := p.d.ReadAtom()
		if err != nil {
			return err
		}
		switch strings.ToUpper(item) {
		case "MESSAGES":
			req.Options.NumMessages = true
		case "UIDNEXT":
			req.Options.UIDNext = true
		case "UIDVALIDITY":
			req.Options.UIDValidity = true
		case "UNSEEN":
			req.Options.NumUnseen = true
		case "RECENT":
			req.Options.NumRecent = true
		case "HIGHESTMODSEQ":
			req.Options.HighestModSeq = true
		default:
			return syntaxError("unknown status item %s", item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func parseAppend(p *parser) (interface{}, error) {
	name, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	req := &AppendRequest{Mailbox: name}
	if err := p.sp(); err != nil {
		return nil, err
	}
	if p.peek() == '(' {
		if req.Options.Flags, err = p.flagList(); err != nil {
			return nil, err
		}
		if err := p.sp(); err != nil {
			return nil, err
		}
	}
	if p.peek() == '"' {
		raw, err := p.d.ReadQuotedString()
		if err != nil {
			return nil, err
		}
		if req.Options.InternalDate, err = imap.ParseInternalDate(raw); err != nil {
			return nil, syntaxError("invalid date-time %q", raw)
		}
		if err := p.sp(); err != nil {
			return nil, err
		}
	}
	if b := p.peek(); b != '{' && b != '~' {
		return nil, syntaxError("expected message literal")
	}
	info, err := p.d.ReadLiteralInfo()
	if err != nil {
		return nil, err
	}
	req.Options.Binary = info.Binary
	if req.Content, err = p.d.ReadLiteral(info); err != nil {
		return nil, err
	}
	return req, nil
}

func parseExpunge(p *parser) (interface{}, error) {
	if !p.uid {
		return &ExpungeRequest{}, nil
	}
	set, err := p.numSet()
	if err != nil {
		return nil, err
	}
	return &ExpungeRequest{UIDs: set.(*imap.UIDSet)}, nil
}

func parseCopy(p *parser) (interface{}, error) {
	set, err := p.numSet()
	if err != nil {
		return nil, err
	}
	name, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	return &CopyRequest{Set: set, Mailbox: name}, nil
}

func parseStore(p *parser) (interface{}, error) {
	set, err := p.numSet()
	if err != nil {
		return nil, err
	}
	req := &StoreRequest{Set: set}
	if err := p.sp(); err != nil {
		return nil, err
	}
	item, err := p.d.ReadAtom()
	if err != nil {
		return nil, err
	}
	item = strings.ToUpper(item)
	if rest, ok := strings.CutSuffix(item, ".SILENT"); ok {
		req.Flags.Silent = true
		item = rest
	}
	switch item {
	case "FLAGS":
		req.Flags.Action = imap.StoreFlagsSet
	case "+FLAGS":
		req.Flags.Action = imap.StoreFlagsAdd
	case "-FLAGS":
		req.Flags.Action = imap.StoreFlagsDel
	default:
		return nil, syntaxError("unknown store item %s", item)
	}
	if err := p.sp(); err != nil {
		return nil, err
	}

	if p.peek() == '(' {
		req.Flags.Flags, err = p.flagList()
		if err != nil {
			return nil, err
		}
		return req, nil
	}
	var raw []string
	for {
		f, err := p.d.ReadFlag()
		if err != nil {
			return nil, err
		}
		raw = append(raw, f)
		if p.peek() != ' ' {
			break
		}
		if err := p.sp(); err != nil {
			return nil, err
		}
	}
	if req.Flags.Flags, err = toFlags(raw); err != nil {
		return nil, err
	}
	return req, nil
}

func parseSetMetadata(p *parser) (interface{}, error) {
	name, err := p.mailbox()
	if err != nil {
		return nil, err
	}
	if err := p.sp(); err != nil {
		return nil, err
	}
	req := &SetMetadataRequest{Mailbox: name}
	err = p.d.ReadList(func() error {
		entry, err := p.d.ReadAString()
		if err != nil {
			return err
		}
		if err := p.sp(); err != nil {
			return err
		}
		value, ok, err := p.d.ReadNString()
		if err != nil {
			return err
		}
		e := imap.MetadataEntry{Name: entry}
		if ok {
			e.Value = &value
		}
		req.Entries = append(req.Entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(req.Entries) == 0 {
		return nil, syntaxError("SETMETADATA needs at least one entry")
	}
	return req, nil
}

func parseGetMetadata(p *parser) (interface{}, error) {
	if err := p.sp(); err != nil {
		return nil, err
	}
	req := &GetMetadataRequest{}
	if p.peek() == '(' {
		err := p.d.ReadList(func() error {
			opt, err := p.d.ReadAtom()
			if err != nil {
				return err
			}
			if err := p.sp(); err != nil {
				return err
			}
			switch strings.ToUpper(opt) {
			case "DEPTH":
				raw, err := p.d.ReadAtom()
				if err != nil {
					return err
				}
				if req.Depth, err = imap.ParseMetadataDepth(raw); err != nil {
					return syntaxError("invalid depth %q", raw)
				}
			case "MAXSIZE":
				if req.MaxSize, err = p.d.ReadNumber(); err != nil {
					return err
				}
			default:
				return syntaxError("unknown GETMETADATA option %s", opt)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := p.sp(); err != nil {
			return nil, err
		}
	}
	raw, err := p.d.ReadAString()
	if err != nil {
		return nil, err
	}
	if req.Mailbox, err = mailboxName(raw); err != nil {
		return nil, err
	}
	if err := p.sp(); err != nil {
		return nil, err
	}
	if p.peek() == '(' {
		err = p.d.ReadList(func() error {
			entry, err := p.d.ReadAString()
			if err != nil {
				return err
			}
			req.Entries = append(req.Entries, entry)
			return nil
		})
	} else {
		var entry string
		entry, err = p.d.ReadAString()
		req.Entries = append(req.Entries, entry)
	}
	if err != nil {
		return nil, err
	}
	if len(req.Entries) == 0 {
		return nil, syntaxError("GETMETADATA needs at least one entry")
	}
	return req, nil
}
