package decode

import (
	"strings"

	imap "github.com/dyd1024/imapstore"
)

func parseFetch(p *parser) (interface{}, error) {
	set, err := p.numSet()
	if err != nil {
		return nil, err
	}
	req := &FetchRequest{Set: set}
	if err := p.sp(); err != nil {
		return nil, err
	}

	if p.peek() == '(' {
		err = p.d.ReadList(func() error {
			return p.fetchItem(&req.Options)
		})
	} else {
		err = p.fetchItem(&req.Options)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (p *parser) fetchItem(opts *imap.FetchOptions) error {
	name, err := p.d.ReadItemName()
	if err != nil {
		return err
	}
	switch name = strings.ToUpper(name); name {
	case "ALL", "FULL":
		opts.Flags, opts.InternalDate, opts.RFC822Size, opts.Envelope = true, true, true, true
	case "FAST":
		opts.Flags, opts.InternalDate, opts.RFC822Size = true, true, true
	case "UID":
		opts.UID = true
	case "FLAGS":
		opts.Flags = true
	case "INTERNALDATE":
		opts.InternalDate = true
	case "RFC822.SIZE":
		opts.RFC822Size = true
	case "ENVELOPE":
		opts.Envelope = true
	case "MODSEQ":
		opts.ModSeq = true
	case "RFC822":
		opts.BodySection = append(opts.BodySection, &imap.FetchItemBodySection{Specifier: imap.SectionAll, Alias: name})
	case "RFC822.HEADER":
		opts.BodySection = append(opts.BodySection, &imap.FetchItemBodySection{Specifier: imap.SectionHeader, Peek: true, Alias: name})
	case "RFC822.TEXT":
		opts.BodySection = append(opts.BodySection, &imap.FetchItemBodySection{Specifier: imap.SectionText, Alias: name})
	case "BODY", "BODY.PEEK":
		if p.peek() != '[' {
			return syntaxError("unsupported fetch item %s", name)
		}
		bs, err := p.bodySection()
		if err != nil {
			return err
		}
		bs.Peek = name == "BODY.PEEK"
		opts.BodySection = append(opts.BodySection, bs)
	default:
		return syntaxError("unsupported fetch item %s", name)
	}
	return nil
}

func (p *parser) bodySection() (*imap.FetchItemBodySection, error) {
	if err := p.d.ExpectByte('['); err != nil {
		return nil, err
	}
	bs := &imap.FetchItemBodySection{}
	if p.peek() != ']' {
		spec, err := p.d.ReadAtom()
		if err != nil {
			return nil, err
		}
		switch spec = strings.ToUpper(spec); spec {
		case imap.SectionHeader, imap.SectionText:
			bs.Specifier = spec
		default:
			return nil, syntaxError("unsupported section %s", spec)
		}
	}
	if err := p.d.ExpectByte(']'); err != nil {
		return nil, err
	}

	if p.peek() == '<' {
		if err := p.d.ExpectByte('<'); err != nil {
			return nil, err
		}
		offset, err := p.d.ReadNumber()
		if err != nil {
			return nil, err
		}
		if err := p.d.ExpectByte('.'); err != nil {
			return nil, err
		}
		count, err := p.d.ReadNumber()
		if err != nil {
			return nil, err
		}
		if err := p.d.ExpectByte('>'); err != nil {
			return nil, err
		}
		bs.Partial = &imap.SectionPartial{Offset: int64(offset), Count: int64(count)}
	}
	return bs, nil
}
