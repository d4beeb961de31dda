package mailbox

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	imap "github.com/dyd1024/imapstore"
)

// ParsedAttachment is an attachment found while parsing message content.
type ParsedAttachment struct {
	ContentType string
	Filename    string
	Content     []byte
}

// ExtractAttachments returns the parts of content marked as attachments.
// Content that is not valid MIME has no attachments.
func ExtractAttachments(content []byte) ([]ParsedAttachment, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(content))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("could not parse message: %w", err)
	}
	defer mr.Close()

	var out []ParsedAttachment
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return out, fmt.Errorf("could not read part: %w", err)
		}
		if p == nil {
			continue
		}
		h, ok := p.Header.(*gomail.AttachmentHeader)
		if !ok {
			continue
		}
		data, err := io.ReadAll(p.Body)
		if err != nil {
			return out, fmt.Errorf("could not read attachment: %w", err)
		}
		ct, _, _ := h.ContentType()
		if ct == "" {
			ct = "application/octet-stream"
		}
		name, _ := h.Filename()
		out = append(out, ParsedAttachment{ContentType: ct, Filename: name, Content: data})
	}
	return out, nil
}

// SplitMessage returns the header block, blank line included, and the text
// of content.
func SplitMessage(content []byte) (header, text []byte) {
	if idx := bytes.Index(content, []byte("\r\n\r\n")); idx >= 0 {
		return content[:idx+4], content[idx+4:]
	}
	if idx := bytes.Index(content, []byte("\n\n")); idx >= 0 {
		return content[:idx+2], content[idx+2:]
	}
	return content, nil
}

// Envelope builds the IMAP envelope of content from its header.
func Envelope(content []byte) *imap.Envelope {
	env := &imap.Envelope{}
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(content)))
	if err != nil && th.Len() == 0 {
		return env
	}
	h := gomail.Header{Header: message.Header{Header: th}}

	env.Date, _ = h.Date()
	env.Subject, _ = h.Subject()
	env.From = addressList(h, "From")
	env.Sender = addressList(h, "Sender")
	env.ReplyTo = addressList(h, "Reply-To")
	env.To = addressList(h, "To")
	env.Cc = addressList(h, "Cc")
	env.Bcc = addressList(h, "Bcc")
	env.InReplyTo = h.Get("In-Reply-To")
	env.MessageID = h.Get("Message-Id")

	if len(env.Sender) == 0 {
		env.Sender = env.From
	}
	if len(env.ReplyTo) == 0 {
		env.ReplyTo = env.From
	}
	return env
}

func addressList(h gomail.Header, key string) []*imap.Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]*imap.Address, 0, len(list))
	for _, a := range list {
		out = append(out, toIMAPAddress((*mail.Address)(a)))
	}
	return out
}

func toIMAPAddress(a *mail.Address) *imap.Address {
	local, host, _ := strings.Cut(a.Address, "@")
	return &imap.Address{Name: a.Name, Mailbox: local, Host: host}
}
