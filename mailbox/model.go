// Package mailbox is the mailbox consistency engine: the data model, the
// storage mapper contract and the Manager that allocates UIDs and
// modification sequences, mutates flags and annotations and keeps
// attachment ownership consistent on top of any mapper implementation.
package mailbox

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	imap "github.com/dyd1024/imapstore"
)

// ID identifies a mailbox independently of its path.
type ID string

// NewID returns a fresh mailbox id.
func NewID() ID {
	return ID(uuid.NewString())
}

// PrivateNamespace is the namespace of user mailboxes.
const PrivateNamespace = "#private"

// Inbox is the canonical name of the INBOX.
const Inbox = "INBOX"

// Path locates a mailbox: the namespace, the owning user and the
// hierarchical name.
type Path struct {
	Namespace string
	User      string
	Name      string
}

// UserPath builds a private path for user, normalising INBOX.
func UserPath(user, name string) Path {
	if strings.EqualFold(name, Inbox) {
		name = Inbox
	}
	return Path{Namespace: PrivateNamespace, User: user, Name: name}
}

// String returns a printable form used in logs.
func (p Path) String() string {
	return p.Namespace + ":" + p.User + ":" + p.Name
}

// Mailbox is a message container. UIDNext is strictly greater than any UID
// ever assigned in it. UIDValidity changes only when the mailbox is
// recreated.
type Mailbox struct {
	ID            ID
	Path          Path
	UIDValidity   uint32
	UIDNext       imap.UID
	HighestModSeq imap.ModSeq
}

// NewUIDValidity returns a random non-zero UIDVALIDITY.
func NewUIDValidity() uint32 {
	for {
		if v := rand.Uint32(); v != 0 {
			return v
		}
	}
}

// MessageID is the cross-mailbox identity of a stored message.
type MessageID string

// NewMessageID returns a fresh message id.
func NewMessageID() MessageID {
	return MessageID(uuid.NewString())
}

// Message is a message stored in exactly one mailbox.
type Message struct {
	MailboxID    ID
	UID          imap.UID
	ModSeq       imap.ModSeq
	MessageID    MessageID
	InternalDate time.Time
	Size         int64
	Flags        Flags
	// Recent is the persisted recent hint. It is claimed by the first
	// session selecting the mailbox read-write.
	Recent  bool
	Content []byte
}

// MetaData returns the message without its content.
func (m *Message) MetaData() MessageMetaData {
	return MessageMetaData{
		UID:          m.UID,
		ModSeq:       m.ModSeq,
		MessageID:    m.MessageID,
		InternalDate: m.InternalDate,
		Size:         m.Size,
		Flags:        m.Flags.Clone(),
	}
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	c.Flags = m.Flags.Clone()
	if m.Content != nil {
		c.Content = append([]byte(nil), m.Content...)
	}
	return &c
}

// MessageMetaData is what sessions track about a message.
type MessageMetaData struct {
	UID          imap.UID
	ModSeq       imap.ModSeq
	MessageID    MessageID
	InternalDate time.Time
	Size         int64
	Flags        Flags
}

// FetchType selects how much of a message a mapper loads.
type FetchType int

const (
	// FetchMetadata skips message content.
	FetchMetadata FetchType = iota
	// FetchFull loads content too.
	FetchFull
)
