package mailbox

import (
	"context"

	imap "github.com/dyd1024/imapstore"
)

// MailboxMapper persists mailboxes and their counters.
//
// AllocateUID and AllocateModSeq are the only cross-session writes on a
// mailbox row. Implementations must make each an atomic conditional
// increment (compare-and-swap with retry, or the backend equivalent) and
// must never hand out a value twice, even to callers on other processes.
type MailboxMapper interface {
	// CreateMailbox stores mb. It fails with ErrMailboxExists when the
	// path is taken.
	CreateMailbox(ctx context.Context, mb *Mailbox) error
	FindMailboxByPath(ctx context.Context, path Path) (*Mailbox, error)
	FindMailboxByID(ctx context.Context, id ID) (*Mailbox, error)
	// ListMailboxes returns the mailboxes of user sorted by name.
	ListMailboxes(ctx context.Context, user string) ([]*Mailbox, error)
	RenameMailbox(ctx context.Context, id ID, to Path) error
	// DeleteMailbox removes the mailbox with its messages and annotations.
	DeleteMailbox(ctx context.Context, id ID) error
	// AllocateUID returns the current UIDNext and advances it by one.
	AllocateUID(ctx context.Context, id ID) (imap.UID, error)
	// AllocateModSeq advances HighestModSeq by one and returns it.
	AllocateModSeq(ctx context.Context, id ID) (imap.ModSeq, error)
}

// MessageMapper persists message rows of a mailbox.
type MessageMapper interface {
	PutMessage(ctx context.Context, msg *Message) error
	// GetMessages returns the messages whose UID is in uids, sorted by
	// UID. A nil set selects every message. Addressing no message is not
	// an error.
	GetMessages(ctx context.Context, id ID, uids *imap.UIDSet, fetch FetchType) ([]*Message, error)
	// UpdateFlags replaces the flags of one message and sets its ModSeq,
	// provided the stored ModSeq still equals expect. It returns
	// ErrConflict when it does not and ErrMessageNotFound when the row is
	// gone.
	UpdateFlags(ctx context.Context, id ID, uid imap.UID, expect imap.ModSeq, flags Flags, modSeq imap.ModSeq) error
	// DeleteMessages removes the given rows. Missing rows are ignored.
	DeleteMessages(ctx context.Context, id ID, uids []imap.UID) error
	// ClaimRecent clears the persisted recent hint of every message in
	// the mailbox and returns the UIDs that had it.
	ClaimRecent(ctx context.Context, id ID) ([]imap.UID, error)
}

// AnnotationMapper persists mailbox annotations.
type AnnotationMapper interface {
	// PutAnnotation upserts a. It fails with ErrNilAnnotation when a has
	// no value, leaving the store unchanged.
	PutAnnotation(ctx context.Context, id ID, a Annotation) error
	// DeleteAnnotation removes key. Removing an absent key succeeds.
	DeleteAnnotation(ctx context.Context, id ID, key AnnotationKey) error
	// ListAnnotations returns every annotation of the mailbox sorted by key.
	ListAnnotations(ctx context.Context, id ID) ([]Annotation, error)
	// AnnotationExists reports whether key is set on the mailbox.
	AnnotationExists(ctx context.Context, id ID, key AnnotationKey) (bool, error)
	// CountAnnotations returns how many keys are set on the mailbox.
	CountAnnotations(ctx context.Context, id ID) (int, error)
}

// AttachmentMapper persists attachments and the attachment to message
// association table.
type AttachmentMapper interface {
	// StoreAttachment stores a. Storing an id twice keeps the first record.
	StoreAttachment(ctx context.Context, a *Attachment) error
	GetAttachment(ctx context.Context, id AttachmentID) (*Attachment, error)
	// DeleteOrphanAttachment removes id only if no message links it, in
	// one atomic step, and reports whether it was removed.
	DeleteOrphanAttachment(ctx context.Context, id AttachmentID) (bool, error)
	// LinkAttachment records that msg owns id. Linking twice is a no-op.
	LinkAttachment(ctx context.Context, id AttachmentID, msg MessageID) error
	// UnlinkAttachment drops one association. Unlinking a pair that does
	// not exist succeeds.
	UnlinkAttachment(ctx context.Context, id AttachmentID, msg MessageID) error
	// ListOwners returns the distinct messages currently linked to id.
	ListOwners(ctx context.Context, id AttachmentID) ([]MessageID, error)
	// ListAttachmentsOf returns the attachments linked to msg.
	ListAttachmentsOf(ctx context.Context, msg MessageID) ([]AttachmentID, error)
	// ListLinks returns every current association.
	ListLinks(ctx context.Context) ([]AttachmentLink, error)
}

// Store bundles the mappers of one backend.
type Store interface {
	MailboxMapper
	MessageMapper
	AnnotationMapper
	AttachmentMapper
	Close() error
}
