package mailbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AttachmentID identifies attachment content. Equal content yields equal
// ids, so messages sharing an attachment share one record.
type AttachmentID string

// NewAttachmentID derives the id of content.
func NewAttachmentID(content []byte) AttachmentID {
	sum := sha256.Sum256(content)
	return AttachmentID(hex.EncodeToString(sum[:]))
}

// AttachmentMetadata describes a stored attachment and the message that
// first brought it in.
type AttachmentMetadata struct {
	AttachmentID AttachmentID
	ContentType  string
	Size         int64
	MessageID    MessageID
}

// Attachment is attachment metadata plus content.
type Attachment struct {
	AttachmentMetadata
	Content []byte
}

// AttachmentLink associates an attachment with one owning message.
type AttachmentLink struct {
	AttachmentID AttachmentID
	MessageID    MessageID
}

// AttachmentMetadataBuilder assembles AttachmentMetadata. Every field is
// mandatory and Size must not be negative; Build reports the first
// violation.
type AttachmentMetadataBuilder struct {
	md      AttachmentMetadata
	hasSize bool
	err     error
}

// NewAttachmentMetadataBuilder starts an empty builder.
func NewAttachmentMetadataBuilder() *AttachmentMetadataBuilder {
	return &AttachmentMetadataBuilder{}
}

func (b *AttachmentMetadataBuilder) fail(format string, args ...interface{}) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: %s", ErrInvalidAttachment, fmt.Sprintf(format, args...))
	}
}

// AttachmentID sets the attachment id.
func (b *AttachmentMetadataBuilder) AttachmentID(id AttachmentID) *AttachmentMetadataBuilder {
	if id == "" {
		b.fail("'attachmentId' is mandatory")
	}
	b.md.AttachmentID = id
	return b
}

// MessageID sets the owning message.
func (b *AttachmentMetadataBuilder) MessageID(id MessageID) *AttachmentMetadataBuilder {
	if id == "" {
		b.fail("'messageId' is mandatory")
	}
	b.md.MessageID = id
	return b
}

// Type sets the content type.
func (b *AttachmentMetadataBuilder) Type(contentType string) *AttachmentMetadataBuilder {
	b.md.ContentType = contentType
	return b
}

// Size sets the size in octets.
func (b *AttachmentMetadataBuilder) Size(size int64) *AttachmentMetadataBuilder {
	if size < 0 {
		b.fail("'size' must be positive")
	}
	b.md.Size = size
	b.hasSize = true
	return b
}

// Build returns the metadata or the first validation error.
func (b *AttachmentMetadataBuilder) Build() (AttachmentMetadata, error) {
	switch {
	case b.err != nil:
		return AttachmentMetadata{}, b.err
	case b.md.ContentType == "":
		return AttachmentMetadata{}, fmt.Errorf("%w: 'type' is mandatory", ErrInvalidAttachment)
	case !b.hasSize:
		return AttachmentMetadata{}, fmt.Errorf("%w: 'size' is mandatory", ErrInvalidAttachment)
	case b.md.AttachmentID == "":
		return AttachmentMetadata{}, fmt.Errorf("%w: 'attachmentId' is mandatory", ErrInvalidAttachment)
	case b.md.MessageID == "":
		return AttachmentMetadata{}, fmt.Errorf("%w: 'messageId' is mandatory", ErrInvalidAttachment)
	}
	return b.md, nil
}
