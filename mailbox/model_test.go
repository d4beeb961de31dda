package mailbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

func TestNewAnnotationKey(t *testing.T) {
	tests := []struct {
		in   string
		want mailbox.AnnotationKey
		ok   bool
	}{
		{"/private/comment", "/private/comment", true},
		{"/Shared/Vendor/X", "/shared/vendor/x", true},
		{"private/comment", "", false},
		{"/", "", false},
		{"/private/", "", false},
		{"/private//x", "", false},
		{"/private/*", "", false},
		{"/private/%", "", false},
		{"/private/a b", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := mailbox.NewAnnotationKey(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, mailbox.ErrInvalidAnnotationKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDepthString(t *testing.T) {
	assert.Equal(t, "0", mailbox.DepthExact.String())
	assert.Equal(t, "1", mailbox.DepthOne.String())
	assert.Equal(t, "infinity", mailbox.DepthAll.String())
}

func TestAttachmentMetadataBuilder(t *testing.T) {
	id := mailbox.NewAttachmentID([]byte("x"))

	md, err := mailbox.NewAttachmentMetadataBuilder().AttachmentID(id).MessageID("m1").Type("text/plain").Size(1).Build()
	require.NoError(t, err)
	assert.Equal(t, id, md.AttachmentID)
	assert.Equal(t, int64(1), md.Size)

	_, err = mailbox.NewAttachmentMetadataBuilder().AttachmentID(id).MessageID("m1").Type("text/plain").Size(-1).Build()
	require.ErrorIs(t, err, mailbox.ErrInvalidAttachment)
	assert.Contains(t, err.Error(), "'size' must be positive")

	_, err = mailbox.NewAttachmentMetadataBuilder().AttachmentID(id).MessageID("m1").Size(1).Build()
	assert.ErrorContains(t, err, "'type' is mandatory")

	_, err = mailbox.NewAttachmentMetadataBuilder().AttachmentID(id).MessageID("m1").Type("text/plain").Build()
	assert.ErrorContains(t, err, "'size' is mandatory")

	_, err = mailbox.NewAttachmentMetadataBuilder().MessageID("m1").Type("text/plain").Size(1).Build()
	assert.ErrorContains(t, err, "'attachmentId' is mandatory")

	_, err = mailbox.NewAttachmentMetadataBuilder().AttachmentID(id).Type("text/plain").Size(1).Build()
	assert.ErrorContains(t, err, "'messageId' is mandatory")
}

func TestNewFlags(t *testing.T) {
	fs := mailbox.NewFlags("$Label", "\\seen", "\\Recent", "\\SEEN", "$label", imap.FlagFlagged)
	assert.Equal(t, mailbox.Flags{imap.FlagFlagged, imap.FlagSeen, "$Label"}, fs)
	assert.True(t, fs.Has("\\Flagged"))
	assert.False(t, fs.Has(imap.FlagRecent))
}

func TestFlagsUpdateApply(t *testing.T) {
	base := mailbox.NewFlags(imap.FlagSeen, "$A")
	add := mailbox.FlagsUpdate{Mode: mailbox.FlagsAdd, Flags: mailbox.NewFlags(imap.FlagFlagged)}
	assert.True(t, add.Apply(base).Has(imap.FlagFlagged))
	assert.True(t, add.Apply(base).Has(imap.FlagSeen))

	rm := mailbox.FlagsUpdate{Mode: mailbox.FlagsRemove, Flags: mailbox.NewFlags("$a")}
	assert.Equal(t, mailbox.Flags{imap.FlagSeen}, rm.Apply(base))

	set := mailbox.FlagsUpdate{Mode: mailbox.FlagsReplace, Flags: mailbox.NewFlags(imap.FlagDraft)}
	assert.Equal(t, mailbox.Flags{imap.FlagDraft}, set.Apply(base))
}

func TestEnvelope(t *testing.T) {
	env := mailbox.Envelope([]byte("From: Alice <alice@example.org>\r\nTo: bob@example.org\r\nSubject: hi\r\nMessage-Id: <1@x>\r\nDate: Mon, 02 Jan 2006 15:04:05 +0000\r\n\r\nbody\r\n"))
	assert.Equal(t, "hi", env.Subject)
	require.Len(t, env.From, 1)
	assert.Equal(t, "Alice", env.From[0].Name)
	assert.Equal(t, "alice", env.From[0].Mailbox)
	assert.Equal(t, "example.org", env.From[0].Host)
	assert.Equal(t, env.From, env.Sender)
	assert.Equal(t, env.From, env.ReplyTo)
	require.Len(t, env.To, 1)
}
