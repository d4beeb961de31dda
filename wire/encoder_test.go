package wire

import (
	"bytes"
	"testing"
	"time"

	imap "github.com/dyd1024/imapstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(fn func(e *Encoder)) string {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	fn(e)
	_ = e.Flush()
	return buf.String()
}

func TestStatusResponse(t *testing.T) {
	tests := []struct {
		name string
		fn   func(e *Encoder)
		want string
	}{
		{
			name: "tagged OK with code",
			fn:   func(e *Encoder) { e.StatusResponse("a1", "OK", "APPENDUID 1 2", "APPEND completed") },
			want: "a1 OK [APPENDUID 1 2] APPEND completed\r\n",
		},
		{
			name: "untagged",
			fn:   func(e *Encoder) { e.StatusResponse("*", "BYE", "", "logging out") },
			want: "* BYE logging out\r\n",
		},
		{
			name: "from error",
			fn: func(e *Encoder) {
				e.Status("a2", imap.ErrNoWithCode(imap.ResponseCodeTryCreate, "no such mailbox").StatusResponse)
			},
			want: "a2 NO [TRYCREATE] no such mailbox\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encode(tt.fn))
		})
	}
}

func TestEncodeValues(t *testing.T) {
	assert.Equal(t, "* 3 EXISTS\r\n", encode(func(e *Encoder) { e.NumResponse(3, "EXISTS") }))
	assert.Equal(t, `(\Seen $Junk)`, encode(func(e *Encoder) { e.Flags([]imap.Flag{imap.FlagSeen, "$Junk"}) }))
	assert.Equal(t, `"a \"b\""`, encode(func(e *Encoder) { e.String(`a "b"`) }))
	assert.Equal(t, "{3}\r\na\r\n", encode(func(e *Encoder) { e.String("a\r\n") }))
	assert.Equal(t, "NIL", encode(func(e *Encoder) { e.NString("") }))
	assert.Equal(t, "INBOX", encode(func(e *Encoder) { e.MailboxName("inbox") }))
	assert.Equal(t, `"My Box"`, encode(func(e *Encoder) { e.MailboxName("My Box") }))
	assert.Equal(t, "+ Ready for literal data\r\n", encode(func(e *Encoder) { e.ContinuationRequest("Ready for literal data") }))
}

func TestEncodeDateTime(t *testing.T) {
	loc := time.FixedZone("", -7*3600)
	got := encode(func(e *Encoder) { e.DateTime(time.Date(1996, time.July, 17, 2, 44, 25, 0, loc)) })
	assert.Equal(t, `"17-Jul-1996 02:44:25 -0700"`, got)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestEncoderStickyError(t *testing.T) {
	e := NewEncoder(failingWriter{})
	e.Atom(string(bytes.Repeat([]byte("x"), 8192)))
	err := e.Flush()
	require.Error(t, err)
}

func TestEncodeMailboxName(t *testing.T) {
	assert.Equal(t, "INBOX", encode(func(e *Encoder) { e.MailboxName("inbox") }))
	assert.Equal(t, "Archive", encode(func(e *Encoder) { e.MailboxName("Archive") }))
	assert.Equal(t, "&ZeVnLIqe-", encode(func(e *Encoder) { e.MailboxName("日本語") }))
	assert.Equal(t, `"Sent Items"`, encode(func(e *Encoder) { e.MailboxName("Sent Items") }))
}
