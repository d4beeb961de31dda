package wire

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDecoder(s string) *Decoder {
	return NewDecoder(strings.NewReader(s))
}

func TestReadAtom(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple atom", input: "INBOX ", want: "INBOX"},
		{name: "atom at EOF", input: "HELLO", want: "HELLO"},
		{name: "stops at paren", input: "FLAGS(", want: "FLAGS"},
		{name: "stops at brace", input: "DATA{10}", want: "DATA"},
		{name: "backslash is special", input: "\\Seen ", wantErr: true},
		{name: "empty input", input: "", wantErr: true},
		{name: "starts with space", input: " FOO", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newDecoder(tt.input).ReadAtom()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadQuotedString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple", input: `"hello"`, want: "hello"},
		{name: "empty", input: `""`, want: ""},
		{name: "escaped quote", input: `"say \"hi\""`, want: `say "hi"`},
		{name: "escaped backslash", input: `"path\\dir"`, want: `path\dir`},
		{name: "bad escape", input: `"a\nb"`, wantErr: true},
		{name: "unterminated", input: `"hello`, wantErr: true},
		{name: "line break", input: "\"hel\r\nlo\"", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newDecoder(tt.input).ReadQuotedString()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadLiteralInfoRejectsBadCounts(t *testing.T) {
	for _, input := range []string{"{-1}\r\n", "{}\r\n", "{invalid}\r\n", "{1a}\r\n", "{+}\r\n", "{3++}\r\n", "{99999999999999999999}\r\n"} {
		t.Run(input, func(t *testing.T) {
			_, err := newDecoder(input).ReadLiteralInfo()
			require.Error(t, err)
			de, ok := AsDecodingError(err)
			require.True(t, ok, "want DecodingError, got %T", err)
			assert.False(t, de.Fatal)
		})
	}
}

func TestReadLiteralInfo(t *testing.T) {
	tests := []struct {
		input string
		want  LiteralInfo
	}{
		{input: "{0}\r\n", want: LiteralInfo{Size: 0}},
		{input: "{42}\r\n", want: LiteralInfo{Size: 42}},
		{input: "{42+}\r\n", want: LiteralInfo{Size: 42, NonSync: true}},
		{input: "~{7}\r\n", want: LiteralInfo{Size: 7, Binary: true}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			info, err := newDecoder(tt.input).ReadLiteralInfo()
			require.NoError(t, err)
			assert.Equal(t, tt.want, *info)
		})
	}
}

func TestReadLiteralOverMaximum(t *testing.T) {
	d := newDecoder("{11}\r\nhello world")
	d.MaxLiteralSize = 10
	_, err := d.ReadLiteralInfo()
	de, ok := AsDecodingError(err)
	require.True(t, ok)
	assert.False(t, de.Fatal)

	d = newDecoder("{11+}\r\nhello world")
	d.MaxLiteralSize = 10
	_, err = d.ReadLiteralInfo()
	de, ok = AsDecodingError(err)
	require.True(t, ok)
	assert.True(t, de.Fatal)
}

func TestReadLiteralKeepsControlBytes(t *testing.T) {
	d := newDecoder("{8+}\r\na\r\n\x00b\r\nc")
	info, err := d.ReadLiteralInfo()
	require.NoError(t, err)
	data, err := d.ReadLiteral(info)
	require.NoError(t, err)
	assert.Equal(t, []byte("a\r\n\x00b\r\nc"), data)
}

func TestReadLiteralUnterminated(t *testing.T) {
	d := newDecoder("{10+}\r\nshort")
	info, err := d.ReadLiteralInfo()
	require.NoError(t, err)
	_, err = d.ReadLiteral(info)
	de, ok := AsDecodingError(err)
	require.True(t, ok)
	assert.True(t, de.Fatal)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadLiteralSendsContinuation(t *testing.T) {
	d := newDecoder("{5}\r\nhello")
	var asked int
	d.ContinuationRequest = func() error {
		asked++
		return nil
	}
	s, err := d.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, 1, asked)

	d = newDecoder("{5+}\r\nhello")
	d.ContinuationRequest = func() error {
		asked++
		return nil
	}
	_, err = d.ReadString()
	require.NoError(t, err)
	assert.Equal(t, 1, asked, "non-synchronizing literals need no continuation")
}

func TestInjectionGuardRejectsEarlyPayload(t *testing.T) {
	d := newDecoder("{5}\r\nhello\r\na2 NOOP\r\n")
	d.SetInjectionGuard(true)
	d.ContinuationRequest = func() error {
		t.Fatal("continuation must not be sent")
		return nil
	}
	info, err := d.ReadLiteralInfo()
	require.NoError(t, err)
	_, err = d.ReadLiteral(info)
	de, ok := AsDecodingError(err)
	require.True(t, ok)
	assert.False(t, de.Fatal)
	assert.Zero(t, d.Buffered(), "pipelined input must be dropped")
}

func TestInjectionGuardConsumesSplitPayload(t *testing.T) {
	d := NewDecoder(io.MultiReader(
		strings.NewReader("{11}\r\nhello"),
		strings.NewReader(" world {3}\r\n"),
		strings.NewReader("abc)\r\n"),
		strings.NewReader("a2 NOOP\r\n"),
	))
	d.SetInjectionGuard(true)
	info, err := d.ReadLiteralInfo()
	require.NoError(t, err)
	_, err = d.ReadLiteral(info)
	de, ok := AsDecodingError(err)
	require.True(t, ok)
	assert.False(t, de.Fatal)
	assert.True(t, d.LineDone())

	d.BeginLine()
	tag, err := d.ReadAtom()
	require.NoError(t, err)
	assert.Equal(t, "a2", tag)
}

func TestInjectionGuardTruncatedPayload(t *testing.T) {
	d := newDecoder("{20}\r\nshort")
	d.SetInjectionGuard(true)
	info, err := d.ReadLiteralInfo()
	require.NoError(t, err)
	_, err = d.ReadLiteral(info)
	de, ok := AsDecodingError(err)
	require.True(t, ok)
	assert.True(t, de.Fatal)
}

func TestReadNString(t *testing.T) {
	s, ok, err := newDecoder(`NIL `).ReadNString()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s)

	s, ok, err = newDecoder(`"value"`).ReadNString()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", s)

	_, _, err = newDecoder(`NOTNIL `).ReadNString()
	assert.Error(t, err)
}

func TestReadFlags(t *testing.T) {
	flags, err := newDecoder(`(\Seen \Deleted $Junk \*)`).ReadFlags()
	require.NoError(t, err)
	assert.Equal(t, []string{`\Seen`, `\Deleted`, "$Junk", `\*`}, flags)

	flags, err = newDecoder(`()`).ReadFlags()
	require.NoError(t, err)
	assert.Empty(t, flags)

	_, err = newDecoder(`(\Seen`).ReadFlags()
	assert.Error(t, err)
}

func TestLineTooLong(t *testing.T) {
	d := newDecoder(strings.Repeat("A", 20) + "\r\n")
	d.MaxLineLength = 10
	_, err := d.ReadAtom()
	_, ok := AsDecodingError(err)
	assert.True(t, ok)
}

func TestReadCRLF(t *testing.T) {
	assert.NoError(t, newDecoder("\r\n").ReadCRLF())
	assert.NoError(t, newDecoder("\n").ReadCRLF())
	assert.Error(t, newDecoder("x\r\n").ReadCRLF())
}

func TestReadSequenceSet(t *testing.T) {
	s, err := newDecoder("1:4,7:* (FLAGS)").ReadSequenceSet()
	require.NoError(t, err)
	assert.Equal(t, "1:4,7:*", s)
}
