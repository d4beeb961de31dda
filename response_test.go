package imap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIMAPErrorString(t *testing.T) {
	err := ErrNoWithCode(ResponseCodeTryCreate, "failure no such mailbox")
	assert.Equal(t, "NO [TRYCREATE] failure no such mailbox", err.Error())

	bad := ErrBad("bad literal")
	assert.Equal(t, "BAD bad literal", bad.Error())

	var target *IMAPError
	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, StatusResponseTypeNO, target.Type)
}

func TestStatusResponseCodeArg(t *testing.T) {
	resp := &StatusResponse{Type: StatusResponseTypeOK, Code: ResponseCodeAppendUID, CodeArg: "38505 3955", Text: "APPEND completed"}
	assert.Equal(t, "APPENDUID 38505 3955", resp.CodeString())
	assert.Equal(t, "OK [APPENDUID 38505 3955] APPEND completed", resp.Error())
}

func TestCapSetOrdering(t *testing.T) {
	cs := NewCapSet(CapUnselect, CapIMAP4rev1, CapLiteralPlus)
	assert.Equal(t, "IMAP4rev1 LITERAL+ UNSELECT", cs.String())

	clone := cs.Clone()
	clone.Remove(CapUnselect)
	assert.True(t, cs.Has(CapUnselect))
	assert.False(t, clone.Has(CapUnselect))
}
