package middleware_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/middleware"
	"github.com/dyd1024/imapstore/server"
)

func TestRecoveryPanic(t *testing.T) {
	ctx, buf := newTestContext(t, "FETCH")
	h := middleware.Recovery()(server.CommandHandlerFunc(func(*server.CommandContext) error {
		panic("index out of range")
	}))

	err := h.Handle(ctx)
	var imapErr *imap.IMAPError
	require.True(t, errors.As(err, &imapErr))
	assert.Equal(t, imap.StatusResponseTypeNO, imapErr.Type)
	assert.Equal(t, "internal server error", imapErr.Text)
	assert.Contains(t, buf.String(), "Panic in command handler")
	assert.Contains(t, buf.String(), "index out of range")
}

func TestRecoveryPassesThrough(t *testing.T) {
	ctx, _ := newTestContext(t, "FETCH")
	want := errors.New("plain")
	h := middleware.Recovery()(server.CommandHandlerFunc(func(*server.CommandContext) error { return want }))

	assert.Equal(t, want, h.Handle(ctx))
}
