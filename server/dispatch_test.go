package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

func TestDispatcherRegisterCaseInsensitive(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.RegisterFunc("login", func(ctx *CommandContext) error {
		called = true
		return nil
	})

	for _, name := range []string{"LOGIN", "login", "Login"} {
		require.NotNil(t, d.Get(name), name)
	}
	require.NoError(t, d.Get("LOGIN").Handle(nil))
	assert.True(t, called)
	assert.Nil(t, d.Get("SELECT"))
}

func TestDispatcherOverwrite(t *testing.T) {
	d := NewDispatcher()
	var got string
	d.RegisterFunc("NOOP", func(ctx *CommandContext) error { got = "first"; return nil })
	d.RegisterFunc("NOOP", func(ctx *CommandContext) error { got = "second"; return nil })

	require.NoError(t, d.Get("NOOP").Handle(nil))
	assert.Equal(t, "second", got)
}

func TestDispatcherWrap(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.RegisterFunc("FETCH", func(ctx *CommandContext) error {
		order = append(order, "handler")
		return nil
	})
	wrap := func(name string) func(CommandHandler) CommandHandler {
		return func(next CommandHandler) CommandHandler {
			return CommandHandlerFunc(func(ctx *CommandContext) error {
				order = append(order, name)
				return next.Handle(ctx)
			})
		}
	}
	d.Wrap("fetch", wrap("inner"))
	d.Wrap("FETCH", wrap("outer"))
	d.Wrap("STORE", wrap("ignored"))

	require.NoError(t, d.Get("FETCH").Handle(nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
	assert.Nil(t, d.Get("STORE"))
}

func TestDispatcherNames(t *testing.T) {
	d := NewDispatcher()
	assert.Empty(t, d.Names())

	noop := func(ctx *CommandContext) error { return nil }
	d.RegisterFunc("select", noop)
	d.RegisterFunc("APPEND", noop)

	names := d.Names()
	sort.Strings(names)
	assert.Equal(t, []string{"APPEND", "SELECT"}, names)
}

func TestCommandContextValues(t *testing.T) {
	ctx := &CommandContext{}
	_, ok := ctx.Value("missing")
	assert.False(t, ok)

	ctx.SetValue("start", 1)
	ctx.SetValue("start", 2)
	v, ok := ctx.Value("start")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestTranslateError(t *testing.T) {
	srv := New(WithLogger(quietLogger()))

	tests := []struct {
		name     string
		command  string
		err      error
		wantType imap.StatusResponseType
		wantCode imap.ResponseCode
	}{
		{"imap error", imap.CommandSelect, imap.ErrBad("nope"), imap.StatusResponseTypeBAD, ""},
		{"append not found", imap.CommandAppend, fmt.Errorf("resolve: %w", mailbox.ErrMailboxNotFound), imap.StatusResponseTypeNO, imap.ResponseCodeTryCreate},
		{"copy not found", imap.CommandCopy, mailbox.ErrMailboxNotFound, imap.StatusResponseTypeNO, imap.ResponseCodeTryCreate},
		{"select not found", imap.CommandSelect, mailbox.ErrMailboxNotFound, imap.StatusResponseTypeNO, imap.ResponseCodeNonExistent},
		{"exists", imap.CommandCreate, mailbox.ErrMailboxExists, imap.StatusResponseTypeNO, imap.ResponseCodeAlreadyExists},
		{"bad annotation", imap.CommandSetMetadata, mailbox.ErrInvalidAnnotationKey, imap.StatusResponseTypeBAD, ""},
		{"nil annotation", imap.CommandSetMetadata, mailbox.ErrNilAnnotation, imap.StatusResponseTypeBAD, ""},
		{"too many annotations", imap.CommandSetMetadata, mailbox.ErrTooManyAnnotations, imap.StatusResponseTypeNO, imap.ResponseCodeMetadata},
		{"unavailable", imap.CommandAppend, mailbox.ErrStorageUnavailable, imap.StatusResponseTypeNO, imap.ResponseCodeServerUnavailable},
		{"closed", imap.CommandFetch, mailbox.ErrStoreClosed, imap.StatusResponseTypeBYE, ""},
		{"generic", imap.CommandAppend, errors.New("disk on fire"), imap.StatusResponseTypeNO, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &CommandContext{Name: tt.command, Logger: quietLogger(), Mailbox: "INBOX"}
			resp := srv.translateError(ctx, tt.err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantType, resp.Type)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestTranslateErrorCanceled(t *testing.T) {
	srv := New(WithLogger(quietLogger()))
	ctx := &CommandContext{Name: imap.CommandFetch, Logger: quietLogger()}
	assert.Nil(t, srv.translateError(ctx, context.Canceled))
}

func TestAllowExpunge(t *testing.T) {
	tests := []struct {
		name string
		uid  bool
		want bool
	}{
		{imap.CommandFetch, false, false},
		{imap.CommandFetch, true, true},
		{imap.CommandStore, false, false},
		{imap.CommandCopy, false, false},
		{imap.CommandNoop, false, true},
		{imap.CommandExpunge, false, true},
	}
	for _, tt := range tests {
		ctx := &CommandContext{Name: tt.name, UID: tt.uid}
		assert.Equal(t, tt.want, ctx.allowExpunge(), "%s uid=%v", tt.name, tt.uid)
	}
}

func TestStaticAuthenticator(t *testing.T) {
	auth := StaticAuthenticator{"alice": "secret"}

	user, err := auth.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	_, err = auth.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrAuthFailed)
	_, err = auth.Authenticate(context.Background(), "bob", "secret")
	assert.ErrorIs(t, err, ErrAuthFailed)
}
