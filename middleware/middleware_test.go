package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyd1024/imapstore/middleware"
	"github.com/dyd1024/imapstore/server"
)

// newTestContext returns a CommandContext on one end of a net.Pipe and a
// buffer collecting its log output.
func newTestContext(t *testing.T, name string) (*server.CommandContext, *bytes.Buffer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	entry := logrus.NewEntry(logger)

	conn := server.NewTestConn(serverConn, entry)
	return &server.CommandContext{
		Context: context.Background(),
		Tag:     "A001",
		Name:    name,
		Conn:    conn,
		Logger:  entry,
	}, &buf
}

func recorder(order *[]string, name string) middleware.Middleware {
	return func(next server.CommandHandler) server.CommandHandler {
		return server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
			*order = append(*order, name+"-before")
			err := next.Handle(ctx)
			*order = append(*order, name+"-after")
			return err
		})
	}
}

func TestChainEmpty(t *testing.T) {
	called := false
	h := middleware.Chain()(server.CommandHandlerFunc(func(*server.CommandContext) error {
		called = true
		return nil
	}))
	require.NoError(t, h.Handle(nil))
	assert.True(t, called)
}

func TestChainOrder(t *testing.T) {
	var order []string
	chain := middleware.Chain(recorder(&order, "mw1"), recorder(&order, "mw2"), recorder(&order, "mw3"))
	h := chain(server.CommandHandlerFunc(func(*server.CommandContext) error {
		order = append(order, "handler")
		return nil
	}))

	require.NoError(t, h.Handle(nil))
	assert.Equal(t, []string{
		"mw1-before", "mw2-before", "mw3-before",
		"handler",
		"mw3-after", "mw2-after", "mw1-after",
	}, order)
}

func TestChainErrorPropagation(t *testing.T) {
	want := errors.New("handler error")
	var order []string
	h := middleware.Chain(recorder(&order, "a"), recorder(&order, "b"))(
		server.CommandHandlerFunc(func(*server.CommandContext) error { return want }))

	assert.Equal(t, want, h.Handle(nil))
}

func TestChainShortCircuit(t *testing.T) {
	stop := errors.New("short circuit")
	innerCalled := false
	mw := func(server.CommandHandler) server.CommandHandler {
		return server.CommandHandlerFunc(func(*server.CommandContext) error { return stop })
	}
	h := middleware.Chain(mw)(server.CommandHandlerFunc(func(*server.CommandContext) error {
		innerCalled = true
		return nil
	}))

	assert.Equal(t, stop, h.Handle(nil))
	assert.False(t, innerCalled)
}

func TestLogging(t *testing.T) {
	ctx, buf := newTestContext(t, "SELECT")
	h := middleware.Logging()(server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
		ctx.Mailbox = "Archive"
		return errors.New("boom")
	}))

	assert.Error(t, h.Handle(ctx))
	out := buf.String()
	assert.Contains(t, out, "Command start")
	assert.Contains(t, out, "Command failed")
	assert.Contains(t, out, "command=SELECT")
	assert.Contains(t, out, "mailbox=Archive")
	assert.Contains(t, out, "error=boom")
}

func TestLoggingSuccess(t *testing.T) {
	ctx, buf := newTestContext(t, "NOOP")
	h := middleware.Logging()(server.CommandHandlerFunc(func(*server.CommandContext) error { return nil }))

	require.NoError(t, h.Handle(ctx))
	assert.Contains(t, buf.String(), "Command done")
	assert.NotContains(t, buf.String(), "Command failed")
}
