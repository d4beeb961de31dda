package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/middleware"
	"github.com/dyd1024/imapstore/server"
)

func TestTimeoutExceeded(t *testing.T) {
	ctx, _ := newTestContext(t, "SEARCH")
	parent := ctx.Context
	h := middleware.Timeout(10 * time.Millisecond)(server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
		<-ctx.Context.Done()
		return ctx.Context.Err()
	}))

	err := h.Handle(ctx)
	var imapErr *imap.IMAPError
	require.True(t, errors.As(err, &imapErr))
	assert.Equal(t, "command timed out", imapErr.Text)
	assert.Equal(t, parent, ctx.Context)
}

func TestTimeoutSetsDeadline(t *testing.T) {
	ctx, _ := newTestContext(t, "NOOP")
	h := middleware.Timeout(time.Minute)(server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
		_, ok := ctx.Context.Deadline()
		assert.True(t, ok)
		return nil
	}))

	require.NoError(t, h.Handle(ctx))
}

func TestTimeoutParentCancelled(t *testing.T) {
	ctx, _ := newTestContext(t, "NOOP")
	parent, cancel := context.WithCancel(context.Background())
	cancel()
	ctx.Context = parent

	h := middleware.Timeout(time.Minute)(server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
		return ctx.Context.Err()
	}))

	assert.ErrorIs(t, h.Handle(ctx), context.Canceled)
}
