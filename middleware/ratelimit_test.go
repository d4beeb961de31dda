package middleware_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/middleware"
	"github.com/dyd1024/imapstore/server"
)

func TestRateLimitBurst(t *testing.T) {
	mw := middleware.RateLimit(middleware.RateLimitConfig{
		MaxCommandsPerSecond: 0.001,
		BurstSize:            3,
	})
	calls := 0
	h := mw(server.CommandHandlerFunc(func(*server.CommandContext) error {
		calls++
		return nil
	}))

	ctx, _ := newTestContext(t, "NOOP")
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Handle(ctx))
	}

	err := h.Handle(ctx)
	var imapErr *imap.IMAPError
	require.True(t, errors.As(err, &imapErr))
	assert.Equal(t, imap.StatusResponseTypeBAD, imapErr.Type)
	assert.Equal(t, 3, calls)
}

func TestRateLimitDefaults(t *testing.T) {
	h := middleware.RateLimit(middleware.RateLimitConfig{})(
		server.CommandHandlerFunc(func(*server.CommandContext) error { return nil }))

	ctx, _ := newTestContext(t, "NOOP")
	for i := 0; i < 10; i++ {
		require.NoError(t, h.Handle(ctx))
	}
}

func TestRateLimitPerHost(t *testing.T) {
	h := middleware.RateLimit(middleware.RateLimitConfig{MaxCommandsPerSecond: 0.001, BurstSize: 1})(
		server.CommandHandlerFunc(func(*server.CommandContext) error { return nil }))

	piped, _ := newTestContext(t, "NOOP")
	require.NoError(t, h.Handle(piped))
	assert.Error(t, h.Handle(piped))

	other := &server.CommandContext{Name: "NOOP"}
	assert.NoError(t, h.Handle(other), "another host has its own bucket")
}

func TestRateLimitRefills(t *testing.T) {
	h := middleware.RateLimit(middleware.RateLimitConfig{MaxCommandsPerSecond: 50, BurstSize: 1})(
		server.CommandHandlerFunc(func(*server.CommandContext) error { return nil }))

	ctx, _ := newTestContext(t, "NOOP")
	require.NoError(t, h.Handle(ctx))
	assert.Eventually(t, func() bool { return h.Handle(ctx) == nil }, time.Second, 10*time.Millisecond)
}
