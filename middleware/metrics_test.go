package middleware_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/imaptest"
	"github.com/dyd1024/imapstore/middleware"
	"github.com/dyd1024/imapstore/server"
)

func TestMetricsMiddleware(t *testing.T) {
	m := middleware.NewMetrics(nil)
	h := middleware.MetricsMiddleware(m)(server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
		if ctx.Name == "SELECT" {
			return imap.ErrNoWithCode(imap.ResponseCodeNonExistent, "no such mailbox")
		}
		if ctx.Name == "BOGUS" {
			return imap.ErrBad("unknown command")
		}
		return nil
	}))

	for _, name := range []string{"NOOP", "NOOP", "SELECT", "BOGUS", "LOGIN"} {
		_ = h.Handle(&server.CommandContext{Name: name})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("NOOP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("SELECT", "NO")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("BOGUS", "BAD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins))
	assert.Equal(t, 4, testutil.CollectAndCount(m.Duration))
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	middleware.NewMetrics(reg)
	assert.Panics(t, func() { middleware.NewMetrics(reg) })
}

func TestMetricsOnServer(t *testing.T) {
	m := middleware.NewMetrics(prometheus.NewRegistry())
	srv := imaptest.NewServer(t, server.WithConnHook(m.ConnHook()))
	middleware.ApplyChain(srv, middleware.Recovery(), middleware.MetricsMiddleware(m))
	h := imaptest.NewHarness(t, srv)

	c := h.Dial()
	c.Login(imaptest.DefaultUser, imaptest.DefaultPassword)
	resp := c.Command("SELECT Missing")
	require.False(t, resp.OK())
	c.MustOK("NOOP")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("SELECT", "NO")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("NOOP")))
}
