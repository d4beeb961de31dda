package middleware

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/server"
)

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// MaxCommandsPerSecond is the refill rate per client host.
	MaxCommandsPerSecond float64
	// BurstSize is the maximum burst size.
	BurstSize int
}

type hostLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimit gives every client host its own token bucket. Commands over
// the limit complete with BAD.
func RateLimit(config RateLimitConfig) Middleware {
	if config.MaxCommandsPerSecond <= 0 {
		config.MaxCommandsPerSecond = 100
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 10
	}
	limit := rate.Limit(config.MaxCommandsPerSecond)
	// A limiter idle this long is full again and can be forgotten.
	idle := time.Duration(float64(config.BurstSize) / config.MaxCommandsPerSecond * float64(time.Second))

	var mu sync.Mutex
	hosts := make(map[string]*hostLimiter)
	lastSweep := time.Now()

	return func(next server.CommandHandler) server.CommandHandler {
		return server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
			key := clientHost(ctx)
			now := time.Now()

			mu.Lock()
			if now.Sub(lastSweep) > idle {
				for k, h := range hosts {
					if now.Sub(h.lastSeen) > idle {
						delete(hosts, k)
					}
				}
				lastSweep = now
			}
			h, ok := hosts[key]
			if !ok {
				h = &hostLimiter{lim: rate.NewLimiter(limit, config.BurstSize)}
				hosts[key] = h
			}
			h.lastSeen = now
			allowed := h.lim.AllowN(now, 1)
			mu.Unlock()

			if !allowed {
				return imap.ErrBad("rate limit exceeded")
			}
			return next.Handle(ctx)
		})
	}
}

func clientHost(ctx *server.CommandContext) string {
	if ctx.Conn == nil {
		return ""
	}
	addr := ctx.Conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
