package middleware

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/server"
)

const namespace = "imapstore"

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	Commands    *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Connections prometheus.Gauge
	Logins      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Number of IMAP commands handled.",
		}, []string{"command"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Number of IMAP commands that completed with NO or BAD.",
		}, []string{"command", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent handling IMAP commands.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open client connections.",
		}),
		Logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Number of successful logins.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.Errors, m.Duration, m.Connections, m.Logins)
	}
	return m
}

// ConnHook tracks open connections. Pass it to server.WithConnHook.
func (m *Metrics) ConnHook() func(c *server.Conn, open bool) {
	return func(c *server.Conn, open bool) {
		if open {
			m.Connections.Inc()
		} else {
			m.Connections.Dec()
		}
	}
}

// MetricsMiddleware records command counts, failures and durations.
// Successful LOGIN and AUTHENTICATE commands also count as logins.
func MetricsMiddleware(m *Metrics) Middleware {
	return func(next server.CommandHandler) server.CommandHandler {
		return server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
			start := time.Now()
			err := next.Handle(ctx)

			m.Commands.WithLabelValues(ctx.Name).Inc()
			m.Duration.WithLabelValues(ctx.Name).Observe(time.Since(start).Seconds())
			if err != nil {
				m.Errors.WithLabelValues(ctx.Name, errorStatus(err)).Inc()
			} else if ctx.Name == "LOGIN" || ctx.Name == "AUTHENTICATE" {
				m.Logins.Inc()
			}
			return err
		})
	}
}

func errorStatus(err error) string {
	var imapErr *imap.IMAPError
	if errors.As(err, &imapErr) && imapErr.StatusResponse != nil {
		return string(imapErr.Type)
	}
	return "NO"
}
