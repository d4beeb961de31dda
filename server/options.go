package server

import (
	"crypto/tls"
	"time"

	"github.com/sirupsen/logrus"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/mailbox/memory"
	"github.com/dyd1024/imapstore/wire"
)

// Option is a functional option for configuring the server.
type Option func(*Options)

// Options holds all server configuration.
type Options struct {
	// TLSConfig is used for implicit TLS listeners and STARTTLS.
	TLSConfig *tls.Config

	// Caps is the set of capabilities to advertise.
	Caps *imap.CapSet

	// Logger is the base entry every connection logger derives from.
	Logger *logrus.Entry

	// Manager runs every mailbox operation. Defaults to an in-memory store.
	Manager *mailbox.Manager

	// Authenticator checks LOGIN and AUTHENTICATE credentials. Without one
	// every authentication attempt fails.
	Authenticator Authenticator

	// MaxLiteralSize is the largest literal the server accepts. 0 means no
	// limit.
	MaxLiteralSize int64

	// MaxLineLength bounds a command line, literals excluded. 0 means no
	// limit.
	MaxLineLength int

	// ReadTimeout is the timeout for reading a single command.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for writing a response.
	WriteTimeout time.Duration

	// MaxConnections is the maximum number of concurrent connections.
	// 0 means no limit.
	MaxConnections int

	// GreetingText is the text sent in the initial greeting.
	GreetingText string

	// AllowInsecureAuth allows authentication without TLS.
	AllowInsecureAuth bool

	// EnableStartTLS enables STARTTLS support.
	EnableStartTLS bool

	// ConnHook is called when a connection opens and when it closes.
	ConnHook func(c *Conn, open bool)
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Caps:           NewDefaultCapSet(),
		Logger:         logrus.NewEntry(logrus.StandardLogger()),
		MaxLiteralSize: wire.DefaultMaxLiteralSize,
		MaxLineLength:  wire.DefaultMaxLineLength,
		ReadTimeout:    30 * time.Minute,
		WriteTimeout:   1 * time.Minute,
		GreetingText:   "IMAP server ready",
	}
}

// NewDefaultCapSet returns a CapSet with the default capabilities.
func NewDefaultCapSet() *imap.CapSet {
	return imap.NewCapSet(
		imap.CapIMAP4rev1,
		imap.CapLiteralPlus,
		imap.CapUIDPlus,
		imap.CapUnselect,
		imap.CapMetadata,
		imap.CapChildren,
		imap.CapAuthPlain,
		imap.CapSASLIR,
	)
}

func (o *Options) manager() *mailbox.Manager {
	if o.Manager == nil {
		o.Manager = mailbox.NewManager(memory.New(), mailbox.WithLogger(o.Logger))
	}
	return o.Manager
}

// WithTLS configures TLS for the server.
func WithTLS(config *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = config
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithManager sets the mailbox manager.
func WithManager(m *mailbox.Manager) Option {
	return func(o *Options) {
		o.Manager = m
	}
}

// WithAuthenticator sets the credential checker.
func WithAuthenticator(a Authenticator) Option {
	return func(o *Options) {
		o.Authenticator = a
	}
}

// WithMaxLiteralSize sets the maximum literal size.
func WithMaxLiteralSize(size int64) Option {
	return func(o *Options) {
		o.MaxLiteralSize = size
	}
}

// WithMaxLineLength sets the maximum command line length.
func WithMaxLineLength(n int) Option {
	return func(o *Options) {
		o.MaxLineLength = n
	}
}

// WithReadTimeout sets the read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = d
	}
}

// WithWriteTimeout sets the write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WriteTimeout = d
	}
}

// WithMaxConnections sets the maximum number of connections.
func WithMaxConnections(n int) Option {
	return func(o *Options) {
		o.MaxConnections = n
	}
}

// WithCapabilities adds capabilities to the server.
func WithCapabilities(caps ...imap.Cap) Option {
	return func(o *Options) {
		o.Caps.Add(caps...)
	}
}

// WithGreetingText sets the greeting text.
func WithGreetingText(text string) Option {
	return func(o *Options) {
		o.GreetingText = text
	}
}

// WithAllowInsecureAuth allows authentication without TLS.
func WithAllowInsecureAuth(allow bool) Option {
	return func(o *Options) {
		o.AllowInsecureAuth = allow
	}
}

// WithStartTLS enables STARTTLS support with the given TLS config.
func WithStartTLS(config *tls.Config) Option {
	return func(o *Options) {
		o.EnableStartTLS = true
		if o.TLSConfig == nil {
			o.TLSConfig = config
		}
	}
}

// WithConnHook sets the connection open/close hook.
func WithConnHook(hook func(c *Conn, open bool)) Option {
	return func(o *Options) {
		o.ConnHook = hook
	}
}
