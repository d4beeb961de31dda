// Package server implements the IMAP session layer of the mail store.
//
// Each connection is served by one goroutine that decodes commands with
// the decode package and runs them strictly in order through the
// dispatcher. Mailbox operations go through a mailbox.Manager; changes
// made by other sessions reach a connection through the Manager's event
// bus and are written as unsolicited responses before the next tagged
// completion.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

// Server is an IMAP server.
type Server struct {
	options    *Options
	dispatcher *Dispatcher
	listeners  []net.Listener

	mu         sync.Mutex
	conns      map[*Conn]struct{}
	connCount  atomic.Int64
	wg         sync.WaitGroup
	shutdown   chan struct{}
	isShutdown bool
}

// New creates a new IMAP server with the given options.
func New(opts ...Option) *Server {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	options.manager()

	srv := &Server{
		options:    options,
		dispatcher: NewDispatcher(),
		conns:      make(map[*Conn]struct{}),
		shutdown:   make(chan struct{}),
	}

	srv.registerBuiltinHandlers()

	return srv
}

// Handle registers a command handler.
func (srv *Server) Handle(name string, handler CommandHandler) {
	srv.dispatcher.Register(name, handler)
}

// HandleFunc registers a command handler function.
func (srv *Server) HandleFunc(name string, fn CommandHandlerFunc) {
	srv.dispatcher.RegisterFunc(name, fn)
}

// WrapHandler wraps an existing command handler with a wrapper function.
func (srv *Server) WrapHandler(name string, wrapper func(CommandHandler) CommandHandler) {
	srv.dispatcher.Wrap(name, wrapper)
}

// Capabilities returns the capabilities for a connection.
func (srv *Server) Capabilities(c *Conn) []imap.Cap {
	caps := srv.options.Caps.Clone()

	if srv.options.EnableStartTLS && srv.options.TLSConfig != nil && !c.IsTLS() {
		caps.Add(imap.CapStartTLS)
	}

	if !c.IsTLS() && !srv.options.AllowInsecureAuth {
		caps.Add(imap.CapLogindisabled)
		caps.Remove(imap.CapAuthPlain, imap.CapSASLIR)
	}

	if c.State() != imap.ConnStateNotAuthenticated {
		caps.Remove(imap.CapStartTLS, imap.CapLogindisabled, imap.CapAuthPlain, imap.CapSASLIR)
	}

	return caps.All()
}

// Serve accepts connections on the listener and serves each one.
func (srv *Server) Serve(l net.Listener) error {
	srv.mu.Lock()
	if srv.isShutdown {
		srv.mu.Unlock()
		return errors.New("server is shut down")
	}
	srv.listeners = append(srv.listeners, l)
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		for i, listener := range srv.listeners {
			if listener == l {
				srv.listeners = append(srv.listeners[:i], srv.listeners[i+1:]...)
				break
			}
		}
		srv.mu.Unlock()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-srv.shutdown:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				srv.options.Logger.WithError(err).Warn("Accept error")
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if srv.options.MaxConnections > 0 && int(srv.connCount.Load()) >= srv.options.MaxConnections {
			srv.options.Logger.WithField("remote", conn.RemoteAddr().String()).Warn("Max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.handleConn(conn)
		}()
	}
}

// ListenAndServe listens on the given address and serves.
func (srv *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return srv.Serve(l)
}

// ListenAndServeTLS listens on the given address with TLS and serves.
func (srv *Server) ListenAndServeTLS(addr string, config *tls.Config) error {
	if config == nil {
		config = srv.options.TLSConfig
	}
	if config == nil {
		return errors.New("TLS config required")
	}

	l, err := tls.Listen("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("TLS listen: %w", err)
	}
	return srv.Serve(l)
}

// Shutdown stops accepting, says BYE to every connection and waits for
// their goroutines until ctx is done.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.mu.Lock()
	if !srv.isShutdown {
		srv.isShutdown = true
		close(srv.shutdown)
	}
	for _, l := range srv.listeners {
		_ = l.Close()
	}
	for c := range srv.conns {
		c.WriteBYE("server shutting down")
		_ = c.Close()
	}
	srv.mu.Unlock()

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately closes the server and all connections.
func (srv *Server) Close() error {
	return srv.Shutdown(context.Background())
}

// Options returns the server options.
func (srv *Server) Options() *Options {
	return srv.options
}

// Logger returns the server logger.
func (srv *Server) Logger() *logrus.Entry {
	return srv.options.Logger
}

// Manager returns the mailbox manager.
func (srv *Server) Manager() *mailbox.Manager {
	return srv.options.Manager
}

// Dispatcher returns the command dispatcher.
func (srv *Server) Dispatcher() *Dispatcher {
	return srv.dispatcher
}

// ServeConn serves a single already accepted connection and returns when
// it closes.
func (srv *Server) ServeConn(netConn net.Conn) {
	srv.wg.Add(1)
	defer srv.wg.Done()
	srv.handleConn(netConn)
}

func (srv *Server) handleConn(netConn net.Conn) {
	c := newConn(netConn, srv)

	srv.mu.Lock()
	if srv.isShutdown {
		srv.mu.Unlock()
		_ = netConn.Close()
		return
	}
	srv.conns[c] = struct{}{}
	srv.mu.Unlock()
	srv.connCount.Add(1)
	if hook := srv.options.ConnHook; hook != nil {
		hook(c, true)
	}

	defer func() {
		srv.mu.Lock()
		delete(srv.conns, c)
		srv.mu.Unlock()
		srv.connCount.Add(-1)
		if hook := srv.options.ConnHook; hook != nil {
			hook(c, false)
		}
		_ = c.Close()
	}()

	c.logger.Debug("Connection accepted")
	c.serve()
}

// RegisterBuiltinFunc is the function called to register built-in handlers.
// It is set by the commands package's init function.
var RegisterBuiltinFunc func(srv *Server)

// registerBuiltinHandlers registers all built-in command handlers.
func (srv *Server) registerBuiltinHandlers() {
	if RegisterBuiltinFunc != nil {
		RegisterBuiltinFunc(srv)
	}
}
