package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/state"
	"github.com/dyd1024/imapstore/wire"
)

// Conn represents a single IMAP client connection.
type Conn struct {
	netConn net.Conn
	server  *Server
	session *Session

	decoder *decode.Decoder
	encoder *ResponseEncoder

	state *state.Machine

	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	isTLS  bool
	closed bool
}

// newConn creates a new connection.
func newConn(netConn net.Conn, srv *Server) *Conn {
	c := &Conn{
		netConn: netConn,
		server:  srv,
		session: newSession(srv.options.manager()),
		state:   state.New(imap.ConnStateNotAuthenticated),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.logger = srv.options.Logger.WithFields(logrus.Fields{
		"remote":  netConn.RemoteAddr().String(),
		"session": c.session.ID(),
	})
	_, c.isTLS = netConn.(*tls.Conn)
	c.setStream(netConn)
	return c
}

func (c *Conn) setStream(rw net.Conn) {
	wd := wire.NewDecoder(rw)
	wd.MaxLiteralSize = c.server.options.MaxLiteralSize
	wd.MaxLineLength = c.server.options.MaxLineLength
	wd.SetInjectionGuard(true)
	wd.ContinuationRequest = func() error {
		c.WriteContinuation("Ready for literal data")
		return c.encoder.Err()
	}
	c.decoder = decode.New(wd)
	c.encoder = NewResponseEncoder(wire.NewEncoder(rw))
}

// State returns the current connection state.
func (c *Conn) State() imap.ConnState {
	return c.state.State()
}

// SetState transitions the connection to a new state.
func (c *Conn) SetState(s imap.ConnState) error {
	return c.state.Transition(s)
}

// IsTLS returns whether the connection is using TLS.
func (c *Conn) IsTLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isTLS
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// NetConn returns the underlying net.Conn.
func (c *Conn) NetConn() net.Conn {
	return c.netConn
}

// Server returns the server instance.
func (c *Conn) Server() *Server {
	return c.server
}

// Session returns the per-connection session.
func (c *Conn) Session() *Session {
	return c.session
}

// Logger returns the connection's logger.
func (c *Conn) Logger() *logrus.Entry {
	return c.logger
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	_ = c.session.Close()
	return c.netConn.Close()
}

func (c *Conn) writeStatus(tag string, resp *imap.StatusResponse) {
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.Status(tag, resp)
	})
}

// WriteBYE writes an untagged BYE response.
func (c *Conn) WriteBYE(text string) {
	c.writeStatus("*", &imap.StatusResponse{Type: imap.StatusResponseTypeBYE, Text: text})
}

// WriteUntaggedOK writes an untagged OK response with an optional code.
func (c *Conn) WriteUntaggedOK(code imap.ResponseCode, codeArg interface{}, text string) {
	c.writeStatus("*", &imap.StatusResponse{Type: imap.StatusResponseTypeOK, Code: code, CodeArg: codeArg, Text: text})
}

// WriteCapabilities writes an untagged CAPABILITY response.
func (c *Conn) WriteCapabilities() {
	caps := c.server.Capabilities(c)
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.Star().Atom("CAPABILITY")
		for _, cap := range caps {
			enc.SP().Atom(string(cap))
		}
		enc.CRLF()
	})
}

// WriteContinuation writes a continuation request.
func (c *Conn) WriteContinuation(text string) {
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.ContinuationRequest(text)
	})
}

// ReadContinuation reads one client line sent in answer to a
// continuation request, as used by SASL exchanges.
func (c *Conn) ReadContinuation() (string, error) {
	w := c.decoder.Wire()
	w.BeginLine()
	return w.ReadLine()
}

// Encoder returns the connection's response encoder.
func (c *Conn) Encoder() *ResponseEncoder {
	return c.encoder
}

// flushUpdates writes the unsolicited responses pending for the selected
// mailbox. The selection is synced with the store first, then recent
// messages added by others are claimed, so that exactly one read-write
// session sees each of them as recent.
func (c *Conn) flushUpdates(ctx context.Context, allowExpunge bool) {
	sel := c.session.Selected()
	if sel == nil || sel.Deleted() {
		return
	}
	if err := sel.Sync(ctx, c.session.Manager()); err != nil {
		c.logger.WithError(err).Warn("Could not sync selected mailbox")
	}
	if sel.Deleted() {
		return
	}
	if sel.needsClaim() {
		uids, err := c.session.Manager().ClaimRecent(ctx, sel.ID())
		if err != nil {
			c.logger.WithError(err).Warn("Could not claim recent messages")
		} else {
			sel.markRecent(uids)
		}
	}
	sel.Flush(NewUpdateWriter(c.encoder), allowExpunge)
}

// writeGreeting writes the initial server greeting.
func (c *Conn) writeGreeting() {
	c.WriteUntaggedOK(imap.ResponseCodeCapability, capString(c.server.Capabilities(c)), c.server.options.GreetingText)
}

func capString(caps []imap.Cap) string {
	s := make([]string, len(caps))
	for i, cp := range caps {
		s[i] = string(cp)
	}
	return strings.Join(s, " ")
}

// UpgradeTLS upgrades the connection to TLS. Input the client pipelined
// after STARTTLS is dropped.
func (c *Conn) UpgradeTLS(config *tls.Config) error {
	if n := c.decoder.Wire().DiscardBuffered(); n > 0 {
		c.logger.WithField("bytes", n).Warn("Dropped plaintext pipelined after STARTTLS")
	}

	tlsConn := tls.Server(c.netConn, config)
	if err := tlsConn.HandshakeContext(c.ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.netConn = tlsConn
	c.isTLS = true
	c.mu.Unlock()

	c.setStream(tlsConn)
	return nil
}

// serve is the main connection loop.
func (c *Conn) serve() {
	defer func() { _ = c.Close() }()

	c.writeGreeting()

	for {
		if err := c.readAndHandle(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, errBye) {
				c.logger.WithError(err).Debug("Connection error")
			}
			return
		}

		if c.State() == imap.ConnStateLogout {
			return
		}
	}
}

// readAndHandle reads and dispatches a single command.
func (c *Conn) readAndHandle() error {
	if d := c.server.options.ReadTimeout; d > 0 {
		_ = c.netConn.SetReadDeadline(time.Now().Add(d))
	}

	cmd, err := c.decoder.Decode()
	if err != nil {
		de, ok := wire.AsDecodingError(err)
		if !ok {
			return err
		}
		if de.Fatal {
			c.logger.WithError(de).Info("Closing connection on unrecoverable input")
			c.WriteBYE(de.Msg)
			return errBye
		}
		tag := de.Tag
		if tag == "" {
			tag = "*"
		}
		c.writeStatus(tag, &imap.StatusResponse{Type: imap.StatusResponseTypeBAD, Text: de.Msg})
		return c.encoder.Err()
	}

	if d := c.server.options.WriteTimeout; d > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(d))
	}
	c.logger.WithFields(logrus.Fields{"tag": cmd.Tag, "command": cmd.Name}).Debug("Command")

	if err := c.server.dispatch(c, cmd); err != nil {
		return err
	}
	return c.encoder.Err()
}
