// Package imaptest provides test infrastructure for driving the server
// over a real connection with scripted protocol exchanges.
package imaptest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dyd1024/imapstore/server"
	_ "github.com/dyd1024/imapstore/server/commands"
)

// Default credentials accepted by servers built with NewServer.
const (
	DefaultUser     = "alice"
	DefaultPassword = "secret"
)

// NewServer returns a server over the in-memory store that accepts
// DefaultUser and a second user "bob" over plaintext connections. opts
// are applied after the defaults.
func NewServer(t *testing.T, opts ...server.Option) *server.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	base := []server.Option{
		server.WithLogger(logrus.NewEntry(logger)),
		server.WithAllowInsecureAuth(true),
		server.WithAuthenticator(server.StaticAuthenticator{
			DefaultUser: DefaultPassword,
			"bob":       "hunter2",
		}),
	}
	return server.New(append(base, opts...)...)
}

// Harness runs a server on a loopback listener for the duration of a
// test.
type Harness struct {
	t        *testing.T
	server   *server.Server
	listener net.Listener
	done     chan struct{}
}

// NewHarness starts srv on a loopback listener. It is shut down when the
// test ends.
func NewHarness(t *testing.T, srv *server.Server) *Harness {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := &Harness{
		t:        t,
		server:   srv,
		listener: l,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		_ = srv.Serve(l)
	}()

	t.Cleanup(h.Close)
	return h
}

// Addr returns the address the server is listening on.
func (h *Harness) Addr() string {
	return h.listener.Addr().String()
}

// Server returns the underlying server.
func (h *Harness) Server() *server.Server {
	return h.server
}

// Close shuts down the test harness.
func (h *Harness) Close() {
	_ = h.server.Close()
	<-h.done
}

// Dial connects a new client and consumes the greeting.
func (h *Harness) Dial() *Client {
	h.t.Helper()

	conn, err := net.DialTimeout("tcp", h.Addr(), 5*time.Second)
	require.NoError(h.t, err)
	c := &Client{t: h.t, conn: conn, r: bufio.NewReader(conn)}
	h.t.Cleanup(func() { _ = conn.Close() })

	greeting := c.ReadLine()
	require.True(h.t, strings.HasPrefix(greeting, "* OK "), "greeting: %q", greeting)
	c.Greeting = greeting
	return c
}

// Client is a line-oriented IMAP client for tests. It sends raw command
// text and collects the responses up to the tagged completion.
type Client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	next int

	// Greeting is the server greeting line.
	Greeting string
}

// Response is what the server sent for one command.
type Response struct {
	Tag string
	// Untagged holds the untagged lines in order, literals inlined.
	Untagged []string
	// Status is the tagged completion without the tag, e.g. "OK [..] text".
	Status string
}

// OK reports whether the command completed with OK.
func (r *Response) OK() bool {
	return strings.HasPrefix(r.Status, "OK")
}

// Lines returns the untagged lines followed by the tagged completion.
func (r *Response) Lines() []string {
	return append(append([]string(nil), r.Untagged...), r.Tag+" "+r.Status)
}

// NextTag returns the tag the next Command will use.
func (c *Client) NextTag() string {
	return "a" + strconv.Itoa(c.next+1)
}

// Command sends a tagged command and reads until its completion.
func (c *Client) Command(format string, args ...interface{}) *Response {
	c.t.Helper()
	tag := c.NextTag()
	c.next++
	c.Write(tag + " " + fmt.Sprintf(format, args...) + "\r\n")
	return c.ReadResponse(tag)
}

// MustOK is Command that fails the test unless the completion is OK.
func (c *Client) MustOK(format string, args ...interface{}) *Response {
	c.t.Helper()
	resp := c.Command(format, args...)
	require.True(c.t, resp.OK(), "%s: %s", fmt.Sprintf(format, args...), resp.Status)
	return resp
}

// Login authenticates with LOGIN.
func (c *Client) Login(user, password string) *Response {
	c.t.Helper()
	return c.MustOK("LOGIN %s %s", user, password)
}

// Append stores msg in mailbox with a non-synchronizing literal.
func (c *Client) Append(mailbox, flags, msg string) *Response {
	c.t.Helper()
	args := mailbox
	if flags != "" {
		args += " (" + flags + ")"
	}
	return c.Command("APPEND %s {%d+}\r\n%s", args, len(msg), msg)
}

// Write sends raw bytes.
func (c *Client) Write(s string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := io.WriteString(c.conn, s)
	require.NoError(c.t, err)
}

// ReadLine reads one response line without CRLF. A trailing literal is
// read and appended to the line, as is the rest of the line after it.
func (c *Client) ReadLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var b strings.Builder
	for {
		line, err := c.r.ReadString('\n')
		require.NoError(c.t, err, "read after %q", b.String())
		line = strings.TrimRight(line, "\r\n")
		b.WriteString(line)

		n, ok := literalSize(line)
		if !ok {
			return b.String()
		}
		buf := make([]byte, n)
		_, err = io.ReadFull(c.r, buf)
		require.NoError(c.t, err)
		b.WriteString("\r\n")
		b.Write(buf)
	}
}

// ReadResponse reads lines until the completion of tag.
func (c *Client) ReadResponse(tag string) *Response {
	c.t.Helper()
	resp := &Response{Tag: tag}
	for {
		line := c.ReadLine()
		if strings.HasPrefix(line, tag+" ") {
			resp.Status = strings.TrimPrefix(line, tag+" ")
			return resp
		}
		resp.Untagged = append(resp.Untagged, line)
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func literalSize(line string) (int, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	i := strings.LastIndexByte(line, '{')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(line[i+1 : len(line)-1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
