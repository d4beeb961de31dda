package server

import (
	"net"

	"github.com/sirupsen/logrus"
)

// NewTestConn creates a Conn suitable for use in tests. It wraps the given
// net.Conn with a minimal server configuration using default options and the
// provided logger. This function is intended for testing middleware and other
// components that require a *Conn.
func NewTestConn(netConn net.Conn, logger *logrus.Entry) *Conn {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	srv := New(WithLogger(logger))
	return newConn(netConn, srv)
}
