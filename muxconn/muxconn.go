// Package muxconn multiplexes independent application streams over one
// SPTPS-secured net.Conn, so a single handshake session can stand in for a
// whole pool of logical connections instead of one per stream.
package muxconn

import (
	"io"
	"net"

	"github.com/hashicorp/yamux"

	fsyamux "github.com/floegence/sptps-go/mux/yamux"
	"github.com/floegence/sptps-go/sptpsconn"
)

// Session multiplexes streams over one sptpsconn.Conn. It intentionally does
// not expose the underlying *sptpsconn.Conn or *yamux.Session directly;
// ForceRekey covers rekeying, and callers who need the sptps.Session for
// metrics can still reach it through the *sptpsconn.Conn they passed to
// Client or Server (Conn.Session).
type Session struct {
	conn *sptpsconn.Conn
	mux  *yamux.Session
}

// Client wraps the client (dialing) side of conn in a yamux session. conn
// must already have completed its SPTPS handshake, e.g. via sptpsconn.Dial.
func Client(conn *sptpsconn.Conn, cfg *yamux.Config) (*Session, error) {
	m, err := fsyamux.NewClient(conn, cfg)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, mux: m}, nil
}

// Server wraps the server (accepting) side of conn in a yamux session.
func Server(conn *sptpsconn.Conn, cfg *yamux.Config) (*Session, error) {
	m, err := fsyamux.NewServer(conn, cfg)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, mux: m}, nil
}

// OpenStream opens a new logical stream over the secured connection.
func (s *Session) OpenStream() (net.Conn, error) {
	return s.mux.OpenStream()
}

// AcceptStream blocks until the peer opens a new logical stream.
func (s *Session) AcceptStream() (net.Conn, error) {
	return s.mux.AcceptStream()
}

// ForceRekey triggers a new SPTPS key exchange on the underlying connection
// without disturbing any multiplexed stream; existing streams keep flowing
// once the rekey's ACK cuts over to the new keys.
func (s *Session) ForceRekey() error {
	return s.conn.ForceRekey()
}

// Close tears down every multiplexed stream and the underlying secured
// connection.
func (s *Session) Close() error {
	var muxErr, connErr error
	if s.mux != nil {
		muxErr = s.mux.Close()
	}
	connErr = s.conn.Close()
	if muxErr != nil {
		return muxErr
	}
	return connErr
}

var _ io.Closer = (*Session)(nil)
