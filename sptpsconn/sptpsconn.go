// Package sptpsconn adapts a synchronous, callback-driven sptps.Session to
// the standard net.Conn interface, so it can sit underneath code (HTTP
// clients, yamux) that expects to Read/Write/SetDeadline on a connection
// from its own goroutine.
//
// sptps.Session itself holds no internal locks: Receive and SendRecord are
// not safe to call concurrently on the same Session. Conn owns exactly one
// mutex to serialize every call into its Session, covering both the
// background read loop and any caller invoking Write — unlike a protocol
// where send state and receive state never overlap, a rekey triggered while
// processing an inbound record can itself call back into SendData, so there
// is no way to split the lock by direction.
package sptpsconn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/floegence/sptps-go/observability"
	"github.com/floegence/sptps-go/sptps"
	"github.com/floegence/sptps-go/transport"
)

// appRecordType is the record type used for every byte this Conn carries;
// the handshake's own type (128) never reaches application code.
const appRecordType uint8 = 0

// ClientOptions configures the client (dialing) side of a Conn.
type ClientOptions struct {
	MyKey  sptps.PrivateKey // local long-term signing key
	HisKey sptps.PublicKey  // expected peer long-term public key
	Label  string           // domain-separation label, must match the server's

	CipherSuites   uint16       // 0 means all suites this package supports
	PreferredSuite sptps.SuiteID

	// Observer receives handshake/record/session lifecycle events.
	// Defaults to observability.NoopSessionObserver.
	Observer observability.SessionObserver
}

// ServerOptions configures the server (accepting) side of a Conn.
type ServerOptions struct {
	MyKey  sptps.PrivateKey
	HisKey sptps.PublicKey
	Label  string

	CipherSuites   uint16
	PreferredSuite sptps.SuiteID

	Observer observability.SessionObserver
}

// Conn is a net.Conn backed by an sptps.Session riding a transport.BinaryTransport.
type Conn struct {
	t        transport.BinaryTransport
	observer observability.SessionObserver

	sessionMu sync.Mutex
	session   *sptps.Session

	handshakeStarted time.Time
	rekeyStarted     time.Time
	handshakeDone    bool
	handshakeOnce    sync.Once
	handshakeCh      chan struct{}

	mu      sync.Mutex
	buf     bytes.Buffer
	readErr error
	closed  bool

	readNotify   chan struct{}
	readDeadline time.Time

	writeMu       sync.Mutex
	writeDeadline time.Time
}

// Dial establishes a client-side sptps session over t, blocking until the
// handshake completes or fails, so a returned Conn is immediately writable.
func Dial(t transport.BinaryTransport, opts ClientOptions) (*Conn, error) {
	return newConn(t, true, opts.MyKey, opts.HisKey, opts.Label, opts.CipherSuites, opts.PreferredSuite, opts.Observer)
}

// Accept establishes a server-side sptps session over t, blocking until the
// handshake completes or fails. The peer must be dialing concurrently.
func Accept(t transport.BinaryTransport, opts ServerOptions) (*Conn, error) {
	return newConn(t, false, opts.MyKey, opts.HisKey, opts.Label, opts.CipherSuites, opts.PreferredSuite, opts.Observer)
}

func newConn(
	t transport.BinaryTransport,
	initiator bool,
	mykey sptps.PrivateKey,
	hiskey sptps.PublicKey,
	label string,
	cipherSuites uint16,
	preferredSuite sptps.SuiteID,
	observer observability.SessionObserver,
) (*Conn, error) {
	if observer == nil {
		observer = observability.NoopSessionObserver
	}
	c := &Conn{
		t:           t,
		observer:    observer,
		readNotify:  make(chan struct{}),
		handshakeCh: make(chan struct{}),
	}

	c.handshakeStarted = monotonicNow()
	observer.HandshakeStart(initiator)

	session, err := sptps.Start(sptps.Params{
		Initiator:      initiator,
		MyKey:          mykey,
		HisKey:         hiskey,
		Label:          label,
		CipherSuites:   cipherSuites,
		PreferredSuite: preferredSuite,
		SendData: func(_ *sptps.Session, _ uint8, frame []byte) bool {
			ctx := context.Background()
			c.writeMu.Lock()
			if !c.writeDeadline.IsZero() {
				var cancel context.CancelFunc
				ctx, cancel = context.WithDeadline(ctx, c.writeDeadline)
				defer cancel()
			}
			c.writeMu.Unlock()
			return c.t.WriteBinary(ctx, frame) == nil
		},
		ReceiveRecord: func(s *sptps.Session, typ uint8, data []byte) bool {
			if typ == sptps.HandshakeType {
				c.onHandshakeComplete(s)
				return true
			}
			c.observer.RecordReceived(typ, len(data), observability.RecordResultOK)
			if typ != appRecordType {
				return true
			}
			c.mu.Lock()
			_, _ = c.buf.Write(data)
			c.signalReadLocked()
			c.mu.Unlock()
			return true
		},
	})
	if err != nil {
		observer.HandshakeFailed(observability.HandshakeResultTransportError)
		return nil, err
	}
	c.session = session

	go c.readLoop()

	// Block until the first handshake settles; until then the session
	// rejects application records, so handing out the Conn early would only
	// turn every Write into an invalid-state error.
	<-c.handshakeCh
	c.mu.Lock()
	err = c.readErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// onHandshakeComplete fires the appropriate observer event: the first
// completion is the initial handshake, every later one a rekey.
func (c *Conn) onHandshakeComplete(s *sptps.Session) {
	now := monotonicNow()
	if !c.handshakeDone {
		c.handshakeDone = true
		c.observer.HandshakeComplete(now.Sub(c.handshakeStarted), uint8(s.CipherSuite()))
		c.handshakeOnce.Do(func() { close(c.handshakeCh) })
		return
	}
	c.observer.RekeyComplete(now.Sub(c.rekeyStarted))
}

// ForceRekey triggers a new key exchange on the underlying session,
// recording the rekey's start time for the observer's latency metric.
func (c *Conn) ForceRekey() error {
	c.observer.RekeyStart()
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.rekeyStarted = monotonicNow()
	return c.session.ForceKEX()
}

func monotonicNow() time.Time { return time.Now() }

func (c *Conn) signalReadLocked() {
	close(c.readNotify)
	c.readNotify = make(chan struct{})
}

func (c *Conn) readLoop() {
	for {
		frame, err := c.t.ReadBinary(context.Background())
		if err != nil {
			c.failRead(err)
			return
		}
		c.sessionMu.Lock()
		_, err = c.session.Receive(frame)
		c.sessionMu.Unlock()
		if err != nil {
			if !c.handshakeDone {
				c.observer.HandshakeFailed(classifyHandshakeFailure(err))
			} else {
				c.observer.RecordReceived(0, 0, classifyRecordFailure(err))
			}
			c.failRead(err)
			return
		}
	}
}

func classifyHandshakeFailure(err error) observability.HandshakeResult {
	switch {
	case errors.Is(err, sptps.ErrBadSignature):
		return observability.HandshakeResultBadSignature
	case errors.Is(err, sptps.ErrNoCommonSuite):
		return observability.HandshakeResultNoCommonSuite
	case errors.Is(err, sptps.ErrBadVersion):
		return observability.HandshakeResultBadVersion
	default:
		return observability.HandshakeResultTransportError
	}
}

func classifyRecordFailure(err error) observability.RecordResult {
	switch {
	case errors.Is(err, sptps.ErrDecryptFailed):
		return observability.RecordResultDecryptFail
	case errors.Is(err, sptps.ErrLateOrReplay):
		return observability.RecordResultReplay
	case errors.Is(err, sptps.ErrFarFuture):
		return observability.RecordResultFarFuture
	default:
		return observability.RecordResultShortOrMalformed
	}
}

func (c *Conn) failRead(err error) {
	c.mu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.signalReadLocked()
	c.mu.Unlock()
	c.handshakeOnce.Do(func() { close(c.handshakeCh) })
	_ = c.Close()
}

// Read implements net.Conn.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		c.mu.Lock()
		if c.buf.Len() > 0 {
			n, _ := c.buf.Read(p)
			c.mu.Unlock()
			return n, nil
		}
		if c.readErr != nil {
			err := c.readErr
			c.mu.Unlock()
			return 0, err
		}
		if c.closed {
			c.mu.Unlock()
			return 0, io.EOF
		}

		ch := c.readNotify
		deadline := c.readDeadline
		c.mu.Unlock()

		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer := time.NewTimer(d)
			select {
			case <-ch:
				timer.Stop()
				continue
			case <-timer.C:
				return 0, os.ErrDeadlineExceeded
			}
		}
		<-ch
	}
}

// Write implements net.Conn. Payloads larger than the session's maximum
// record size are split into multiple records.
func (c *Conn) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > sptps.MaxPlaintextLen {
			chunk = p[:sptps.MaxPlaintextLen]
		}

		c.sessionMu.Lock()
		err := c.session.SendRecord(appRecordType, chunk)
		c.sessionMu.Unlock()
		if err != nil {
			return total, err
		}
		c.observer.RecordSent(appRecordType, len(chunk))

		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// Close implements net.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.signalReadLocked()
	c.mu.Unlock()

	c.sessionMu.Lock()
	_ = c.session.Stop()
	c.sessionMu.Unlock()

	c.observer.SessionClosed()
	return c.t.Close()
}

func (c *Conn) LocalAddr() net.Addr  { return dummyAddr("sptps-local") }
func (c *Conn) RemoteAddr() net.Addr { return dummyAddr("sptps-remote") }

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.signalReadLocked()
	c.mu.Unlock()
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.writeMu.Lock()
	c.writeDeadline = t
	c.writeMu.Unlock()
	return nil
}

func (c *Conn) SetDeadline(t time.Time) error {
	_ = c.SetReadDeadline(t)
	_ = c.SetWriteDeadline(t)
	return nil
}

// Session exposes the underlying sptps.Session, e.g. for ForceKEX or metrics.
func (c *Conn) Session() *sptps.Session { return c.session }

type dummyAddr string

func (d dummyAddr) Network() string { return string(d) }
func (d dummyAddr) String() string  { return string(d) }
