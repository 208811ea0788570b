package sptpsconn

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/floegence/sptps-go/observability"
	"github.com/floegence/sptps-go/sptps"
)

// chanTransport is an in-memory BinaryTransport half; a pair of halves share
// two buffered channels and one closed signal, so closing either end tears
// down both directions the way closing one end of a socket does.
type chanTransport struct {
	pair *chanPair
	in   chan []byte
	out  chan []byte
}

type chanPair struct {
	once   sync.Once
	closed chan struct{}
}

func newTransportPair() (*chanTransport, *chanTransport) {
	p := &chanPair{closed: make(chan struct{})}
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	return &chanTransport{pair: p, in: ba, out: ab},
		&chanTransport{pair: p, in: ab, out: ba}
}

func (t *chanTransport) ReadBinary(ctx context.Context) ([]byte, error) {
	select {
	case b := <-t.in:
		return b, nil
	case <-t.pair.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *chanTransport) WriteBinary(ctx context.Context, b []byte) error {
	buf := append([]byte{}, b...)
	select {
	case t.out <- buf:
		return nil
	case <-t.pair.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *chanTransport) Close() error {
	t.pair.once.Do(func() { close(t.pair.closed) })
	return nil
}

func newConnPair(t *testing.T, clientObs, serverObs observability.SessionObserver) (*Conn, *Conn) {
	t.Helper()

	at, bt := newTransportPair()
	aPriv, aPub, err := sptps.GenerateEd25519Keypair()
	if err != nil {
		t.Fatalf("generate client keypair: %v", err)
	}
	bPriv, bPub, err := sptps.GenerateEd25519Keypair()
	if err != nil {
		t.Fatalf("generate server keypair: %v", err)
	}

	type acceptResult struct {
		conn *Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := Accept(bt, ServerOptions{
			MyKey:    bPriv,
			HisKey:   aPub,
			Label:    "conn-test",
			Observer: serverObs,
		})
		acceptCh <- acceptResult{conn, err}
	}()

	client, err := Dial(at, ClientOptions{
		MyKey:    aPriv,
		HisKey:   bPub,
		Label:    "conn-test",
		Observer: clientObs,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	res := <-acceptCh
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = res.conn.Close()
	})
	return client, res.conn
}

func readFull(t *testing.T, c *Conn, n int) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 0, n)
	tmp := make([]byte, n)
	for len(buf) < n {
		m, err := c.Read(tmp)
		if err != nil {
			t.Fatalf("Read: %v (got %d of %d bytes)", err, len(buf), n)
		}
		buf = append(buf, tmp[:m]...)
	}
	return buf
}

func TestConnReadWriteRoundtrip(t *testing.T) {
	client, server := newConnPair(t, nil, nil)

	msg := []byte("hello over sptps")
	if _, err := client.Write(msg); err != nil {
		t.Fatalf("client.Write: %v", err)
	}
	if got := readFull(t, server, len(msg)); !bytes.Equal(got, msg) {
		t.Fatalf("server read %q, want %q", got, msg)
	}

	reply := []byte("and back again")
	if _, err := server.Write(reply); err != nil {
		t.Fatalf("server.Write: %v", err)
	}
	if got := readFull(t, client, len(reply)); !bytes.Equal(got, reply) {
		t.Fatalf("client read %q, want %q", got, reply)
	}
}

func TestConnLargeWriteSplitsIntoRecords(t *testing.T) {
	client, server := newConnPair(t, nil, nil)

	big := bytes.Repeat([]byte{0x5A}, sptps.MaxPlaintextLen+4096)
	if n, err := client.Write(big); err != nil || n != len(big) {
		t.Fatalf("client.Write: n=%d err=%v", n, err)
	}
	if got := readFull(t, server, len(big)); !bytes.Equal(got, big) {
		t.Fatalf("oversized payload did not survive record splitting")
	}
}

func TestConnForceRekeyKeepsFlowing(t *testing.T) {
	client, server := newConnPair(t, nil, nil)

	if _, err := client.Write([]byte("before")); err != nil {
		t.Fatalf("client.Write: %v", err)
	}
	if got := readFull(t, server, 6); !bytes.Equal(got, []byte("before")) {
		t.Fatalf("pre-rekey read mismatch: %q", got)
	}

	if err := client.ForceRekey(); err != nil {
		t.Fatalf("ForceRekey: %v", err)
	}

	// Records written after the rekey was requested must still arrive; the
	// cutover is invisible to stream consumers.
	if _, err := client.Write([]byte("after rekey")); err != nil {
		t.Fatalf("client.Write after rekey: %v", err)
	}
	if got := readFull(t, server, len("after rekey")); !bytes.Equal(got, []byte("after rekey")) {
		t.Fatalf("post-rekey read mismatch: %q", got)
	}
}

func TestConnHandshakeFailsWithMistrustedKey(t *testing.T) {
	at, bt := newTransportPair()
	aPriv, _, err := sptps.GenerateEd25519Keypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	bPriv, bPub, err := sptps.GenerateEd25519Keypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	_, wrongPub, err := sptps.GenerateEd25519Keypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	acceptErr := make(chan error, 1)
	go func() {
		// The server trusts a key that is not the client's, so its SIG
		// verification must fail and Accept must not hand out a Conn.
		_, err := Accept(bt, ServerOptions{MyKey: bPriv, HisKey: wrongPub, Label: "conn-test"})
		acceptErr <- err
	}()

	clientDone := make(chan error, 1)
	go func() {
		_, err := Dial(at, ClientOptions{MyKey: aPriv, HisKey: bPub, Label: "conn-test"})
		clientDone <- err
	}()

	if err := <-acceptErr; err == nil {
		t.Fatalf("Accept succeeded with a mistrusted peer key")
	}
	// The failed side closes the shared transport, so the client unblocks
	// with an error of its own rather than hanging.
	if err := <-clientDone; err == nil {
		t.Fatalf("Dial succeeded even though the server aborted the handshake")
	}
}

func TestConnReadDeadline(t *testing.T) {
	client, _ := newConnPair(t, nil, nil)

	_ = client.SetReadDeadline(time.Now().Add(30 * time.Millisecond))
	buf := make([]byte, 16)
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected a deadline error from Read with no pending data")
	}
}

// recordingObserver captures observer events for assertions.
type recordingObserver struct {
	mu                sync.Mutex
	handshakeComplete int
	rekeyComplete     int
	recordsSent       int
	closed            int
}

func (r *recordingObserver) HandshakeStart(bool) {}
func (r *recordingObserver) HandshakeComplete(time.Duration, uint8) {
	r.mu.Lock()
	r.handshakeComplete++
	r.mu.Unlock()
}
func (r *recordingObserver) HandshakeFailed(observability.HandshakeResult) {}
func (r *recordingObserver) RekeyStart()                                   {}
func (r *recordingObserver) RekeyComplete(time.Duration) {
	r.mu.Lock()
	r.rekeyComplete++
	r.mu.Unlock()
}
func (r *recordingObserver) RecordSent(uint8, int) {
	r.mu.Lock()
	r.recordsSent++
	r.mu.Unlock()
}
func (r *recordingObserver) RecordReceived(uint8, int, observability.RecordResult) {}
func (r *recordingObserver) SessionClosed() {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
}

func (r *recordingObserver) snapshot() (handshakes, rekeys, sent, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handshakeComplete, r.rekeyComplete, r.recordsSent, r.closed
}

func TestConnObserverSeesLifecycle(t *testing.T) {
	obs := &recordingObserver{}
	client, server := newConnPair(t, obs, nil)

	if _, err := client.Write([]byte("observed")); err != nil {
		t.Fatalf("client.Write: %v", err)
	}
	_ = readFull(t, server, len("observed"))

	if err := client.ForceRekey(); err != nil {
		t.Fatalf("ForceRekey: %v", err)
	}
	if _, err := client.Write([]byte("post")); err != nil {
		t.Fatalf("client.Write: %v", err)
	}
	_ = readFull(t, server, len("post"))

	// The client's RekeyComplete fires when the peer's ACK arrives, which
	// can trail the data record above; poll instead of sampling once.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, rekeys, _, _ := obs.snapshot(); rekeys == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rekey never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = client.Close()

	handshakes, _, sent, closed := obs.snapshot()
	if handshakes != 1 {
		t.Fatalf("handshakeComplete = %d, want 1", handshakes)
	}
	if sent != 2 {
		t.Fatalf("recordsSent = %d, want 2", sent)
	}
	if closed != 1 {
		t.Fatalf("sessionClosed = %d, want 1", closed)
	}
}
