package muxconn

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/floegence/sptps-go/sptps"
	"github.com/floegence/sptps-go/sptpsconn"
)

// chanTransport mirrors the in-memory transport used by the sptpsconn tests:
// two halves sharing buffered channels and one closed signal.
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

func newSessionPair(t *testing.T) (client, server *Session) {
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

	type result struct {
		sess *Session
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		conn, err := sptpsconn.Accept(bt, sptpsconn.ServerOptions{
			MyKey:  bPriv,
			HisKey: aPub,
			Label:  "mux-test",
		})
		if err != nil {
			serverCh <- result{nil, err}
			return
		}
		sess, err := Server(conn, nil)
		serverCh <- result{sess, err}
	}()

	clientConn, err := sptpsconn.Dial(at, sptpsconn.ClientOptions{
		MyKey:  aPriv,
		HisKey: bPub,
		Label:  "mux-test",
	})
	if err != nil {
		t.Fatalf("sptpsconn.Dial: %v", err)
	}
	clientSess, err := Client(clientConn, nil)
	if err != nil {
		t.Fatalf("muxconn.Client: %v", err)
	}

	res := <-serverCh
	if res.err != nil {
		t.Fatalf("server side: %v", res.err)
	}

	t.Cleanup(func() {
		_ = clientSess.Close()
		_ = res.sess.Close()
	})
	return clientSess, res.sess
}

func TestMuxStreamEcho(t *testing.T) {
	client, server := newSessionPair(t)

	go func() {
		stream, err := server.AcceptStream()
		if err != nil {
			return
		}
		defer stream.Close()
		buf := make([]byte, 1024)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				if _, werr := stream.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	stream, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	msg := []byte("multiplexed over one handshake")
	if _, err := stream.Write(msg); err != nil {
		t.Fatalf("stream.Write: %v", err)
	}

	_ = stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make([]byte, 0, len(msg))
	buf := make([]byte, len(msg))
	for len(got) < len(msg) {
		n, err := stream.Read(buf)
		if err != nil {
			t.Fatalf("stream.Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("echo mismatch: %q", got)
	}
}

func TestMuxParallelStreams(t *testing.T) {
	client, server := newSessionPair(t)

	const streams = 4

	go func() {
		for i := 0; i < streams; i++ {
			stream, err := server.AcceptStream()
			if err != nil {
				return
			}
			go func(s net.Conn) {
				defer s.Close()
				_, _ = io.Copy(s, s)
			}(stream)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stream, err := client.OpenStream()
			if err != nil {
				t.Errorf("OpenStream %d: %v", i, err)
				return
			}
			defer stream.Close()

			msg := bytes.Repeat([]byte{byte('a' + i)}, 512)
			if _, err := stream.Write(msg); err != nil {
				t.Errorf("stream %d write: %v", i, err)
				return
			}
			_ = stream.SetReadDeadline(time.Now().Add(5 * time.Second))
			got := make([]byte, 0, len(msg))
			buf := make([]byte, len(msg))
			for len(got) < len(msg) {
				n, err := stream.Read(buf)
				if err != nil {
					t.Errorf("stream %d read: %v", i, err)
					return
				}
				got = append(got, buf[:n]...)
			}
			if !bytes.Equal(got, msg) {
				t.Errorf("stream %d echo mismatch", i)
			}
		}(i)
	}
	wg.Wait()
}

func TestMuxForceRekeyKeepsStreamsOpen(t *testing.T) {
	client, server := newSessionPair(t)

	go func() {
		stream, err := server.AcceptStream()
		if err != nil {
			return
		}
		defer stream.Close()
		_, _ = io.Copy(stream, stream)
	}()

	stream, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	roundtrip := func(msg []byte) {
		if _, err := stream.Write(msg); err != nil {
			t.Fatalf("stream.Write: %v", err)
		}
		_ = stream.SetReadDeadline(time.Now().Add(5 * time.Second))
		got := make([]byte, 0, len(msg))
		buf := make([]byte, len(msg))
		for len(got) < len(msg) {
			n, err := stream.Read(buf)
			if err != nil {
				t.Fatalf("stream.Read: %v", err)
			}
			got = append(got, buf[:n]...)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("echo mismatch across rekey: %q", got)
		}
	}

	roundtrip([]byte("before rekey"))
	if err := client.ForceRekey(); err != nil {
		t.Fatalf("ForceRekey: %v", err)
	}
	roundtrip([]byte("after rekey"))
}
