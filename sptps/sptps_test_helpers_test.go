package sptps

import "testing"

// pairedSessions wires two Sessions together in-process. SendData never
// calls the peer directly — it only enqueues the frame — so both Sessions
// can be constructed (each immediately sending its own KEX, per Start)
// before any frame is actually delivered. pump drains both queues,
// round-tripping frames until the handshake (and whatever else is queued)
// settles.
type pairedSessions struct {
	t    *testing.T
	a, b *Session

	toA, toB [][]byte

	recA, recB []record
}

type record struct {
	typ  uint8
	data []byte
}

func newPairedSessions(t *testing.T, datagram bool) *pairedSessions {
	return newPairedSessionsWith(t, datagram, nil, nil)
}

// newPairedSessionsWith lets a test adjust either side's Params (cipher
// suites, replay window, ...) before the sessions start.
func newPairedSessionsWith(t *testing.T, datagram bool, tuneA, tuneB func(*Params)) *pairedSessions {
	p := &pairedSessions{t: t}

	aPriv, aPub, err := GenerateEd25519Keypair()
	if err != nil {
		t.Fatalf("generate A keypair: %v", err)
	}
	bPriv, bPub, err := GenerateEd25519Keypair()
	if err != nil {
		t.Fatalf("generate B keypair: %v", err)
	}

	bParams := Params{
		Initiator: false,
		Datagram:  datagram,
		MyKey:     bPriv,
		HisKey:    aPub,
		Label:     "test-label",
		SendData: func(s *Session, _ uint8, frame []byte) bool {
			p.toA = append(p.toA, append([]byte{}, frame...))
			return true
		},
		ReceiveRecord: func(s *Session, typ uint8, data []byte) bool {
			if typ != handshakeType {
				p.recB = append(p.recB, record{typ, append([]byte{}, data...)})
			}
			return true
		},
	}
	if tuneB != nil {
		tuneB(&bParams)
	}
	b, err := Start(bParams)
	if err != nil {
		t.Fatalf("start B: %v", err)
	}
	p.b = b

	aParams := Params{
		Initiator: true,
		Datagram:  datagram,
		MyKey:     aPriv,
		HisKey:    bPub,
		Label:     "test-label",
		SendData: func(s *Session, _ uint8, frame []byte) bool {
			p.toB = append(p.toB, append([]byte{}, frame...))
			return true
		},
		ReceiveRecord: func(s *Session, typ uint8, data []byte) bool {
			if typ != handshakeType {
				p.recA = append(p.recA, record{typ, append([]byte{}, data...)})
			}
			return true
		},
	}
	if tuneA != nil {
		tuneA(&aParams)
	}
	a, err := Start(aParams)
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	p.a = a

	p.pump(datagram)

	if !p.a.inState || !p.a.outState || !p.b.inState || !p.b.outState {
		t.Fatalf("handshake did not complete: a.in=%v a.out=%v b.in=%v b.out=%v",
			p.a.inState, p.a.outState, p.b.inState, p.b.outState)
	}

	return p
}

// pump delivers every queued frame, in FIFO order per direction, until both
// queues drain. Delivery may itself enqueue more frames (e.g. a reply SIG).
func (p *pairedSessions) pump(datagram bool) {
	for len(p.toA) > 0 || len(p.toB) > 0 {
		for len(p.toA) > 0 {
			frame := p.toA[0]
			p.toA = p.toA[1:]
			var err error
			if datagram {
				err = p.a.ReceiveDatagram(frame)
			} else {
				_, err = p.a.Receive(frame)
			}
			if err != nil {
				p.t.Logf("A receive error: %v", err)
			}
		}
		for len(p.toB) > 0 {
			frame := p.toB[0]
			p.toB = p.toB[1:]
			var err error
			if datagram {
				err = p.b.ReceiveDatagram(frame)
			} else {
				_, err = p.b.Receive(frame)
			}
			if err != nil {
				p.t.Logf("B receive error: %v", err)
			}
		}
	}
}
