package sptps

import (
	"crypto/ecdh"
	"encoding/binary"
	"fmt"
)

// SendDataFunc transmits one already-framed record to the peer. typ is the
// record type the frame carries, so a transport can prioritize handshake
// frames (typ 128) over application traffic without parsing the frame. It
// returns false to abort the session (mirroring a short write or closed
// socket); Session itself never retries or buffers on the caller's behalf.
type SendDataFunc func(s *Session, typ uint8, frame []byte) bool

// ReceiveRecordFunc delivers one decrypted application record (typ < 128)
// to the owner of the session. It is also invoked with typ == 128 and a nil
// payload exactly once, the instant the handshake completes (initial or
// rekey) — the HANDSHAKE type doubles as wire marker and completion
// notification. Returning false aborts the session the same way a negative
// SendDataFunc result does.
type ReceiveRecordFunc func(s *Session, typ uint8, data []byte) bool

// Params configures a new Session. MyKey, HisKey and SendData are mandatory;
// a nil ReceiveRecord means delivered records and handshake-completion
// notifications are dropped. Everything else has a workable zero value or
// package default.
type Params struct {
	// Initiator is true for the side that sends the first KEX.
	Initiator bool
	// Datagram selects per-packet framing (with replay-window tracking)
	// over length-prefixed stream framing.
	Datagram bool

	MyKey  PrivateKey
	HisKey PublicKey

	// Label scopes the key derivation to a particular application/channel;
	// unlike the C API there is no separate length parameter, since a Go
	// string already carries its own length and may contain any bytes.
	Label string

	// CipherSuites is the bitmask of suites this side is willing to use.
	// Zero means AllCipherSuites.
	CipherSuites uint16
	// PreferredSuite is this side's first choice among CipherSuites.
	PreferredSuite SuiteID

	// ReplayWindow overrides DefaultReplayWindow for datagram mode; a
	// pointer so "explicitly zero" (replay checking disabled) is
	// distinguishable from "unset".
	ReplayWindow *int

	SendData      SendDataFunc
	ReceiveRecord ReceiveRecordFunc
	Log           LogFunc

	// Handle is an opaque value threaded back through every callback,
	// typically the socket or connection the session rides on.
	Handle any
}

// Session is a single bidirectional SPTPS channel between this endpoint and
// one peer whose long-term public key is already known. A Session holds no
// internal goroutines or locks: every method runs synchronously on the
// caller's goroutine, and SendData/ReceiveRecord callbacks run inline
// within the call that triggered them.
type Session struct {
	initiator bool
	datagram  bool

	phase    state
	inState  bool
	outState bool

	myKey  PrivateKey
	hisKey PublicKey

	ecdh   *ecdh.PrivateKey
	myKEX  []byte
	hisKEX []byte
	key    [2 * cipherKeyLen]byte

	inCipher  aeadCipher
	outCipher aeadCipher

	cipherSuites   uint16
	preferredSuite SuiteID
	cipherSuite    SuiteID

	label []byte

	inSeqno  uint32
	outSeqno uint32
	replay   *replayWindow

	inbuf []byte // stream-mode partial-frame reassembly buffer

	sendData      SendDataFunc
	receiveRecord ReceiveRecordFunc
	log           LogFunc
	handle        any
}

// Handle returns the opaque value supplied as Params.Handle.
func (s *Session) Handle() any { return s.handle }

// Initiator reports whether this side sent the first KEX.
func (s *Session) Initiator() bool { return s.initiator }

// Datagram reports whether the session uses per-packet framing.
func (s *Session) Datagram() bool { return s.datagram }

// CipherSuite returns the negotiated suite. It is only meaningful once the
// handshake has completed at least once.
func (s *Session) CipherSuite() SuiteID { return s.cipherSuite }

// Start begins a new session: allocates the replay window, sets the
// initial state, and — since SPTPS has no separate "connected" signal —
// immediately sends the first KEX record.
func Start(p Params) (*Session, error) {
	if p.SendData == nil {
		return nil, fmt.Errorf("%w: Params.SendData is required", ErrInvalidState)
	}
	if p.MyKey == nil || p.HisKey == nil {
		return nil, fmt.Errorf("%w: Params.MyKey and Params.HisKey are required", ErrInvalidState)
	}

	suites := p.CipherSuites
	if suites == 0 {
		suites = AllCipherSuites
	}

	replaywin := DefaultReplayWindow
	if p.ReplayWindow != nil {
		replaywin = *p.ReplayWindow
	}

	s := &Session{
		initiator:      p.Initiator,
		datagram:       p.Datagram,
		phase:          stateKEX,
		myKey:          p.MyKey,
		hisKey:         p.HisKey,
		cipherSuites:   suites,
		preferredSuite: p.PreferredSuite,
		label:          []byte(p.Label),
		replay:         newReplayWindow(replaywin),
		sendData:       p.SendData,
		receiveRecord:  p.ReceiveRecord,
		log:            p.Log,
		handle:         p.Handle,
	}

	if err := s.sendKEX(); err != nil {
		return nil, err
	}
	return s, nil
}

// Stop tears the session down: any in-flight handshake material and both
// cipher contexts are zeroed, and the session is left unusable.
func (s *Session) Stop() error {
	s.key = [2 * cipherKeyLen]byte{}
	s.ecdh = nil
	s.myKEX = nil
	s.hisKEX = nil
	s.inCipher = nil
	s.outCipher = nil
	s.inState = false
	s.outState = false
	s.phase = stateZero
	s.inbuf = nil
	return nil
}

// MaxPlaintextLen is the largest payload SendRecord accepts: the 16-bit
// length prefix of a stream frame counts payload bytes only (the record
// type byte is carried separately), so both framings cap a record's
// payload at 65535 bytes.
const MaxPlaintextLen = 65535

// SendRecord encrypts and transmits one application record. typ must be
// less than 128; types 128 and above are reserved for the handshake.
func (s *Session) SendRecord(typ uint8, data []byte) error {
	if typ >= handshakeType {
		s.logf(1, "%v", ErrInvalidRecordType)
		return ErrInvalidRecordType
	}
	if len(data) > MaxPlaintextLen {
		err := fmt.Errorf("%w: record of %d bytes exceeds maximum", ErrBadLength, len(data))
		s.logf(1, "%v", err)
		return err
	}
	if !s.outState {
		err := fmt.Errorf("%w: handshake not yet complete", ErrInvalidState)
		s.logf(1, "%v", err)
		return err
	}
	if err := s.sendRecordPriv(typ, data); err != nil {
		s.logf(1, "%v", err)
		return err
	}
	return nil
}

// sendRecordPriv frames and transmits typ/payload over whichever direction
// is currently live, consuming one sequence number regardless of record
// type. Pre-handshake handshake records are sent in the clear, since
// outCipher is only installed once SIG has been processed.
func (s *Session) sendRecordPriv(typ uint8, payload []byte) error {
	var frame []byte
	if s.datagram {
		frame = encodeDatagramRecord(s.outCipher, s.outSeqno, typ, payload)
	} else {
		frame = encodeStreamRecord(s.outCipher, s.outSeqno, typ, payload)
	}
	s.outSeqno++

	if s.sendData == nil || !s.sendData(s, typ, frame) {
		return fmt.Errorf("sptps: send_data callback rejected the record")
	}
	return nil
}

// dispatch routes one decoded record to the handshake engine or to the
// application callback.
func (s *Session) dispatch(typ uint8, payload []byte) error {
	if typ == handshakeType {
		return s.receiveHandshake(payload)
	}
	if typ > handshakeType {
		return ErrInvalidRecordType
	}
	if !s.inState {
		return fmt.Errorf("%w: application record before handshake completion", ErrInvalidState)
	}
	if s.receiveRecord != nil && !s.receiveRecord(s, typ, payload) {
		return fmt.Errorf("sptps: receive_record callback rejected the record")
	}
	return nil
}

// Receive feeds stream-mode bytes (e.g. freshly read from a TCP socket)
// into the session. It buffers partial frames internally and dispatches
// every record it can fully reassemble before returning. On success the
// return value is always len(data): all bytes are accepted into the
// reassembly buffer first, then complete frames are drained, so an error
// processing one frame never loses the bytes that followed it.
func (s *Session) Receive(data []byte) (int, error) {
	if s.phase == stateZero {
		err := fmt.Errorf("%w: session is stopped", ErrInvalidState)
		s.logf(1, "%v", err)
		return 0, err
	}
	s.inbuf = append(s.inbuf, data...)

	for {
		if len(s.inbuf) < streamHeaderLen {
			break
		}
		declaredLen := int(binary.LittleEndian.Uint16(s.inbuf[0:2]))

		need := streamHeaderLen + declaredLen
		if s.inCipher != nil {
			need += tagLen
		}
		if len(s.inbuf) < need {
			break
		}

		frame := s.inbuf[:need]
		typ, payload, err := decodeStreamRecord(s.inCipher, s.inSeqno, frame, declaredLen)
		if err != nil {
			s.inbuf = s.inbuf[need:]
			s.logf(1, "%v", err)
			return len(data), err
		}
		s.inbuf = s.inbuf[need:]
		s.inSeqno++

		if err := s.dispatch(typ, payload); err != nil {
			s.logf(1, "%v", err)
			return len(data), err
		}
	}

	return len(data), nil
}

// ReceiveDatagram processes exactly one complete datagram. Until the
// inbound direction is keyed, only handshake records carrying the exact
// next sequence number are accepted; once keyed, every record is decrypted
// first and then checked against the replay window, so a forged sequence
// number can never advance the window. ErrFarFuture and ErrLateOrReplay are
// ordinary rejections a caller may simply log and continue past.
func (s *Session) ReceiveDatagram(data []byte) error {
	if s.phase == stateZero {
		err := fmt.Errorf("%w: session is stopped", ErrInvalidState)
		s.logf(1, "%v", err)
		return err
	}

	if !s.inState {
		seqno, typ, payload, err := decodeDatagramRecord(nil, data)
		if err != nil {
			s.logf(1, "%v", err)
			return err
		}
		if seqno != s.replay.inseqno {
			err := fmt.Errorf("%w: invalid packet seqno %d, expected %d", ErrLateOrReplay, seqno, s.replay.inseqno)
			s.logf(1, "%v", err)
			return err
		}
		s.replay.inseqno = seqno + 1
		if typ != handshakeType {
			err := fmt.Errorf("%w: application record before handshake completion", ErrInvalidState)
			s.logf(1, "%v", err)
			return err
		}
		if err := s.receiveHandshake(payload); err != nil {
			s.logf(1, "%v", err)
			return err
		}
		return nil
	}

	seqno, typ, payload, err := decodeDatagramRecord(s.inCipher, data)
	if err != nil {
		s.logf(1, "%v", err)
		return err
	}
	if err := s.replay.check(seqno, true, s.warnf); err != nil {
		s.logf(1, "%v", err)
		return err
	}
	if err := s.dispatch(typ, payload); err != nil {
		s.logf(1, "%v", err)
		return err
	}
	return nil
}

// VerifyDatagram checks a datagram's sequence number against the replay
// window and authenticates its tag without dispatching it or mutating any
// session state, so a multiplexer fronting several sessions can cheaply
// discard forged or replayed packets before handing the rest to
// ReceiveDatagram. The sequence number is checked first: a replayed packet
// is rejected without paying for a decryption.
func (s *Session) VerifyDatagram(data []byte) error {
	if !s.inState || len(data) < datagramOverhead {
		return ErrShortPacket
	}
	seqno := binary.LittleEndian.Uint32(data[0:4])
	if err := s.replay.check(seqno, false, nil); err != nil {
		return err
	}
	_, err := s.inCipher.decrypt(seqno, data[4:])
	return err
}

// Received returns the number of keyed datagrams the replay check has
// accepted, for metrics/diagnostics. It is not reset by a rekey; it resets
// to zero when the inbound sequence number wraps. Stream-mode records are
// not counted.
func (s *Session) Received() uint64 {
	return s.replay.received
}
