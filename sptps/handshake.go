package sptps

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// kexFrameLen is the wire length of a KEX frame:
// version:1 + preferred_suite:1 + suites_bitmask:2 + nonce:32 + ecdh_pub:32.
const kexFrameLen = 1 + 1 + 2 + kexNonceLen + ecdhSize

// sendKEX emits a fresh Key EXchange record: a random nonce plus a new
// ephemeral ECDH public key. s.ecdh and s.myKEX are live from here until the
// shared secret is computed in receiveSIG.
func (s *Session) sendKEX() error {
	if s.myKEX != nil {
		return fmt.Errorf("%w: KEX already in flight", ErrInvalidState)
	}

	frame := make([]byte, kexFrameLen)
	frame[0] = Version
	frame[1] = uint8(s.preferredSuite)
	binary.LittleEndian.PutUint16(frame[2:4], s.cipherSuites)

	if _, err := rand.Read(frame[4 : 4+kexNonceLen]); err != nil {
		return fmt.Errorf("%w: %v", ErrAllocFailed, err)
	}

	priv, pub, err := generateEphemeral()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrECDHFailed, err)
	}
	copy(frame[4+kexNonceLen:], pub)

	s.ecdh = priv
	s.myKEX = frame

	return s.sendRecordPriv(handshakeType, frame)
}

// sigMessage builds the abstract message both sides sign: tag || sender_kex
// || receiver_kex || label, where tag is 1 for the connection initiator and
// 0 for the responder (from the signer's own perspective).
func sigMessage(tag uint8, senderKEX, receiverKEX, label []byte) []byte {
	msg := make([]byte, 0, 1+len(senderKEX)+len(receiverKEX)+len(label))
	msg = append(msg, tag)
	msg = append(msg, senderKEX...)
	msg = append(msg, receiverKEX...)
	msg = append(msg, label...)
	return msg
}

// sendSIG signs both KEX messages (from this side's perspective) with the
// local long-term key and sends the signature as a handshake record.
func (s *Session) sendSIG() error {
	tag := uint8(0)
	if s.initiator {
		tag = 1
	}
	msg := sigMessage(tag, s.myKEX, s.hisKEX, s.label)
	sig, err := s.myKey.Sign(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return s.sendRecordPriv(handshakeType, sig)
}

// sendACK emits the empty handshake record that marks the cutover to new
// inbound keys.
func (s *Session) sendACK() error {
	return s.sendRecordPriv(handshakeType, nil)
}

// deriveKeyMaterial expands the ECDH shared secret into 128 bytes of keying
// material via HKDF-SHA256, the PRF treated as an external collaborator by
// the protocol: key expansion is seeded with "key expansion" || initiator's
// nonce || responder's nonce || label, in that canonical order regardless
// of which side is computing it, so both derive identical material.
func (s *Session) deriveKeyMaterial(shared []byte) error {
	var initiatorNonce, responderNonce []byte
	if s.initiator {
		initiatorNonce = s.myKEX[4 : 4+kexNonceLen]
		responderNonce = s.hisKEX[4 : 4+kexNonceLen]
	} else {
		initiatorNonce = s.hisKEX[4 : 4+kexNonceLen]
		responderNonce = s.myKEX[4 : 4+kexNonceLen]
	}

	seed := make([]byte, 0, 13+2*kexNonceLen+len(s.label))
	seed = append(seed, "key expansion"...)
	seed = append(seed, initiatorNonce...)
	seed = append(seed, responderNonce...)
	seed = append(seed, s.label...)

	r := hkdf.New(sha256.New, shared, nil, seed)
	var key [2 * cipherKeyLen]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrPRFFailed, err)
	}
	s.key = key
	return nil
}

// receiveKEX processes a peer KEX record: validates it, negotiates the
// cipher suite, and — if we are the initiator — replies with our SIG.
func (s *Session) receiveKEX(data []byte) error {
	if len(data) != kexFrameLen {
		return fmt.Errorf("%w: invalid KEX record length", ErrBadLength)
	}
	if data[0] != Version {
		return ErrBadVersion
	}

	peerMask := binary.LittleEndian.Uint16(data[2:4])
	common := peerMask & s.cipherSuites
	if common == 0 {
		return ErrNoCommonSuite
	}
	s.cipherSuite = selectCipherSuite(common, s.preferredSuite, SuiteID(data[1]&0xf))

	if s.hisKEX != nil {
		return ErrDuplicateKEX
	}
	hisKEX := make([]byte, len(data))
	copy(hisKEX, data)
	s.hisKEX = hisKEX

	if s.initiator {
		return s.sendSIG()
	}
	return nil
}

// receiveSIG verifies the peer's SIG record, derives the session keys from
// the ECDH shared secret, and — if this side hasn't sent its own SIG yet —
// sends it now before installing the outbound cipher.
func (s *Session) receiveSIG(data []byte) error {
	tag := uint8(1)
	if s.initiator {
		tag = 0
	}
	msg := sigMessage(tag, s.hisKEX, s.myKEX, s.label)
	if !s.hisKey.Verify(msg, data) {
		return ErrBadSignature
	}

	peerPub, err := parseEphemeralPublic(s.hisKEX[4+kexNonceLen:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrECDHFailed, err)
	}
	shared, err := s.ecdh.ECDH(peerPub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrECDHFailed, err)
	}
	s.ecdh = nil

	if err := s.deriveKeyMaterial(shared); err != nil {
		return err
	}

	if !s.initiator {
		if err := s.sendSIG(); err != nil {
			return err
		}
	}

	s.myKEX = nil
	s.hisKEX = nil

	if s.outState {
		if err := s.sendACK(); err != nil {
			return err
		}
	}

	outCipher, err := initCipher(s.cipherSuite, s.key, !s.initiator)
	if err != nil {
		return err
	}
	s.outCipher = outCipher
	return nil
}

// receiveACK installs the inbound cipher from the just-derived key material
// and releases it, since both directions are now keyed from it.
func (s *Session) receiveACK(data []byte) error {
	if len(data) != 0 {
		return fmt.Errorf("%w: invalid ACK record length", ErrBadLength)
	}
	inCipher, err := initCipher(s.cipherSuite, s.key, s.initiator)
	if err != nil {
		return err
	}
	s.inCipher = inCipher
	s.key = [2 * cipherKeyLen]byte{}
	s.inState = true
	return nil
}

// ForceKEX triggers a rekey: only legal from SECONDARY_KEX with the
// outbound direction already keyed.
func (s *Session) ForceKEX() error {
	if !s.outState || s.phase != stateSecondaryKEX {
		err := fmt.Errorf("%w: cannot force KEX outside secondary-kex", ErrInvalidState)
		s.logf(1, "%v", err)
		return err
	}
	s.phase = stateKEX
	if err := s.sendKEX(); err != nil {
		s.logf(1, "%v", err)
		return err
	}
	return nil
}

// receiveHandshake dispatches a handshake-type record through the KEX/SIG/
// ACK/SECONDARY_KEX state machine.
func (s *Session) receiveHandshake(data []byte) error {
	switch s.phase {
	case stateSecondaryKEX:
		// A handshake record in this state starts a new KEX round: send our
		// own KEX, then process the received one as if we were in KEX.
		if err := s.sendKEX(); err != nil {
			return err
		}
		fallthrough

	case stateKEX:
		if err := s.receiveKEX(data); err != nil {
			return err
		}
		s.phase = stateSIG
		return nil

	case stateSIG:
		if err := s.receiveSIG(data); err != nil {
			return err
		}
		if s.outState {
			s.phase = stateACK
			return nil
		}
		s.outState = true
		if err := s.receiveACK(nil); err != nil {
			return err
		}
		s.notifyHandshakeComplete()
		s.phase = stateSecondaryKEX
		return nil

	case stateACK:
		if err := s.receiveACK(data); err != nil {
			return err
		}
		s.notifyHandshakeComplete()
		s.phase = stateSecondaryKEX
		return nil

	default:
		return fmt.Errorf("%w: invalid session state %d", ErrInvalidState, s.phase)
	}
}

func (s *Session) notifyHandshakeComplete() {
	if s.receiveRecord != nil {
		s.receiveRecord(s, handshakeType, nil)
	}
}
