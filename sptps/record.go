package sptps

import "encoding/binary"

// Wire header sizes (§4.2). Stream framing is self-delimiting via a length
// prefix since TCP-like transports don't expose sequence numbers reliably;
// datagram framing carries the sequence number explicitly so the replay
// window and nonce reconstruction both have it to hand.
const (
	streamHeaderLen   = 2 + 1 // len:2 LE + type:1
	streamOverhead    = streamHeaderLen + tagLen
	datagramHeaderLen = 4 + 1 // seqno:4 LE + type:1
	datagramOverhead  = datagramHeaderLen + tagLen
)

// encodeStreamRecord builds a stream-mode frame. cipher is nil when the
// session is not yet keyed, in which case the frame is sent in the clear.
func encodeStreamRecord(cipher aeadCipher, seqno uint32, typ uint8, payload []byte) []byte {
	buf := make([]byte, streamHeaderLen, streamHeaderLen+len(payload)+tagLen)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(payload)))
	buf[2] = typ
	buf = append(buf, payload...)
	if cipher != nil {
		enc := cipher.encrypt(seqno, buf[2:])
		buf = buf[:2+len(enc)]
	}
	return buf
}

// decodeStreamRecord parses and, if cipher is non-nil, decrypts a complete
// stream-mode frame (header + ciphertext/tag or header + plaintext,
// depending on keyed state). declaredLen is the plaintext payload length
// taken from the length prefix.
func decodeStreamRecord(cipher aeadCipher, seqno uint32, frame []byte, declaredLen int) (typ uint8, payload []byte, err error) {
	if len(frame) < 3 {
		return 0, nil, ErrShortPacket
	}
	if cipher != nil {
		plain, derr := cipher.decrypt(seqno, frame[2:])
		if derr != nil {
			return 0, nil, derr
		}
		if len(plain) < 1 {
			return 0, nil, ErrBadLength
		}
		return plain[0], plain[1:], nil
	}
	if len(frame) != 2+1+declaredLen {
		return 0, nil, ErrBadLength
	}
	return frame[2], frame[3:], nil
}

// encodeDatagramRecord builds a datagram-mode frame. cipher is nil when the
// session is not yet keyed.
func encodeDatagramRecord(cipher aeadCipher, seqno uint32, typ uint8, payload []byte) []byte {
	buf := make([]byte, datagramHeaderLen, datagramHeaderLen+len(payload)+tagLen)
	binary.LittleEndian.PutUint32(buf[0:4], seqno)
	buf[4] = typ
	buf = append(buf, payload...)
	if cipher != nil {
		enc := cipher.encrypt(seqno, buf[4:])
		buf = buf[:4+len(enc)]
	}
	return buf
}

// decodeDatagramRecord parses (and, if keyed, decrypts) exactly one
// complete datagram-mode frame. Every call must receive a whole record;
// short records are rejected rather than buffered, since datagrams are not
// guaranteed to reassemble across calls.
func decodeDatagramRecord(cipher aeadCipher, frame []byte) (seqno uint32, typ uint8, payload []byte, err error) {
	minLen := datagramHeaderLen
	if cipher != nil {
		minLen = datagramOverhead
	}
	if len(frame) < minLen {
		return 0, 0, nil, ErrShortPacket
	}
	seqno = binary.LittleEndian.Uint32(frame[0:4])
	if cipher != nil {
		plain, derr := cipher.decrypt(seqno, frame[4:])
		if derr != nil {
			return seqno, 0, nil, derr
		}
		if len(plain) < 1 {
			return seqno, 0, nil, ErrBadLength
		}
		return seqno, plain[0], plain[1:], nil
	}
	return seqno, frame[4], frame[5:], nil
}
