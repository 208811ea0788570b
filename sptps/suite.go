package sptps

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// tagLen is the AEAD authentication tag length appended to every ciphertext.
const tagLen = 16

// aeadCipher is the uniform encrypt/decrypt adapter over a chosen AEAD
// suite, modeled as an interface per a tagged implementation rather than an
// untyped context handle. No associated data is ever fed to the AEAD: the
// record-type byte lives inside the plaintext and is covered by the tag
// through that placement alone.
type aeadCipher interface {
	// encrypt appends a 16-byte tag to plaintext, nonce-bound to seqno.
	encrypt(seqno uint32, plaintext []byte) []byte
	// decrypt validates and strips the 16-byte tag, nonce-bound to seqno.
	decrypt(seqno uint32, ciphertext []byte) ([]byte, error)
}

type aeadSuite struct {
	aead cipher.AEAD
}

func (c *aeadSuite) nonce(seqno uint32) []byte {
	n := make([]byte, 12)
	n[0] = byte(seqno)
	n[1] = byte(seqno >> 8)
	n[2] = byte(seqno >> 16)
	n[3] = byte(seqno >> 24)
	return n
}

func (c *aeadSuite) encrypt(seqno uint32, plaintext []byte) []byte {
	return c.aead.Seal(plaintext[:0], c.nonce(seqno), plaintext, nil)
}

// decrypt opens into a fresh buffer rather than in place: the ciphertext may
// be a caller-owned datagram that must survive a verification-only pass, and
// a delivered payload must not alias the stream reassembly buffer.
func (c *aeadSuite) decrypt(seqno uint32, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < tagLen {
		return nil, ErrDecryptFailed
	}
	plain, err := c.aead.Open(nil, c.nonce(seqno), ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// initCipher initializes an AEAD context for suite from one 32-byte key
// half of the 128-byte derived key material. which selects the second
// 64-byte half when true, the first when false; only the leading 32 bytes
// of the selected half are used as the AEAD key (the remaining 32 are
// reserved for future suites per the key-schedule design constant).
func initCipher(suite SuiteID, key [2 * cipherKeyLen]byte, which bool) (aeadCipher, error) {
	offset := 0
	if which {
		offset = cipherKeyLen
	}
	k := key[offset : offset+32]

	switch suite {
	case SuiteChaCha20Poly1305:
		aead, err := chacha20poly1305.New(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCipherInitFailed, err)
		}
		return &aeadSuite{aead: aead}, nil
	case SuiteAES256GCM:
		block, err := aes.NewCipher(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCipherInitFailed, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCipherInitFailed, err)
		}
		return &aeadSuite{aead: aead}, nil
	default:
		return nil, fmt.Errorf("%w: suite %d", ErrCipherInitFailed, suite)
	}
}

// selectCipherSuite deterministically picks the negotiated suite given the
// intersection mask, the local preference and the peer's 4-bit preference.
// Both sides reach the same choice given the same masks and preferences:
// local preference wins if viable, else the peer's preference if it names a
// lower-numbered suite, else the lowest-numbered bit set in mask.
func selectCipherSuite(mask uint16, localPref, peerPref SuiteID) SuiteID {
	selection := SuiteID(255)
	if mask&(1<<localPref) != 0 {
		selection = localPref
	}
	if peerPref < selection && mask&(1<<peerPref) != 0 {
		selection = peerPref
	}
	if selection == 255 {
		selection = 0
		for mask&1 == 0 {
			selection++
			mask >>= 1
		}
	}
	return selection
}
