// Package sptps implements the Simple Peer-to-Peer Security transport: an
// authenticated, confidential channel between two endpoints that already
// know each other's long-term signing keys.
package sptps

const (
	// Version is the single wire-format version byte carried in every KEX frame.
	Version uint8 = 0

	// kexNonceLen is the length of the random nonce carried in every KEX
	// frame and folded into the key-expansion seed.
	kexNonceLen = 32

	// HandshakeType is the reserved record type for handshake traffic.
	// Record types 0..127 are available to the application; 128 is HANDSHAKE.
	HandshakeType uint8 = 128
	handshakeType        = HandshakeType

	cipherKeyLen = 64 // bytes per direction half of the 128-byte derived key
)

// SuiteID identifies an AEAD cipher suite by its wire id.
type SuiteID uint8

const (
	// SuiteChaCha20Poly1305 is the mandatory suite (wire id 0).
	SuiteChaCha20Poly1305 SuiteID = 0
	// SuiteAES256GCM is the optional suite (wire id 1).
	SuiteAES256GCM SuiteID = 1
)

// AllCipherSuites is the bitmask with every suite this package implements set.
const AllCipherSuites uint16 = (1 << SuiteChaCha20Poly1305) | (1 << SuiteAES256GCM)

// state is the handshake phase of a Session.
type state uint8

const (
	stateZero state = iota
	stateKEX
	stateSIG
	stateACK
	stateSecondaryKEX
)

// DefaultReplayWindow is the process-wide default replay window size (in
// bytes; each bit tracks one past sequence number) applied to new sessions
// that don't override it in Params.
var DefaultReplayWindow = 16
