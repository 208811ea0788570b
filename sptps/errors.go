package sptps

import "errors"

// Sentinel errors surfaced by session operations, per the error kinds
// enumerated in the protocol's error handling design. Every failure is
// reported through one of these (possibly wrapped with extra context via
// fmt.Errorf("...: %w", ...)); callers should use errors.Is to match them.
var (
	ErrShortPacket       = errors.New("sptps: received short packet")
	ErrBadLength         = errors.New("sptps: declared or required length mismatch")
	ErrBadVersion        = errors.New("sptps: incompatible protocol version")
	ErrNoCommonSuite     = errors.New("sptps: no matching cipher suite")
	ErrDuplicateKEX      = errors.New("sptps: received a second KEX before the first was processed")
	ErrBadSignature      = errors.New("sptps: signature verification failed")
	ErrECDHFailed        = errors.New("sptps: ECDH shared secret computation failed")
	ErrPRFFailed         = errors.New("sptps: key derivation failed")
	ErrCipherInitFailed  = errors.New("sptps: cipher initialization failed")
	ErrDecryptFailed     = errors.New("sptps: decryption failed")
	ErrFarFuture         = errors.New("sptps: packet sequence number too far in the future")
	ErrLateOrReplay      = errors.New("sptps: received late or replayed packet")
	ErrInvalidRecordType = errors.New("sptps: invalid record type")
	ErrInvalidState      = errors.New("sptps: operation not valid in current state")
	ErrAllocFailed       = errors.New("sptps: allocation failed")
)
