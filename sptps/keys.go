package sptps

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
)

// PrivateKey is the opaque handle to a local long-term signing key (mykey
// in the protocol's data model). The signature primitive itself is treated
// as an external collaborator by this package; Ed25519PrivateKey below is
// the default concrete implementation.
type PrivateKey interface {
	// Sign produces a signature over msg.
	Sign(msg []byte) ([]byte, error)
}

// PublicKey is the opaque handle to a peer's long-term signing key (hiskey).
type PublicKey interface {
	// Verify reports whether sig is a valid signature over msg.
	Verify(msg, sig []byte) bool
}

// Ed25519PrivateKey adapts a stdlib ed25519 private key to PrivateKey.
type Ed25519PrivateKey ed25519.PrivateKey

// Sign implements PrivateKey using ed25519.Sign.
func (k Ed25519PrivateKey) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(ed25519.PrivateKey(k), msg), nil
}

// Ed25519PublicKey adapts a stdlib ed25519 public key to PublicKey.
type Ed25519PublicKey ed25519.PublicKey

// Verify implements PublicKey using ed25519.Verify.
func (k Ed25519PublicKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k), msg, sig)
}

// GenerateEd25519Keypair creates a fresh long-term Ed25519 identity keypair.
func GenerateEd25519Keypair() (Ed25519PrivateKey, Ed25519PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return Ed25519PrivateKey(priv), Ed25519PublicKey(pub), nil
}

// ecdhCurve is the curve used for the ephemeral key exchange. X25519 keeps
// ECDH_SIZE (the public key length carried in every KEX frame) at 32 bytes.
func ecdhCurve() ecdh.Curve {
	return ecdh.X25519()
}

// ecdhSize is the wire length of an ephemeral public key for ecdhCurve.
const ecdhSize = 32

// generateEphemeral creates a fresh ephemeral ECDH keypair for one KEX round.
func generateEphemeral() (*ecdh.PrivateKey, []byte, error) {
	priv, err := ecdhCurve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return priv, priv.PublicKey().Bytes(), nil
}

// parseEphemeralPublic parses a peer's ephemeral ECDH public key.
func parseEphemeralPublic(b []byte) (*ecdh.PublicKey, error) {
	return ecdhCurve().NewPublicKey(b)
}
