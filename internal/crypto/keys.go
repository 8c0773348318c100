package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
)

var ErrBadHashLength = errors.New("hash must be exactly 32 bytes")

// PublicKey is a fixed-size ed25519 public key. Kept as an array so it can
// serve directly as a map key in lottery and weight bookkeeping.
type PublicKey [Ed25519PublicSize]byte

// Ed25519Signature is a detached ed25519 signature
type Ed25519Signature [Ed25519SignatureSize]byte

// NewPublicKey converts a stdlib ed25519 public key into a PublicKey
func NewPublicKey(pub ed25519.PublicKey) PublicKey {
	var k PublicKey
	copy(k[:], pub)
	return k
}

// Ed25519 converts the key back to its stdlib representation
func (k PublicKey) Ed25519() ed25519.PublicKey {
	return ed25519.PublicKey(k[:])
}

// IsZero reports whether the key is the all-zero value
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Hex returns the key as a lowercase hex string
func (k PublicKey) Hex() string {
	return hex.EncodeToString(k[:])
}

// Sign signs message with the given private key
func Sign(priv ed25519.PrivateKey, message []byte) Ed25519Signature {
	var sig Ed25519Signature
	copy(sig[:], ed25519.Sign(priv, message))
	return sig
}

// Verify reports whether sig is a valid signature of message by pub
func Verify(pub PublicKey, message []byte, sig Ed25519Signature) bool {
	return ed25519.Verify(pub.Ed25519(), message, sig[:])
}
