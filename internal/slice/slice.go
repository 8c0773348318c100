package slice

import (
	"crypto/ed25519"
	"fmt"

	"github.com/temporanet/tempora/internal/crypto"
)

// Body carries the slice's commitment roots and the producer's signature
// over the header.
type Body struct {
	// PresenceRoot commits to the set of presence proofs awarded in the
	// slice
	PresenceRoot crypto.Hash
	// TransactionRoot commits to the slice's transaction set
	TransactionRoot crypto.Hash
	// ProducerSignature is the winner's signature over the header hash
	ProducerSignature crypto.Ed25519Signature
}

// Slice is the atomic unit of the ledger: one header plus one body,
// produced exactly once per τ₂ by the lottery winner and immutable after
// signing.
type Slice struct {
	Header Header
	Body   Body
}

// Sign signs the header hash with the producer's key, sealing the slice
func (s *Slice) Sign(priv ed25519.PrivateKey) error {
	headerHash, err := s.Header.Hash()
	if err != nil {
		return fmt.Errorf("hash header: %w", err)
	}
	s.Body.ProducerSignature = crypto.Sign(priv, headerHash[:])
	return nil
}

// VerifySignature reports whether the producer signature matches the
// header's winner key
func (s *Slice) VerifySignature() (bool, error) {
	headerHash, err := s.Header.Hash()
	if err != nil {
		return false, fmt.Errorf("hash header: %w", err)
	}
	return crypto.Verify(s.Header.WinnerPublicKey, headerHash[:], s.Body.ProducerSignature), nil
}

// Bytes returns the canonical encoding of the whole slice
func (s *Slice) Bytes() ([]byte, error) {
	header, err := s.Header.Bytes()
	if err != nil {
		return nil, err
	}
	return Marshal(struct {
		Header []byte
		Body   Body
	}{Header: header, Body: s.Body})
}

// FromBytes decodes a slice from its canonical encoding
func FromBytes(data []byte) (Slice, error) {
	var raw struct {
		Header []byte
		Body   Body
	}
	if err := Unmarshal(data, &raw); err != nil {
		return Slice{}, fmt.Errorf("unmarshal slice: %w", err)
	}
	header, err := HeaderFromBytes(raw.Header)
	if err != nil {
		return Slice{}, err
	}
	return Slice{Header: header, Body: raw.Body}, nil
}
