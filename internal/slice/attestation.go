package slice

import (
	"crypto/ed25519"
	"fmt"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/temporatime"
)

// Attestation is a participant's signed vote that a given slice belongs to
// the canonical chain. The finality tracker accumulates attestation weight
// per slice to escalate its status.
type Attestation struct {
	SliceHash         crypto.Hash
	AttesterPublicKey crypto.PublicKey
	AttesterWeight    uint64
	Signature         crypto.Ed25519Signature
}

type attestationPayload struct {
	SliceHash         crypto.Hash
	AttesterPublicKey crypto.PublicKey
	AttesterWeight    uint64
}

// SigningPayload returns the deterministic bytes the signature covers
func (a *Attestation) SigningPayload() ([]byte, error) {
	return Marshal(attestationPayload{
		SliceHash:         a.SliceHash,
		AttesterPublicKey: a.AttesterPublicKey,
		AttesterWeight:    a.AttesterWeight,
	})
}

// Sign signs the attestation with the attester's private key
func (a *Attestation) Sign(priv ed25519.PrivateKey) error {
	payload, err := a.SigningPayload()
	if err != nil {
		return fmt.Errorf("marshal attestation payload: %w", err)
	}
	a.Signature = crypto.Sign(priv, payload)
	return nil
}

// VerifySignature reports whether the signature matches the attester key
func (a *Attestation) VerifySignature() (bool, error) {
	payload, err := a.SigningPayload()
	if err != nil {
		return false, fmt.Errorf("marshal attestation payload: %w", err)
	}
	return crypto.Verify(a.AttesterPublicKey, payload, a.Signature), nil
}

// Hash returns the attestation's leaf hash as committed into a checkpoint's
// attestation root
func (a *Attestation) Hash() (crypto.Hash, error) {
	encoded, err := Marshal(a)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("marshal attestation: %w", err)
	}
	return crypto.HashData(encoded), nil
}

// CheckpointSignature pairs an attester with its signature inside a
// finality checkpoint bundle.
type CheckpointSignature struct {
	Attester  crypto.PublicKey
	Signature crypto.Ed25519Signature
}

// Checkpoint is the immutable record produced once per τ₃ when a slice
// reaches final status. It anchors the floor below which reorganization is
// forbidden.
type Checkpoint struct {
	Index            temporatime.Slice
	Hash             crypto.Hash
	CumulativeWeight uint64
	AttestationRoot  crypto.Hash
	Signatures       []CheckpointSignature
}

// Bytes returns the canonical encoding of the checkpoint
func (c *Checkpoint) Bytes() ([]byte, error) {
	return Marshal(c)
}

// CheckpointFromBytes decodes a checkpoint from its canonical encoding
func CheckpointFromBytes(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return c, nil
}
