// Package presence validates individual presence assertions against the
// currently-accepted chain tip. Validation is purely structural and
// temporal: timestamp window, chain binding, cooldown, signature and the
// device-attestation flags. It deliberately never inspects what a
// participant did during its presence - the protocol measures time present,
// nothing else.
package presence

import (
	"fmt"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/temporatime"
)

// Tip is the read-only chain-tip snapshot proofs are validated against.
// The coordinator hands a fresh snapshot to the worker pool at each slice
// boundary; validation against one snapshot is side-effect-free and safe
// to run concurrently across proofs.
type Tip struct {
	// Hash of the accepted tip slice
	Hash crypto.Hash
	// Index of the slice currently being collected for
	Index temporatime.Slice
}

// Validator checks presence proofs against one tip snapshot.
type Validator struct {
	tip Tip
}

// NewValidator returns a validator bound to the given tip snapshot
func NewValidator(tip Tip) *Validator {
	return &Validator{tip: tip}
}

// Tip returns the snapshot the validator is bound to
func (v *Validator) Tip() Tip {
	return v.tip
}

// Validate accepts or rejects a single presence proof. The checks run in a
// fixed order and the first failure wins, so every rejection carries one
// specific kind.
func (v *Validator) Validate(proof *slice.PresenceProof) error {
	reference := v.tip.Index.ReferenceTime()
	drift := proof.IssuedAt.Sub(reference)
	if drift < 0 {
		drift = -drift
	}
	if drift > temporatime.MinuteDuration {
		return Reject(InvalidTimestamp)
	}

	if proof.PrevSliceHash != v.tip.Hash {
		return Reject(WrongChain)
	}

	if proof.CooldownUntil > v.tip.Index {
		return Reject(CooldownActive)
	}

	ok, err := proof.VerifySignature()
	if err != nil {
		return fmt.Errorf("verify presence signature: %w", err)
	}
	if !ok {
		return Reject(InvalidSignature)
	}

	if proof.IsHuman() {
		if !proof.UserPresent {
			return Reject(UserNotPresent)
		}
		if !proof.UserVerified {
			return Reject(UserNotVerified)
		}
	}

	if !proof.Occupancy.Valid() || proof.Occupancy.Minutes() == 0 {
		return Reject(InvalidOccupancy)
	}

	return nil
}
