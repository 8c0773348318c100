package slice

import (
	"fmt"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/temporatime"
)

// RegistrationTiers is the number of tiers a participant can newly register
// into. The top loyalty tier is only reachable through unbroken history, so
// cooldown state is tracked for the three entry tiers.
const RegistrationTiers = 3

// Header is the fixed part of a slice, hashed to form the chain linkage.
type Header struct {
	// PrevSliceHash binds the slice to its parent
	PrevSliceHash crypto.Hash
	// Timestamp is the production time, inside the slice window
	Timestamp temporatime.TemporaTime
	// Index is the monotonic τ₂ slice index
	Index temporatime.Slice
	// WinnerPublicKey identifies the lottery winner that produced the slice
	WinnerPublicKey crypto.PublicKey
	// CooldownState carries the current smoothed cooldown per registration
	// tier, in slices, as of this slice's checkpoint period
	CooldownState [RegistrationTiers]uint32
	// RegistrationCounts carries the per-tier registration counts for the
	// current checkpoint period
	RegistrationCounts [RegistrationTiers]uint32
	// CumulativeWeight is the chain's total weight up to and including this
	// slice
	CumulativeWeight uint64
	// ReputationRoot commits to aggregate subnet/reputation state
	ReputationRoot crypto.Hash
}

// headerPayload mirrors Header with the timestamp flattened to seconds so
// the encoding is stable.
type headerPayload struct {
	PrevSliceHash      crypto.Hash
	Timestamp          uint64
	Index              temporatime.Slice
	WinnerPublicKey    crypto.PublicKey
	CooldownState      [RegistrationTiers]uint32
	RegistrationCounts [RegistrationTiers]uint32
	CumulativeWeight   uint64
	ReputationRoot     crypto.Hash
}

func (h *Header) payload() headerPayload {
	return headerPayload{
		PrevSliceHash:      h.PrevSliceHash,
		Timestamp:          h.Timestamp.Seconds,
		Index:              h.Index,
		WinnerPublicKey:    h.WinnerPublicKey,
		CooldownState:      h.CooldownState,
		RegistrationCounts: h.RegistrationCounts,
		CumulativeWeight:   h.CumulativeWeight,
		ReputationRoot:     h.ReputationRoot,
	}
}

// Bytes returns the deterministic encoding of the header
func (h *Header) Bytes() ([]byte, error) {
	return Marshal(h.payload())
}

// HeaderFromBytes decodes a header from its canonical encoding
func HeaderFromBytes(data []byte) (Header, error) {
	var p headerPayload
	if err := Unmarshal(data, &p); err != nil {
		return Header{}, fmt.Errorf("unmarshal header: %w", err)
	}
	return Header{
		PrevSliceHash:      p.PrevSliceHash,
		Timestamp:          temporatime.FromSeconds(p.Timestamp),
		Index:              p.Index,
		WinnerPublicKey:    p.WinnerPublicKey,
		CooldownState:      p.CooldownState,
		RegistrationCounts: p.RegistrationCounts,
		CumulativeWeight:   p.CumulativeWeight,
		ReputationRoot:     p.ReputationRoot,
	}, nil
}

// Hash returns the header hash, the slice's identity on the chain
func (h *Header) Hash() (crypto.Hash, error) {
	encoded, err := h.Bytes()
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("marshal header: %w", err)
	}
	return crypto.HashData(encoded), nil
}
