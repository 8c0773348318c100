package slice

import (
	"crypto/ed25519"
	"fmt"
	"math/bits"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/temporatime"
)

// PresenceKind distinguishes the two presence-proof variants. The variants
// share one struct and one validation surface; the kind tag plus the
// attestation flags replace subclassing.
type PresenceKind uint8

const (
	// AutomatedPresence is a machine assertion backed by a signature only.
	AutomatedPresence PresenceKind = iota

	// VerifiedHumanPresence additionally requires both device-attested
	// flags (user physically present, user biometrically verified) and is
	// the only variant eligible for the human-reserved share of slots.
	VerifiedHumanPresence
)

func (k PresenceKind) String() string {
	switch k {
	case AutomatedPresence:
		return "automated"
	case VerifiedHumanPresence:
		return "verified-human"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// OccupancyMap is a 10-bit map with one bit per τ₁ minute inside the τ₂
// slice window, so an assertion can show partial presence.
type OccupancyMap uint16

// occupancyMask covers the ten valid minute bits
const occupancyMask OccupancyMap = 1<<temporatime.MinutesPerSlice - 1

// Bit reports whether the given minute (0-9) is marked present
func (m OccupancyMap) Bit(minute uint) bool {
	return minute < temporatime.MinutesPerSlice && m&(1<<minute) != 0
}

// SetBit marks the given minute (0-9) as present
func (m *OccupancyMap) SetBit(minute uint) {
	if minute < temporatime.MinutesPerSlice {
		*m |= 1 << minute
	}
}

// Minutes returns the number of minutes marked present
func (m OccupancyMap) Minutes() int {
	return bits.OnesCount16(uint16(m & occupancyMask))
}

// Valid reports whether no bits outside the ten minute positions are set
func (m OccupancyMap) Valid() bool {
	return m&^occupancyMask == 0
}

// PresenceProof is one participant's signed assertion of existence during a
// slice interval. It is bound to exactly one slice through PrevSliceHash;
// the lottery consumes and discards it once that slice closes. Never
// mutated after signing.
type PresenceProof struct {
	PublicKey     crypto.PublicKey
	Kind          PresenceKind
	Occupancy     OccupancyMap
	PrevSliceHash crypto.Hash
	IssuedAt      temporatime.TemporaTime
	CooldownUntil temporatime.Slice
	UserPresent   bool
	UserVerified  bool
	Signature     crypto.Ed25519Signature
}

// presencePayload shadows PresenceProof without the signature field, so the
// signed bytes cover everything else.
type presencePayload struct {
	PublicKey     crypto.PublicKey
	Kind          PresenceKind
	Occupancy     OccupancyMap
	PrevSliceHash crypto.Hash
	IssuedAt      uint64
	CooldownUntil temporatime.Slice
	UserPresent   bool
	UserVerified  bool
}

// SigningPayload returns the deterministic bytes the signature covers
func (p *PresenceProof) SigningPayload() ([]byte, error) {
	return Marshal(presencePayload{
		PublicKey:     p.PublicKey,
		Kind:          p.Kind,
		Occupancy:     p.Occupancy,
		PrevSliceHash: p.PrevSliceHash,
		IssuedAt:      p.IssuedAt.Seconds,
		CooldownUntil: p.CooldownUntil,
		UserPresent:   p.UserPresent,
		UserVerified:  p.UserVerified,
	})
}

// Sign signs the proof with the participant's private key
func (p *PresenceProof) Sign(priv ed25519.PrivateKey) error {
	payload, err := p.SigningPayload()
	if err != nil {
		return fmt.Errorf("marshal presence payload: %w", err)
	}
	p.Signature = crypto.Sign(priv, payload)
	return nil
}

// VerifySignature reports whether the signature matches the claimed key
func (p *PresenceProof) VerifySignature() (bool, error) {
	payload, err := p.SigningPayload()
	if err != nil {
		return false, fmt.Errorf("marshal presence payload: %w", err)
	}
	return crypto.Verify(p.PublicKey, payload, p.Signature), nil
}

// Hash returns the proof's leaf hash as committed into a presence root
func (p *PresenceProof) Hash() (crypto.Hash, error) {
	encoded, err := Marshal(p)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("marshal presence proof: %w", err)
	}
	return crypto.HashData(encoded), nil
}

// IsHuman reports whether the proof claims the verified-human variant
func (p *PresenceProof) IsHuman() bool {
	return p.Kind == VerifiedHumanPresence
}
