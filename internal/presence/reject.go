package presence

import (
	"errors"
	"fmt"
)

// RejectKind names the specific reason a presence proof was refused. Every
// rejection is recoverable locally: the offending proof is discarded and
// the node carries on. The kind is surfaced so the network layer can decide
// whether to penalize the sending peer.
type RejectKind uint8

const (
	// InvalidTimestamp: the issuance time lies outside the +/- τ₁ window
	// around the current slice's reference time.
	InvalidTimestamp RejectKind = iota + 1

	// WrongChain: the proof's previous-slice hash does not match the
	// accepted tip. This is the anti-replay and anti-time-travel binding.
	WrongChain

	// CooldownActive: the registrant's cooldown has not elapsed yet.
	CooldownActive

	// InvalidSignature: the signature does not verify against the claimed
	// public key.
	InvalidSignature

	// UserNotPresent: a verified-human proof without the device-attested
	// physical-presence flag.
	UserNotPresent

	// UserNotVerified: a verified-human proof without the device-attested
	// biometric-verification flag.
	UserNotVerified

	// InvalidOccupancy: the occupancy map sets bits outside the ten minute
	// positions, or no minute at all.
	InvalidOccupancy
)

func (k RejectKind) String() string {
	switch k {
	case InvalidTimestamp:
		return "invalid timestamp"
	case WrongChain:
		return "wrong chain"
	case CooldownActive:
		return "cooldown active"
	case InvalidSignature:
		return "invalid signature"
	case UserNotPresent:
		return "user not present"
	case UserNotVerified:
		return "user not verified"
	case InvalidOccupancy:
		return "invalid occupancy map"
	default:
		return fmt.Sprintf("unknown rejection (%d)", uint8(k))
	}
}

// RejectError wraps a RejectKind as an error
type RejectError struct {
	Kind RejectKind
}

func (e *RejectError) Error() string {
	return "presence proof rejected: " + e.Kind.String()
}

// Reject returns the rejection error for a kind
func Reject(kind RejectKind) error {
	return &RejectError{Kind: kind}
}

// KindOf extracts the rejection kind from an error, if it carries one
func KindOf(err error) (RejectKind, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}
