// Package cooldown implements the adaptive registration cooldown, the
// system's only Sybil defense. Creating N synthetic identities costs at
// least N x the current cooldown in wall-clock time and cannot be
// parallelized away, because the cooldown is stamped into every presence
// proof a new registrant issues.
package cooldown

import (
	"errors"

	"github.com/temporanet/tempora/internal/temporatime"
)

var ErrInvalidTier = errors.New("cooldown: tier outside registration range")

type periodKey struct {
	checkpoint temporatime.Checkpoint
	tier       int
}

// Engine tracks per-tier registration counts per checkpoint period and
// derives from them the cooldown a new registrant in that tier must wait
// before becoming lottery-eligible again.
//
// All arithmetic is integer-only so every node recomputes identical
// cooldowns from identical registration history.
type Engine struct {
	counts  map[periodKey]uint32
	current [RegistrationTiers]temporatime.Slice
}

// NewEngine returns an engine with every tier at the genesis cooldown
func NewEngine() *Engine {
	e := &Engine{counts: make(map[periodKey]uint32)}
	for i := range e.current {
		e.current[i] = GenesisCooldown
	}
	return e
}

func validTier(tier int) bool {
	return tier >= 1 && tier <= RegistrationTiers
}

// RecordRegistration counts one new or re-registering participant in the
// given tier during the given checkpoint period
func (e *Engine) RecordRegistration(cp temporatime.Checkpoint, tier int) error {
	if !validTier(tier) {
		return ErrInvalidTier
	}
	e.counts[periodKey{checkpoint: cp, tier: tier}]++
	return nil
}

// RegistrationCount returns the number of registrations recorded for a tier
// in a checkpoint period
func (e *Engine) RegistrationCount(cp temporatime.Checkpoint, tier int) uint32 {
	return e.counts[periodKey{checkpoint: cp, tier: tier}]
}

// CurrentCooldown returns the cooldown currently in force for a tier, in
// slices
func (e *Engine) CurrentCooldown(tier int) (temporatime.Slice, error) {
	if !validTier(tier) {
		return 0, ErrInvalidTier
	}
	return e.current[tier-1], nil
}

// CooldownUntil returns the slice index stamped as cooldown_until into a
// presence proof issued now by a new registrant in the given tier
func (e *Engine) CooldownUntil(tier int, now temporatime.Slice) (temporatime.Slice, error) {
	current, err := e.CurrentCooldown(tier)
	if err != nil {
		return 0, err
	}
	return now + current, nil
}

// Snapshot returns the per-tier cooldowns in force, for stamping into a
// slice header
func (e *Engine) Snapshot() [RegistrationTiers]uint32 {
	var out [RegistrationTiers]uint32
	for i, c := range e.current {
		out[i] = uint32(c)
	}
	return out
}

// CountsSnapshot returns the per-tier registration counts for the given
// checkpoint period, for stamping into a slice header
func (e *Engine) CountsSnapshot(cp temporatime.Checkpoint) [RegistrationTiers]uint32 {
	var out [RegistrationTiers]uint32
	for tier := 1; tier <= RegistrationTiers; tier++ {
		out[tier-1] = e.RegistrationCount(cp, tier)
	}
	return out
}

// OnCheckpointEnd recomputes every tier's cooldown when checkpoint period
// cp closes. The new value becomes the cooldown stamped into proofs for the
// following period.
func (e *Engine) OnCheckpointEnd(cp temporatime.Checkpoint) {
	for tier := 1; tier <= RegistrationTiers; tier++ {
		count := e.RegistrationCount(cp, tier)
		median := e.smoothedMedian(cp, tier)
		raw := rawCooldown(uint64(count), uint64(median))
		e.current[tier-1] = rateLimit(raw, e.current[tier-1])
	}
}

// smoothedMedian averages the per-checkpoint registration counts across the
// smoothing window ending at cp. Periods with no registrations are skipped;
// an empty history yields 1 so the ratio is always defined.
func (e *Engine) smoothedMedian(cp temporatime.Checkpoint, tier int) uint32 {
	var sum, n uint64
	for i := 0; i < SmoothWindows; i++ {
		if temporatime.Checkpoint(i) > cp {
			break
		}
		count := e.RegistrationCount(cp-temporatime.Checkpoint(i), tier)
		if count == 0 {
			continue
		}
		sum += uint64(count)
		n++
	}
	if n == 0 {
		return 1
	}
	median := uint32(sum / n)
	if median == 0 {
		return 1
	}
	return median
}

// rawCooldown interpolates the cooldown from the registration ratio:
// linearly from MinCooldown to MidCooldown while the current count stays at
// or below the smoothed median, then from MidCooldown toward MaxCooldown
// scaled by how far above the median the count runs.
func rawCooldown(count, median uint64) temporatime.Slice {
	if median == 0 {
		median = 1
	}

	var cd uint64
	if count <= median {
		span := uint64(MidCooldown - MinCooldown)
		cd = uint64(MinCooldown) + count*span/median
	} else {
		span := uint64(MaxCooldown - MidCooldown)
		cd = uint64(MidCooldown) + (count-median)*span/median
	}

	if cd < uint64(MinCooldown) {
		return MinCooldown
	}
	if cd > uint64(MaxCooldown) {
		return MaxCooldown
	}
	return temporatime.Slice(cd)
}

// rateLimit clamps the period-over-period change to
// +/- MaxChangePercent of the previous value
func rateLimit(raw, previous temporatime.Slice) temporatime.Slice {
	maxChange := previous * MaxChangePercent / 100

	if raw > previous {
		limited := previous + maxChange
		if raw > limited {
			return limited
		}
		return raw
	}

	limited := previous - maxChange
	if raw < limited {
		return limited
	}
	return raw
}
