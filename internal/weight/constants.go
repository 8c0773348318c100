package weight

import "github.com/temporanet/tempora/internal/temporatime"

// Tier is a weight bracket awarded for unbroken participation duration.
type Tier uint8

const (
	Tier1 Tier = iota + 1
	Tier2
	Tier3
	Tier4
)

const (
	// Tier multipliers over the base weight unit. Each tier is roughly
	// 168x the previous, compounding loyalty for uninterrupted presence.
	Tier1Multiplier uint64 = 1
	Tier2Multiplier uint64 = 20
	Tier3Multiplier uint64 = 3_024
	Tier4Multiplier uint64 = 420_480

	// Streak thresholds, in unbroken slices, at which a participant enters
	// each tier: one day, one checkpoint period (14 days), four checkpoint
	// periods (56 days).
	Tier2Streak temporatime.Slice = 144
	Tier3Streak temporatime.Slice = temporatime.SlicesPerCheckpoint
	Tier4Streak temporatime.Slice = 4 * temporatime.SlicesPerCheckpoint
)

// Multiplier returns the weight multiplier for the tier
func (t Tier) Multiplier() uint64 {
	switch t {
	case Tier2:
		return Tier2Multiplier
	case Tier3:
		return Tier3Multiplier
	case Tier4:
		return Tier4Multiplier
	default:
		return Tier1Multiplier
	}
}

// TierForStreak returns the tier a participant with the given unbroken
// streak has earned
func TierForStreak(streak temporatime.Slice) Tier {
	switch {
	case streak >= Tier4Streak:
		return Tier4
	case streak >= Tier3Streak:
		return Tier3
	case streak >= Tier2Streak:
		return Tier2
	default:
		return Tier1
	}
}
