package cooldown

import "github.com/temporanet/tempora/internal/temporatime"

// The interpolation anchors and smoothing parameters are consensus
// constants, but deliberately named rather than inlined: they are the
// tunables of the system's only Sybil defense.
const (
	// MinCooldown is the floor a new registrant waits under low demand:
	// 1 day (144 slices).
	MinCooldown temporatime.Slice = 144

	// MidCooldown is the midpoint reached when the current period's
	// registrations equal the smoothed median: 7 days (1008 slices).
	MidCooldown temporatime.Slice = 1_008

	// MaxCooldown is the ceiling under registration spikes: 180 days
	// (25,920 slices).
	MaxCooldown temporatime.Slice = 25_920

	// SmoothWindows is how many τ₃ checkpoint periods the registration
	// median is smoothed over: 4 periods, 56 days.
	SmoothWindows = 4

	// MaxChangePercent clamps the period-over-period cooldown change so a
	// single burst cannot cause a step discontinuity.
	MaxChangePercent = 20

	// GenesisCooldown applies before any registration history exists.
	GenesisCooldown temporatime.Slice = 144

	// RegistrationTiers is the number of tiers accepting new registrants;
	// the engine keeps an independent cooldown per tier.
	RegistrationTiers = 3
)
