package weight

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/temporatime"
)

func TestTierForStreak(t *testing.T) {
	tests := []struct {
		name   string
		streak temporatime.Slice
		tier   Tier
	}{
		{name: "fresh_identity", streak: 0, tier: Tier1},
		{name: "just_below_one_day", streak: 143, tier: Tier1},
		{name: "one_day", streak: 144, tier: Tier2},
		{name: "just_below_checkpoint", streak: 2015, tier: Tier2},
		{name: "one_checkpoint", streak: 2016, tier: Tier3},
		{name: "four_checkpoints", streak: 8064, tier: Tier4},
		{name: "years_of_presence", streak: 500_000, tier: Tier4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.tier, TierForStreak(tc.streak))
		})
	}
}

func TestTierMultipliers(t *testing.T) {
	// Each tier is roughly 168x the previous.
	assert.Equal(t, uint64(1), Tier1.Multiplier())
	assert.Equal(t, uint64(20), Tier2.Multiplier())
	assert.Equal(t, uint64(3_024), Tier3.Multiplier())
	assert.Equal(t, uint64(420_480), Tier4.Multiplier())
}

func TestTracker_StreakAccrual(t *testing.T) {
	tracker := NewTracker()
	pub := crypto.PublicKey{1}

	for i := 0; i < 144; i++ {
		tracker.Observe(pub, true)
	}
	assert.Equal(t, Tier2, tracker.TierOf(pub))
	assert.Equal(t, uint64(20), tracker.WeightOf(pub))
}

func TestTracker_MissedIntervalResetsTier(t *testing.T) {
	tracker := NewTracker()
	pub := crypto.PublicKey{1}

	for i := 0; i < 2016; i++ {
		tracker.Observe(pub, true)
	}
	assert.Equal(t, Tier3, tracker.TierOf(pub))

	tracker.Observe(pub, false)
	assert.Equal(t, Tier1, tracker.TierOf(pub))
	assert.Equal(t, temporatime.Slice(0), tracker.Streak(pub))
}

func TestTracker_SweepAbsent(t *testing.T) {
	tracker := NewTracker()
	present := crypto.PublicKey{1}
	absent := crypto.PublicKey{2}

	for i := 0; i < 150; i++ {
		tracker.Observe(present, true)
		tracker.Observe(absent, true)
	}

	tracker.SweepAbsent(func(pub crypto.PublicKey) bool {
		return pub == present
	})

	assert.Equal(t, temporatime.Slice(150), tracker.Streak(present))
	assert.Equal(t, temporatime.Slice(0), tracker.Streak(absent))
}

func TestTracker_Cumulative(t *testing.T) {
	tracker := NewTracker()
	a := crypto.PublicKey{1}
	b := crypto.PublicKey{2}

	for i := 0; i < 144; i++ {
		tracker.Observe(a, true)
	}
	tracker.Observe(b, true)

	assert.Equal(t, uint64(20), tracker.AddCumulative(a))
	assert.Equal(t, uint64(21), tracker.AddCumulative(b))
	assert.Equal(t, uint64(21), tracker.Cumulative())

	tracker.SetCumulative(1000)
	assert.Equal(t, uint64(1000), tracker.Cumulative())
}
