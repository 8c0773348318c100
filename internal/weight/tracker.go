package weight

import (
	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/temporatime"
)

// Tracker recomputes participant weight at each slice boundary from
// unbroken presence history. Weight is a function of time present only,
// never of proof content; a missed interval resets tier progress.
//
// The tracker is owned by the chain coordinator and is not safe for
// concurrent use.
type Tracker struct {
	streaks    map[crypto.PublicKey]temporatime.Slice
	cumulative uint64
}

// NewTracker returns an empty weight tracker
func NewTracker() *Tracker {
	return &Tracker{streaks: make(map[crypto.PublicKey]temporatime.Slice)}
}

// Observe records one slice boundary for a participant. present marks
// whether the participant asserted at least one verified minute inside the
// closing slice; absence resets the unbroken streak (and with it the tier).
func (t *Tracker) Observe(pub crypto.PublicKey, present bool) {
	if !present {
		delete(t.streaks, pub)
		return
	}
	t.streaks[pub]++
}

// SweepAbsent resets the streak of every tracked participant the predicate
// does not report present. Called once per slice boundary so missed
// intervals cost tier progress.
func (t *Tracker) SweepAbsent(present func(crypto.PublicKey) bool) {
	for pub := range t.streaks {
		if !present(pub) {
			delete(t.streaks, pub)
		}
	}
}

// Streak returns the participant's current unbroken streak in slices
func (t *Tracker) Streak(pub crypto.PublicKey) temporatime.Slice {
	return t.streaks[pub]
}

// TierOf returns the participant's current tier
func (t *Tracker) TierOf(pub crypto.PublicKey) Tier {
	return TierForStreak(t.streaks[pub])
}

// WeightOf returns the participant's current weight: the multiplier of the
// tier its streak has earned
func (t *Tracker) WeightOf(pub crypto.PublicKey) uint64 {
	return t.TierOf(pub).Multiplier()
}

// AddCumulative credits a winning participant's weight to the chain total
// and returns the new total
func (t *Tracker) AddCumulative(pub crypto.PublicKey) uint64 {
	t.cumulative += t.WeightOf(pub)
	return t.cumulative
}

// Cumulative returns the running total of all weight contributed by winning
// participants
func (t *Tracker) Cumulative() uint64 {
	return t.cumulative
}

// SetCumulative resets the running total, used when adopting a different
// canonical chain whose header carries its own cumulative weight
func (t *Tracker) SetCumulative(w uint64) {
	t.cumulative = w
}
