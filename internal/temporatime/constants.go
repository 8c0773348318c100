package temporatime

const (
	// MinSlice represents the first slice in the Tempora protocol.
	// It corresponds to the slice containing the Tempora epoch origin
	// (00:00 on January 1, 2026 UTC).
	MinSlice Slice = 0

	// MaxSlice represents the last slice index the protocol can represent.
	// Slice indices are stored as 64-bit integers but bounded to 2^32 - 1
	// so that every slice boundary remains representable as a TemporaTime.
	MaxSlice Slice = 1<<32 - 1

	// MinutesPerSlice defines the number of τ₁ presence-signing minutes
	// inside one τ₂ slice window. An occupancy map carries one bit per
	// minute, so partial presence within a slice is expressible.
	MinutesPerSlice = 10

	// SlicesPerCheckpoint defines the number of τ₂ slices in one τ₃
	// checkpoint period: 2016 slices, i.e. 14 days.
	SlicesPerCheckpoint = 2016

	// SlicesPerHalving defines the number of τ₂ slices in one τ₄
	// reward-halving epoch: 209,664 slices, i.e. 4 years.
	SlicesPerHalving = 209_664

	// SlotsPerSlice is the number of ordered production slots awarded by
	// one lottery draw: a primary winner plus nine backups.
	SlotsPerSlice = 10
)
