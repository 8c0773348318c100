package temporatime

import "errors"

var (
	// ErrBeforeTemporaEpoch is returned when a time predates the Tempora
	// epoch origin and therefore cannot be represented.
	ErrBeforeTemporaEpoch = errors.New("time is before Tempora epoch origin")

	// ErrAfterMaxTemporaTime is returned when a time is after the maximum
	// representable Tempora time.
	ErrAfterMaxTemporaTime = errors.New("time is after maximum representable Tempora time")

	// ErrSliceExceedsMaxTemporaTime is returned when a slice index is beyond
	// the last representable slice.
	ErrSliceExceedsMaxTemporaTime = errors.New("slice is after maximum representable Tempora time")

	// ErrMinCheckpointReached is returned when attempting to get the
	// checkpoint period before the first one.
	ErrMinCheckpointReached = errors.New("minimum checkpoint period reached")

	// ErrMaxCheckpointReached is returned when attempting to get the
	// checkpoint period after the last representable one.
	ErrMaxCheckpointReached = errors.New("maximum checkpoint period reached")
)
