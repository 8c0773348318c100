package temporatime

import (
	"fmt"
	"time"
)

var now = time.Now

// TemporaEpoch is the start of the Tempora Common Era, 2026-01-01 00:00:00 UTC.
// All presence timestamps and slice boundaries are expressed as seconds since
// this origin.
var TemporaEpoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// MaxRepresentableTemporaTime is the latest instant the protocol can
// represent: the last second of the last representable slice. Any attempt
// to represent a time beyond this results in an error.
var MaxRepresentableTemporaTime = time.Unix(
	TemporaEpoch.Unix()+(int64(MaxSlice)+1)*int64(SliceDuration/time.Second)-1, 0,
).UTC()

const (
	// MinuteDuration is τ₁, the minimum presence-signing granularity.
	MinuteDuration = 60 * time.Second

	// SliceDuration is τ₂, one slice period - the consensus epoch.
	SliceDuration = 600 * time.Second

	// CheckpointDuration is τ₃, one checkpoint period (14 days).
	CheckpointDuration = SlicesPerCheckpoint * SliceDuration

	// HalvingDuration is τ₄, one reward-halving epoch (4 years).
	HalvingDuration = SlicesPerHalving * SliceDuration
)

// TemporaTime represents a time in the Tempora Common Era
type TemporaTime struct {
	src     time.Time
	Seconds uint64
}

// Now returns the current time as a TemporaTime
func Now() TemporaTime {
	t := now()
	seconds := t.Unix() - TemporaEpoch.Unix()

	return TemporaTime{src: t, Seconds: uint64(seconds)}
}

// FromTime converts a standard time.Time to TemporaTime
func FromTime(t time.Time) (TemporaTime, error) {
	if err := ValidateTemporaTime(t); err != nil {
		return TemporaTime{}, err
	}

	if t.Equal(TemporaEpoch) {
		return TemporaTime{Seconds: 0}, nil
	}

	seconds := t.Unix() - TemporaEpoch.Unix()

	return TemporaTime{src: t, Seconds: uint64(seconds)}, nil
}

// FromSeconds creates a TemporaTime from the number of seconds since the
// Tempora epoch origin
func FromSeconds(seconds uint64) TemporaTime {
	return TemporaTime{Seconds: seconds}
}

// ToTime converts a TemporaTime to a standard time.Time
func (tt TemporaTime) ToTime() time.Time {
	if tt.src.IsZero() {
		t := TemporaEpoch.Unix() + int64(tt.Seconds)

		return time.Unix(t, 0).UTC()
	}

	return tt.src
}

// Before reports whether the time instant tt is before u
func (tt TemporaTime) Before(u TemporaTime) bool {
	return tt.Seconds < u.Seconds
}

// After reports whether the time instant tt is after u
func (tt TemporaTime) After(u TemporaTime) bool {
	return tt.Seconds > u.Seconds
}

// Equal reports whether tt and u represent the same time instant
func (tt TemporaTime) Equal(u TemporaTime) bool {
	return tt.Seconds == u.Seconds
}

// Add returns the time tt+d
func (tt TemporaTime) Add(d time.Duration) (TemporaTime, error) {
	t := tt.ToTime()
	t = t.Add(d)

	if t.After(MaxRepresentableTemporaTime) {
		return TemporaTime{}, ErrAfterMaxTemporaTime
	}

	if t.Before(TemporaEpoch) {
		return TemporaTime{}, ErrBeforeTemporaEpoch
	}

	return FromTime(t)
}

// Sub returns the duration tt-u
func (tt TemporaTime) Sub(u TemporaTime) time.Duration {
	return time.Duration(int64(tt.Seconds)-int64(u.Seconds)) * time.Second
}

// ToSlice converts a TemporaTime to its corresponding Slice
func (tt TemporaTime) ToSlice() Slice {
	return Slice(tt.Seconds / uint64(SliceDuration.Seconds()))
}

// ToCheckpoint converts a TemporaTime to its corresponding checkpoint period
func (tt TemporaTime) ToCheckpoint() Checkpoint {
	return tt.ToSlice().ToCheckpoint()
}

// IsInSameSlice checks if two TemporaTimes fall inside the same slice window
func (tt TemporaTime) IsInSameSlice(other TemporaTime) bool {
	return tt.ToSlice() == other.ToSlice()
}

// MinuteInSlice returns the τ₁ minute index (0-9) of tt within its slice
// window, i.e. the occupancy-map bit position a presence signature made at
// tt occupies.
func (tt TemporaTime) MinuteInSlice() uint {
	return uint((tt.Seconds % uint64(SliceDuration.Seconds())) / uint64(MinuteDuration.Seconds()))
}

// IsZero reports whether tt represents the zero time instant,
// the Tempora epoch origin itself
func (tt TemporaTime) IsZero() bool {
	return tt.Seconds == 0
}

// MarshalJSON implements the json.Marshaler interface
func (tt TemporaTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, tt.ToTime().Format(time.RFC3339))), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (tt *TemporaTime) UnmarshalJSON(data []byte) error {
	t, err := time.Parse(`"`+time.RFC3339+`"`, string(data))
	if err != nil {
		return err
	}
	*tt, err = FromTime(t)
	if err != nil {
		return err
	}
	return nil
}

// ValidateTemporaTime checks if a given time.Time is within the valid range.
// Returns nil if valid and a non-nil err otherwise.
func ValidateTemporaTime(t time.Time) error {
	if t.Before(TemporaEpoch) {
		return ErrBeforeTemporaEpoch
	}
	if t.After(MaxRepresentableTemporaTime) {
		return ErrAfterMaxTemporaTime
	}
	return nil
}
