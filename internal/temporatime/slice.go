package temporatime

import (
	"time"
)

// Slice represents one τ₂ (600-second) slice index, the atomic consensus
// period. Slice 0 starts at the Tempora epoch origin.
type Slice uint64

// FromSlice creates a TemporaTime from a Slice (start of the slice window)
func FromSlice(s Slice) TemporaTime {
	return TemporaTime{Seconds: uint64(s) * uint64(SliceDuration.Seconds())}
}

// SliceStart returns the TemporaTime at the start of the slice window
func (s Slice) SliceStart() TemporaTime {
	return FromSlice(s)
}

// SliceEnd returns the TemporaTime of the last second of the slice window
func (s Slice) SliceEnd() TemporaTime {
	return TemporaTime{Seconds: uint64(s+1)*uint64(SliceDuration.Seconds()) - 1}
}

// ReferenceTime returns the instant presence timestamps for this slice are
// checked against: the middle of the slice window. A proof issued more than
// ±τ₁ away from it is rejected.
func (s Slice) ReferenceTime() TemporaTime {
	return TemporaTime{Seconds: uint64(s)*uint64(SliceDuration.Seconds()) + uint64(SliceDuration.Seconds())/2}
}

// Next returns the next slice, saturating at MaxSlice
func (s Slice) Next() Slice {
	if s == MaxSlice {
		return s
	}
	return s + 1
}

// Previous returns the previous slice, saturating at MinSlice
func (s Slice) Previous() Slice {
	if s == MinSlice {
		return s
	}
	return s - 1
}

// SliceInCheckpoint returns the slice number within its checkpoint period
// (0-2015)
func (s Slice) SliceInCheckpoint() uint32 {
	return uint32(s % SlicesPerCheckpoint)
}

// IsFirstSliceInCheckpoint checks if the slice opens a checkpoint period
func (s Slice) IsFirstSliceInCheckpoint() bool {
	return s.SliceInCheckpoint() == 0
}

// IsLastSliceInCheckpoint checks if the slice closes a checkpoint period
func (s Slice) IsLastSliceInCheckpoint() bool {
	return s.SliceInCheckpoint() == SlicesPerCheckpoint-1
}

// ToCheckpoint converts a Slice to its τ₃ checkpoint period
func (s Slice) ToCheckpoint() Checkpoint {
	return Checkpoint(s / SlicesPerCheckpoint)
}

// ToHalvingEpoch converts a Slice to its τ₄ reward-halving epoch
func (s Slice) ToHalvingEpoch() HalvingEpoch {
	return HalvingEpoch(s / SlicesPerHalving)
}

// SlotDeadline returns the instant at which production slot `slot` of this
// slice expires: the slice start plus (slot+1) grace periods. The primary
// winner holds slot 0; each backup inherits eligibility when the previous
// slot's deadline passes without a signed slice.
func (s Slice) SlotDeadline(slot int, grace time.Duration) TemporaTime {
	return TemporaTime{Seconds: uint64(s)*uint64(SliceDuration.Seconds()) +
		uint64(slot+1)*uint64(grace.Seconds())}
}

// ValidateSlice checks if a given Slice is within the valid range
func ValidateSlice(s Slice) error {
	if s > MaxSlice {
		return ErrSliceExceedsMaxTemporaTime
	}
	return nil
}
