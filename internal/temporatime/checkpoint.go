package temporatime

// Checkpoint represents a τ₃ (14-day) checkpoint period index
type Checkpoint uint64

// HalvingEpoch represents a τ₄ (4-year) reward-halving epoch index
type HalvingEpoch uint64

// MaxCheckpoint is the checkpoint period containing MaxSlice
const MaxCheckpoint = Checkpoint(MaxSlice / SlicesPerCheckpoint)

// FromCheckpoint creates a TemporaTime from a Checkpoint (start of the period)
func FromCheckpoint(c Checkpoint) TemporaTime {
	return TemporaTime{Seconds: uint64(c) * uint64(CheckpointDuration.Seconds())}
}

// CurrentCheckpoint returns the checkpoint period the wall clock is inside
func CurrentCheckpoint() Checkpoint {
	return Now().ToCheckpoint()
}

// CheckpointStart returns the TemporaTime at the start of the period
func (c Checkpoint) CheckpointStart() TemporaTime {
	return FromCheckpoint(c)
}

// FirstSlice returns the first slice of the checkpoint period
func (c Checkpoint) FirstSlice() Slice {
	return Slice(c) * SlicesPerCheckpoint
}

// LastSlice returns the last slice of the checkpoint period
func (c Checkpoint) LastSlice() Slice {
	return Slice(c)*SlicesPerCheckpoint + SlicesPerCheckpoint - 1
}

// Next returns the next checkpoint period
func (c Checkpoint) Next() (Checkpoint, error) {
	if c == MaxCheckpoint {
		return c, ErrMaxCheckpointReached
	}
	return c + 1, nil
}

// Previous returns the previous checkpoint period
func (c Checkpoint) Previous() (Checkpoint, error) {
	if c == 0 {
		return c, ErrMinCheckpointReached
	}
	return c - 1, nil
}

// FirstSlice returns the first slice of the halving epoch
func (h HalvingEpoch) FirstSlice() Slice {
	return Slice(h) * SlicesPerHalving
}
