package chain

import "time"

const (
	// ValidationWorkers is the size of the presence-proof validation pool.
	// Proof checks are pure against a tip snapshot, so they run off the
	// coordinator goroutine.
	ValidationWorkers = 4

	// commandQueueSize bounds submissions waiting for the coordinator.
	commandQueueSize = 256

	// recentSliceCache is how many slices keep their presence leaf sets in
	// memory for serving inclusion proofs.
	recentSliceCache = 512

	// tickInterval is how often the coordinator checks the wall clock for
	// slot deadlines and slice boundaries.
	tickInterval = time.Second
)
