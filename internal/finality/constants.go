package finality

import "github.com/temporanet/tempora/internal/temporatime"

const (
	// SafeDepth is how many slices must be built on top of a slice before
	// it can leave provisional status.
	SafeDepth = 6

	// SafeWeightNumerator over SafeWeightDenominator is the share of the
	// chain's total cumulative weight that must attest to a slice before it
	// becomes safe.
	SafeWeightNumerator   = 1
	SafeWeightDenominator = 2

	// FinalDepth is the burial depth at which a safe slice becomes final
	// and irreversible. It equals one checkpoint period.
	FinalDepth = temporatime.SlicesPerCheckpoint

	// MaxAttestationsPerSlice bounds the attestation set tracked for any
	// single slice.
	MaxAttestationsPerSlice = 1000

	// maxCheckpointSignatures caps how many attester signatures a
	// checkpoint bundles. The heaviest attesters are kept; the full set
	// stays committed under the attestation root.
	maxCheckpointSignatures = 100
)
