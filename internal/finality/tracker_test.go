package finality

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/forkchoice"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/temporatime"
)

type mapResolver map[crypto.Hash]slice.Header

func (m mapResolver) HeaderByHash(h crypto.Hash) (slice.Header, error) {
	header, ok := m[h]
	if !ok {
		return slice.Header{}, forkchoice.ErrHeadNotFound
	}
	return header, nil
}

func head(id byte, index temporatime.Slice, weight uint64) forkchoice.Head {
	return forkchoice.Head{Hash: crypto.Hash{id}, Index: index, CumulativeWeight: weight}
}

func signedAttestation(t *testing.T, sliceHash crypto.Hash, weight uint64) *slice.Attestation {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	att := &slice.Attestation{
		SliceHash:         sliceHash,
		AttesterPublicKey: crypto.NewPublicKey(pub),
		AttesterWeight:    weight,
	}
	require.NoError(t, att.Sign(priv))
	return att
}

func TestTracker_AddAttestation(t *testing.T) {
	tracker := NewTracker(make(mapResolver), nil)
	target := head(1, 10, 100)
	tracker.Observe(target)

	t.Run("unknown_slice", func(t *testing.T) {
		att := signedAttestation(t, crypto.Hash{0xFF}, 5)
		assert.ErrorIs(t, tracker.AddAttestation(att), ErrUnknownSlice)
	})

	t.Run("zero_weight_rejected", func(t *testing.T) {
		att := signedAttestation(t, target.Hash, 0)
		assert.ErrorIs(t, tracker.AddAttestation(att), ErrZeroWeightAttester)
	})

	t.Run("bad_signature_rejected", func(t *testing.T) {
		att := signedAttestation(t, target.Hash, 5)
		att.Signature[0] ^= 0xFF
		assert.ErrorIs(t, tracker.AddAttestation(att), ErrBadAttestation)
	})

	t.Run("accepted_and_weight_accumulates", func(t *testing.T) {
		require.NoError(t, tracker.AddAttestation(signedAttestation(t, target.Hash, 5)))
		require.NoError(t, tracker.AddAttestation(signedAttestation(t, target.Hash, 7)))

		weight, err := tracker.AttestedWeight(target.Hash)
		require.NoError(t, err)
		assert.Equal(t, uint64(12), weight)
	})

	t.Run("duplicate_attester_rejected", func(t *testing.T) {
		att := signedAttestation(t, target.Hash, 5)
		require.NoError(t, tracker.AddAttestation(att))
		assert.ErrorIs(t, tracker.AddAttestation(att), ErrDuplicateAttester)
	})
}

func TestTracker_AttestationSetBounded(t *testing.T) {
	tracker := NewTracker(make(mapResolver), nil)
	target := head(1, 10, 100)
	tracker.Observe(target)

	for i := 0; i < MaxAttestationsPerSlice; i++ {
		require.NoError(t, tracker.AddAttestation(signedAttestation(t, target.Hash, 1)))
	}
	att := signedAttestation(t, target.Hash, 1)
	assert.ErrorIs(t, tracker.AddAttestation(att), ErrTooManyAttestations)
}

func TestTracker_ProvisionalToSafe(t *testing.T) {
	tracker := NewTracker(make(mapResolver), nil)
	target := head(1, 10, 100)
	tracker.Observe(target)

	// Buried deep enough but without majority weight: still provisional.
	require.NoError(t, tracker.OnNewHead(head(2, target.Index+SafeDepth, 100)))
	status, err := tracker.StatusOf(target.Hash)
	require.NoError(t, err)
	assert.Equal(t, Provisional, status)

	// Majority weight but too shallow: still provisional.
	require.NoError(t, tracker.AddAttestation(signedAttestation(t, target.Hash, 60)))
	require.NoError(t, tracker.OnNewHead(head(3, target.Index+SafeDepth-1, 100)))
	status, err = tracker.StatusOf(target.Hash)
	require.NoError(t, err)
	assert.Equal(t, Provisional, status)

	// Both conditions met: safe.
	require.NoError(t, tracker.OnNewHead(head(4, target.Index+SafeDepth, 100)))
	status, err = tracker.StatusOf(target.Hash)
	require.NoError(t, err)
	assert.Equal(t, Safe, status)
}

func TestTracker_SafeWeightBoundaryIsInclusive(t *testing.T) {
	tracker := NewTracker(make(mapResolver), nil)
	target := head(1, 10, 100)
	tracker.Observe(target)

	// Exactly half of the chain's cumulative weight qualifies.
	require.NoError(t, tracker.AddAttestation(signedAttestation(t, target.Hash, 50)))
	require.NoError(t, tracker.OnNewHead(head(2, target.Index+SafeDepth, 100)))

	status, err := tracker.StatusOf(target.Hash)
	require.NoError(t, err)
	assert.Equal(t, Safe, status)
}

func TestTracker_SafeToFinalEmitsCheckpoint(t *testing.T) {
	var floor forkchoice.Head
	tracker := NewTracker(make(mapResolver), func(h forkchoice.Head) { floor = h })

	target := head(1, 10, 100)
	tracker.Observe(target)
	require.NoError(t, tracker.AddAttestation(signedAttestation(t, target.Hash, 80)))
	require.NoError(t, tracker.AddAttestation(signedAttestation(t, target.Hash, 20)))

	// Safe first, then buried a full checkpoint period deep.
	require.NoError(t, tracker.OnNewHead(head(2, target.Index+SafeDepth, 100)))
	require.NoError(t, tracker.OnNewHead(head(3, target.Index+FinalDepth, 100)))

	status, err := tracker.StatusOf(target.Hash)
	require.NoError(t, err)
	assert.Equal(t, Final, status)

	cp, err := tracker.LatestCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, target.Index, cp.Index)
	assert.Equal(t, target.Hash, cp.Hash)
	assert.Equal(t, target.CumulativeWeight, cp.CumulativeWeight)
	assert.False(t, cp.AttestationRoot.IsZero())
	assert.Len(t, cp.Signatures, 2)

	assert.Equal(t, target.Hash, floor.Hash)
	assert.Equal(t, target.Index, floor.Index)
}

func TestTracker_DeepProvisionalStaysProvisional(t *testing.T) {
	// Burial depth alone never finalizes: without majority attestation
	// weight a slice sits at provisional no matter how deep it is.
	tracker := NewTracker(make(mapResolver), nil)
	target := head(1, 10, 100)
	tracker.Observe(target)

	require.NoError(t, tracker.OnNewHead(head(2, target.Index+FinalDepth+500, 100)))

	status, err := tracker.StatusOf(target.Hash)
	require.NoError(t, err)
	assert.Equal(t, Provisional, status)
}

func TestTracker_StatusNeverRegresses(t *testing.T) {
	tracker := NewTracker(make(mapResolver), nil)
	target := head(1, 10, 100)
	tracker.Observe(target)
	require.NoError(t, tracker.AddAttestation(signedAttestation(t, target.Hash, 60)))

	require.NoError(t, tracker.OnNewHead(head(2, target.Index+SafeDepth, 100)))
	status, err := tracker.StatusOf(target.Hash)
	require.NoError(t, err)
	require.Equal(t, Safe, status)

	// A later head with a lower index (the canonical chain shrank in a
	// shallow reorg) must not demote the slice.
	require.NoError(t, tracker.OnNewHead(head(3, target.Index+1, 90)))
	status, err = tracker.StatusOf(target.Hash)
	require.NoError(t, err)
	assert.Equal(t, Safe, status)
}

func TestTracker_CheckpointFloorIsMonotonic(t *testing.T) {
	var floors []forkchoice.Head
	tracker := NewTracker(make(mapResolver), func(h forkchoice.Head) { floors = append(floors, h) })

	first := head(1, 10, 100)
	second := head(2, 20, 200)
	tracker.Observe(first)
	tracker.Observe(second)
	require.NoError(t, tracker.AddAttestation(signedAttestation(t, first.Hash, 100)))
	require.NoError(t, tracker.AddAttestation(signedAttestation(t, second.Hash, 150)))

	require.NoError(t, tracker.OnNewHead(head(3, second.Index+SafeDepth, 200)))
	require.NoError(t, tracker.OnNewHead(head(4, second.Index+FinalDepth, 200)))

	require.Len(t, floors, 2)
	assert.Less(t, floors[0].Index, floors[1].Index)

	cp, err := tracker.LatestCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, second.Index, cp.Index)
}

func TestTracker_ReorgPrunesOrphans(t *testing.T) {
	resolver := make(mapResolver)
	tracker := NewTracker(resolver, nil)

	ancestor := head(1, 10, 100)
	orphan := head(2, 11, 110)
	tracker.Observe(ancestor)
	tracker.Observe(orphan)

	// The new branch: ancestor <- newSlice.
	newHeader := slice.Header{PrevSliceHash: ancestor.Hash, Index: 11, CumulativeWeight: 150}
	newHash, err := newHeader.Hash()
	require.NoError(t, err)
	resolver[newHash] = newHeader
	newHead := forkchoice.Head{Hash: newHash, Index: 11, CumulativeWeight: 150}

	require.NoError(t, tracker.HandleEvent(forkchoice.Event{
		Kind:     forkchoice.EventReorg,
		Head:     newHead,
		Ancestor: ancestor,
	}))

	_, err = tracker.StatusOf(orphan.Hash)
	assert.ErrorIs(t, err, ErrUnknownSlice)

	status, err := tracker.StatusOf(newHash)
	require.NoError(t, err)
	assert.Equal(t, Provisional, status)

	status, err = tracker.StatusOf(ancestor.Hash)
	require.NoError(t, err)
	assert.Equal(t, Provisional, status)
}

func TestTracker_NoCheckpointYet(t *testing.T) {
	tracker := NewTracker(make(mapResolver), nil)
	_, err := tracker.LatestCheckpoint()
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}
