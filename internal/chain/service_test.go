package chain

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temporanet/tempora/internal/cooldown"
	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/forkchoice"
	"github.com/temporanet/tempora/internal/lottery"
	"github.com/temporanet/tempora/internal/merkle"
	"github.com/temporanet/tempora/internal/presence"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/store"
	"github.com/temporanet/tempora/internal/temporatime"
	"github.com/temporanet/tempora/pkg/db/pebble"
	"github.com/temporanet/tempora/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Options{LogLevel: zerolog.Disabled})
	m.Run()
}

const testSliceIndex = temporatime.Slice(1000)

type testNode struct {
	service *Service
	clock   *temporatime.TemporaTime
	priv    ed25519.PrivateKey
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	kv, err := pebble.NewKVStore(t.TempDir())
	require.NoError(t, err)
	chainStore := store.NewChain(kv)
	t.Cleanup(func() { _ = chainStore.Close() })

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	// Clock parked mid-interval so ticks never advance unexpectedly.
	now := testSliceIndex.ReferenceTime()
	clock := &now

	service, err := NewService(Config{
		Identity: Identity{
			PublicKey:  crypto.NewPublicKey(pub),
			PrivateKey: priv,
			Kind:       slice.AutomatedPresence,
			Tier:       1,
		},
		Store: chainStore,
		Now:   func() temporatime.TemporaTime { return *clock },
	})
	require.NoError(t, err)

	return &testNode{service: service, clock: clock, priv: priv}
}

func (n *testNode) setClock(tt temporatime.TemporaTime) {
	*n.clock = tt
}

// validProof builds a signed proof that passes every check against the
// node's current tip.
func validProof(t *testing.T, tip presence.Tip) (*slice.PresenceProof, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	proof := &slice.PresenceProof{
		PublicKey:     crypto.NewPublicKey(pub),
		Kind:          slice.AutomatedPresence,
		Occupancy:     0b1111111111,
		PrevSliceHash: tip.Hash,
		IssuedAt:      tip.Index.ReferenceTime(),
		CooldownUntil: tip.Index,
	}
	require.NoError(t, proof.Sign(priv))
	return proof, priv
}

// acceptProof injects a validated proof the way the verdict path would.
func (n *testNode) acceptProof(proof *slice.PresenceProof) {
	n.service.accepted[proof.PublicKey] = proof
}

func TestService_GenesisBootstrap(t *testing.T) {
	n := newTestNode(t)

	genesis, err := n.service.store.SliceByIndex(0)
	require.NoError(t, err)
	genesisHash, err := genesis.Header.Hash()
	require.NoError(t, err)

	tip := n.service.Tip()
	assert.Equal(t, genesisHash, tip.Hash)
	assert.Equal(t, testSliceIndex, tip.Index)
	assert.Equal(t, genesisHash, n.service.forks.Canonical().Hash)
}

func TestService_ProofSubmissionThroughPool(t *testing.T) {
	n := newTestNode(t)
	tip := n.service.Tip()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.service.Run(ctx)
	}()

	proof, _ := validProof(t, tip)
	require.NoError(t, n.service.SubmitProof(ctx, proof))

	t.Run("duplicate_rejected", func(t *testing.T) {
		assert.ErrorIs(t, n.service.SubmitProof(ctx, proof), lottery.ErrDuplicateParticipant)
	})

	t.Run("wrong_chain_rejected", func(t *testing.T) {
		bad, _ := validProof(t, presence.Tip{Hash: crypto.HashData([]byte("other")), Index: tip.Index})
		err := n.service.SubmitProof(ctx, bad)
		kind, ok := presence.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, presence.WrongChain, kind)
	})

	cancel()
	<-done
}

func TestService_AdvanceResolvesDrawAndSettlesStreaks(t *testing.T) {
	n := newTestNode(t)
	tip := n.service.Tip()

	proof, _ := validProof(t, tip)
	n.acceptProof(proof)

	next := testSliceIndex + 1
	n.setClock(next.SliceStart())
	n.service.tick(next.SliceStart())

	assert.Equal(t, next, n.service.Tip().Index)
	assert.Equal(t, lottery.Resolved, n.service.draw.Phase())
	assert.Equal(t, 1, n.service.draw.Participants())
	assert.Equal(t, temporatime.Slice(1), n.service.weights.Streak(proof.PublicKey))
	assert.Empty(t, n.service.accepted)
}

func TestService_ProduceOwnSlice(t *testing.T) {
	n := newTestNode(t)
	tip := n.service.Tip()

	// The only participant is this node, so it wins slot 0.
	own := &slice.PresenceProof{
		PublicKey:     n.service.identity.PublicKey,
		Kind:          slice.AutomatedPresence,
		Occupancy:     0b0000000001,
		PrevSliceHash: tip.Hash,
		IssuedAt:      tip.Index.ReferenceTime(),
		CooldownUntil: tip.Index,
	}
	require.NoError(t, own.Sign(n.service.identity.PrivateKey))
	n.acceptProof(own)

	next := testSliceIndex + 1
	start := next.SliceStart()
	n.setClock(start)
	n.service.tick(start) // boundary: resolve draw
	n.service.tick(start) // slot 0: produce

	require.True(t, n.service.produced)
	produced, err := n.service.store.SliceByIndex(next)
	require.NoError(t, err)
	assert.Equal(t, n.service.identity.PublicKey, produced.Header.WinnerPublicKey)
	assert.Equal(t, tip.Hash, produced.Header.PrevSliceHash)

	ok, err := produced.VerifySignature()
	require.NoError(t, err)
	assert.True(t, ok)

	// Weight 1 for a fresh streak lands in the cumulative total.
	assert.Equal(t, uint64(1), produced.Header.CumulativeWeight)
	assert.Equal(t, forkchoice.EventNewHead, (<-n.service.forks.Events()).Kind)

	t.Run("inclusion_proof_served", func(t *testing.T) {
		leaf, err := own.Hash()
		require.NoError(t, err)
		tipHash := n.service.Tip().Hash

		result := n.service.proveInclusion(tipHash, leaf)
		require.NoError(t, result.err)
		assert.True(t, merkle.Verify(leaf, result.proof, produced.Body.PresenceRoot))
	})

	t.Run("unknown_slice_has_no_cached_set", func(t *testing.T) {
		result := n.service.proveInclusion(crypto.HashData([]byte("gone")), crypto.Hash{})
		assert.ErrorIs(t, result.err, ErrPresenceSetUnknown)
	})
}

func TestService_AcceptPeerExtension(t *testing.T) {
	n := newTestNode(t)
	tip := n.service.Tip()

	peerProof, peerPriv := validProof(t, tip)
	n.acceptProof(peerProof)

	next := testSliceIndex + 1
	start := next.SliceStart()
	n.setClock(start)
	n.service.tick(start)

	buildCandidate := func() *slice.Slice {
		return &slice.Slice{
			Header: slice.Header{
				PrevSliceHash:      tip.Hash,
				Timestamp:          start,
				Index:              next,
				WinnerPublicKey:    peerProof.PublicKey,
				CooldownState:      n.service.cooldown.Snapshot(),
				RegistrationCounts: n.service.cooldown.CountsSnapshot(next.ToCheckpoint()),
				CumulativeWeight:   1,
				ReputationRoot:     n.service.reputationRoot(),
			},
			Body: slice.Body{
				PresenceRoot:    merkle.ComputeRoot(n.service.drawLeaves),
				TransactionRoot: merkle.EmptyRoot,
			},
		}
	}

	t.Run("bad_signature", func(t *testing.T) {
		cand := buildCandidate()
		_, otherPriv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		require.NoError(t, cand.Sign(otherPriv))
		assert.ErrorIs(t, n.service.acceptSlice(cand), ErrBadProducerSig)
	})

	t.Run("wrong_producer", func(t *testing.T) {
		cand := buildCandidate()
		imposterPub, imposterPriv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		cand.Header.WinnerPublicKey = crypto.NewPublicKey(imposterPub)
		require.NoError(t, cand.Sign(imposterPriv))
		assert.ErrorIs(t, n.service.acceptSlice(cand), ErrWrongProducer)
	})

	t.Run("root_mismatch", func(t *testing.T) {
		cand := buildCandidate()
		cand.Body.PresenceRoot = crypto.HashData([]byte("forged set"))
		require.NoError(t, cand.Sign(peerPriv))
		assert.ErrorIs(t, n.service.acceptSlice(cand), ErrRootMismatch)
	})

	t.Run("accepted", func(t *testing.T) {
		cand := buildCandidate()
		require.NoError(t, cand.Sign(peerPriv))
		require.NoError(t, n.service.acceptSlice(cand))

		hash, err := cand.Header.Hash()
		require.NoError(t, err)
		assert.Equal(t, hash, n.service.Tip().Hash)
		assert.True(t, n.service.produced)

		// The interval already has its slice.
		again := buildCandidate()
		require.NoError(t, again.Sign(peerPriv))
		assert.ErrorIs(t, n.service.acceptSlice(again), ErrIntervalClosed)
	})
}

func TestService_AcceptForkCandidate(t *testing.T) {
	n := newTestNode(t)
	genesisTip := n.service.Tip()

	forkPub, forkPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	t.Run("unknown_parent", func(t *testing.T) {
		cand := &slice.Slice{Header: slice.Header{
			PrevSliceHash:   crypto.HashData([]byte("missing")),
			Index:           5,
			WinnerPublicKey: crypto.NewPublicKey(forkPub),
		}}
		require.NoError(t, cand.Sign(forkPriv))
		assert.ErrorIs(t, n.service.acceptSlice(cand), ErrUnknownParent)
	})

	t.Run("index_out_of_range", func(t *testing.T) {
		cand := &slice.Slice{Header: slice.Header{
			PrevSliceHash:   genesisTip.Hash,
			Index:           temporatime.MaxSlice + 1,
			WinnerPublicKey: crypto.NewPublicKey(forkPub),
		}}
		require.NoError(t, cand.Sign(forkPriv))
		assert.ErrorIs(t, n.service.acceptSlice(cand), temporatime.ErrSliceExceedsMaxTemporaTime)
	})

	t.Run("heavier_branch_adopted", func(t *testing.T) {
		cand := &slice.Slice{
			Header: slice.Header{
				PrevSliceHash:    genesisTip.Hash,
				Index:            testSliceIndex - 1,
				Timestamp:        (testSliceIndex - 1).ReferenceTime(),
				WinnerPublicKey:  crypto.NewPublicKey(forkPub),
				CumulativeWeight: 500,
			},
		}
		require.NoError(t, cand.Sign(forkPriv))
		require.NoError(t, n.service.acceptSlice(cand))

		hash, err := cand.Header.Hash()
		require.NoError(t, err)
		assert.Equal(t, hash, n.service.Tip().Hash)
		assert.Equal(t, uint64(500), n.service.weights.Cumulative())
		assert.Equal(t, hash, n.service.forks.Canonical().Hash)

		// The adopted branch owns the index mapping.
		got, err := n.service.store.CanonicalHashAt(testSliceIndex - 1)
		require.NoError(t, err)
		assert.Equal(t, hash, got)
	})
}

func TestService_LosingForkKeepsCanonicalIndex(t *testing.T) {
	n := newTestNode(t)
	genesisTip := n.service.Tip()

	peerProof, peerPriv := validProof(t, genesisTip)
	n.acceptProof(peerProof)

	next := testSliceIndex + 1
	start := next.SliceStart()
	n.setClock(start)
	n.service.tick(start)

	cand := &slice.Slice{
		Header: slice.Header{
			PrevSliceHash:      genesisTip.Hash,
			Timestamp:          start,
			Index:              next,
			WinnerPublicKey:    peerProof.PublicKey,
			CooldownState:      n.service.cooldown.Snapshot(),
			RegistrationCounts: n.service.cooldown.CountsSnapshot(next.ToCheckpoint()),
			CumulativeWeight:   1,
			ReputationRoot:     n.service.reputationRoot(),
		},
		Body: slice.Body{
			PresenceRoot:    merkle.ComputeRoot(n.service.drawLeaves),
			TransactionRoot: merkle.EmptyRoot,
		},
	}
	require.NoError(t, cand.Sign(peerPriv))
	require.NoError(t, n.service.acceptSlice(cand))
	canonicalHash := n.service.Tip().Hash

	// A lighter fork at the same index stays reachable by hash but must
	// not overwrite the canonical index mapping.
	forkPub, forkPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	fork := &slice.Slice{Header: slice.Header{
		PrevSliceHash:   genesisTip.Hash,
		Timestamp:       start,
		Index:           next,
		WinnerPublicKey: crypto.NewPublicKey(forkPub),
	}}
	require.NoError(t, fork.Sign(forkPriv))
	assert.ErrorIs(t, n.service.acceptSlice(fork), forkchoice.ErrNotBetter)

	got, err := n.service.store.CanonicalHashAt(next)
	require.NoError(t, err)
	assert.Equal(t, canonicalHash, got)

	forkHash, err := fork.Header.Hash()
	require.NoError(t, err)
	_, err = n.service.store.SliceByHash(forkHash)
	assert.NoError(t, err)
}

func TestService_ReorgDropsOpenDraw(t *testing.T) {
	n := newTestNode(t)

	// extend lands a peer slice for the interval the last tick opened.
	extend := func(winner *slice.PresenceProof, priv ed25519.PrivateKey, index temporatime.Slice, cumulative uint64) crypto.Hash {
		t.Helper()
		cand := &slice.Slice{
			Header: slice.Header{
				PrevSliceHash:      n.service.Tip().Hash,
				Timestamp:          index.SliceStart(),
				Index:              index,
				WinnerPublicKey:    winner.PublicKey,
				CooldownState:      n.service.cooldown.Snapshot(),
				RegistrationCounts: n.service.cooldown.CountsSnapshot(index.ToCheckpoint()),
				CumulativeWeight:   cumulative,
				ReputationRoot:     n.service.reputationRoot(),
			},
			Body: slice.Body{
				PresenceRoot:    merkle.ComputeRoot(n.service.drawLeaves),
				TransactionRoot: merkle.EmptyRoot,
			},
		}
		require.NoError(t, cand.Sign(priv))
		require.NoError(t, n.service.acceptSlice(cand))
		hash, err := cand.Header.Hash()
		require.NoError(t, err)
		return hash
	}

	// Two canonical intervals land, each with a single participant.
	proof1, priv1 := validProof(t, n.service.Tip())
	n.acceptProof(proof1)
	first := testSliceIndex + 1
	n.setClock(first.SliceStart())
	n.service.tick(first.SliceStart())
	forkParent := extend(proof1, priv1, first, 1)

	proof2, priv2 := validProof(t, n.service.Tip())
	n.acceptProof(proof2)
	second := first + 1
	n.setClock(second.SliceStart())
	n.service.tick(second.SliceStart())
	abandonedHash := extend(proof2, priv2, second, 2)

	// A third interval opens with a draw seeded from the accepted tip.
	proof3, _ := validProof(t, n.service.Tip())
	n.acceptProof(proof3)
	third := second + 1
	n.setClock(third.SliceStart())
	n.service.tick(third.SliceStart())
	require.NotNil(t, n.service.draw)
	require.Equal(t, third, n.service.draw.Index())

	// A heavier sibling of the head reorganizes the chain; the open draw
	// was seeded from the abandoned tip hash and must not survive.
	forkPub, forkPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	fork := &slice.Slice{Header: slice.Header{
		PrevSliceHash:    forkParent,
		Timestamp:        second.SliceStart(),
		Index:            second,
		WinnerPublicKey:  crypto.NewPublicKey(forkPub),
		CumulativeWeight: 500,
	}}
	require.NoError(t, fork.Sign(forkPriv))
	require.NoError(t, n.service.acceptSlice(fork))

	forkHash, err := fork.Header.Hash()
	require.NoError(t, err)
	assert.Equal(t, forkHash, n.service.Tip().Hash)
	assert.Equal(t, third, n.service.Tip().Index)
	assert.Nil(t, n.service.draw)
	assert.Nil(t, n.service.drawLeaves)
	assert.Empty(t, n.service.accepted)
	assert.False(t, n.service.produced)

	// The abandoned head lost its index mapping to the adopted branch.
	got, err := n.service.store.CanonicalHashAt(second)
	require.NoError(t, err)
	assert.Equal(t, forkHash, got)
	assert.NotEqual(t, abandonedHash, got)
}

func TestService_Register(t *testing.T) {
	n := newTestNode(t)

	result := n.service.register(1)
	require.NoError(t, result.err)
	assert.Equal(t, testSliceIndex+cooldown.GenesisCooldown, result.until)

	cp := testSliceIndex.ToCheckpoint()
	assert.Equal(t, uint32(1), n.service.cooldown.RegistrationCount(cp, 1))

	bad := n.service.register(0)
	assert.ErrorIs(t, bad.err, cooldown.ErrInvalidTier)
}
