// Package chain runs the node's consensus coordinator: a single-writer
// state machine owning the tip, the per-interval lottery draw, weight and
// cooldown accounting, fork choice and finality. All mutation happens on
// the Run goroutine; submissions arrive over a command queue and presence
// proofs are checked by a worker pool against immutable tip snapshots.
package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/temporanet/tempora/internal/cooldown"
	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/finality"
	"github.com/temporanet/tempora/internal/forkchoice"
	"github.com/temporanet/tempora/internal/lottery"
	"github.com/temporanet/tempora/internal/merkle"
	"github.com/temporanet/tempora/internal/presence"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/store"
	"github.com/temporanet/tempora/internal/temporatime"
	"github.com/temporanet/tempora/internal/weight"
	"github.com/temporanet/tempora/pkg/log"
)

var (
	ErrBusy               = errors.New("chain: validation pool is saturated")
	ErrIntervalClosed     = errors.New("chain: interval closed before work was applied")
	ErrBadProducerSig     = errors.New("chain: producer signature invalid")
	ErrWrongProducer      = errors.New("chain: producer does not hold the eligible slot")
	ErrUnknownParent      = errors.New("chain: candidate parent is not known")
	ErrRootMismatch       = errors.New("chain: body roots do not match the validated set")
	ErrWeightMismatch     = errors.New("chain: cumulative weight does not match local accounting")
	ErrPresenceSetUnknown = errors.New("chain: presence set for slice is no longer cached")
)

// Identity is the node's signing identity for production and attestation.
type Identity struct {
	PublicKey  crypto.PublicKey
	PrivateKey ed25519.PrivateKey
	Kind       slice.PresenceKind
	Tier       int
}

// Config carries the collaborators the service is constructed from.
type Config struct {
	Identity Identity
	Store    *store.Chain
	// Now overrides the wall clock; nil means temporatime.Now.
	Now func() temporatime.TemporaTime
}

// Service is the chain coordinator.
type Service struct {
	identity Identity
	store    *store.Chain
	forks    *forkchoice.ForkChoice
	final    *finality.Tracker
	weights  *weight.Tracker
	cooldown *cooldown.Engine

	now func() temporatime.TemporaTime

	// Coordinator-owned interval state.
	tip        presence.Tip
	draw       *lottery.Draw
	drawLeaves []crypto.Hash
	accepted   map[crypto.PublicKey]*slice.PresenceProof
	produced   bool

	recent *lru.Cache

	commands chan any
	verdicts chan verdict
	jobs     chan proofJob
}

type proofJob struct {
	proof     *slice.PresenceProof
	validator *presence.Validator
	resp      chan error
}

type verdict struct {
	proof *slice.PresenceProof
	tip   presence.Tip
	err   error
	resp  chan error
}

type proofCmd struct {
	proof *slice.PresenceProof
	resp  chan error
}

type sliceCmd struct {
	candidate *slice.Slice
	resp      chan error
}

type attCmd struct {
	att  *slice.Attestation
	resp chan error
}

type registerCmd struct {
	tier int
	resp chan registerResult
}

type registerResult struct {
	until temporatime.Slice
	err   error
}

type proveCmd struct {
	sliceHash crypto.Hash
	leaf      crypto.Hash
	resp      chan proveResult
}

type proveResult struct {
	proof merkle.Proof
	err   error
}

// NewService builds a coordinator over the given store, creating and
// storing the genesis slice when the store is empty.
func NewService(cfg Config) (*Service, error) {
	clock := cfg.Now
	if clock == nil {
		clock = temporatime.Now
	}

	created := false
	genesis, err := cfg.Store.SliceByIndex(0)
	if errors.Is(err, store.ErrSliceNotFound) {
		genesis = slice.Slice{Header: slice.Header{Timestamp: temporatime.FromSeconds(0)}}
		if err := cfg.Store.PutSlice(genesis); err != nil {
			return nil, fmt.Errorf("store genesis slice: %w", err)
		}
		created = true
	} else if err != nil {
		return nil, fmt.Errorf("load genesis slice: %w", err)
	}

	genesisHash, err := genesis.Header.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash genesis header: %w", err)
	}
	if created {
		if err := cfg.Store.SetCanonicalHash(genesis.Header.Index, genesisHash); err != nil {
			return nil, fmt.Errorf("index genesis slice: %w", err)
		}
	}

	cache, err := lru.New(recentSliceCache)
	if err != nil {
		return nil, fmt.Errorf("create slice cache: %w", err)
	}

	s := &Service{
		identity: cfg.Identity,
		store:    cfg.Store,
		weights:  weight.NewTracker(),
		cooldown: cooldown.NewEngine(),
		now:      clock,
		accepted: make(map[crypto.PublicKey]*slice.PresenceProof),
		recent:   cache,
		commands: make(chan any, commandQueueSize),
		verdicts: make(chan verdict, commandQueueSize),
		jobs:     make(chan proofJob, commandQueueSize),
	}
	s.forks = forkchoice.New(cfg.Store, forkchoice.Head{
		Hash:             genesisHash,
		Index:            genesis.Header.Index,
		CumulativeWeight: genesis.Header.CumulativeWeight,
	})
	s.final = finality.NewTracker(cfg.Store, s.onFinalized)
	s.weights.SetCumulative(genesis.Header.CumulativeWeight)
	s.tip = presence.Tip{Hash: genesisHash, Index: clock().ToSlice()}

	return s, nil
}

// Tip returns the coordinator's current tip snapshot. Only safe before Run
// or from the coordinator goroutine; external readers go through commands.
func (s *Service) Tip() presence.Tip {
	return s.tip
}

// Run drives the coordinator until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < ValidationWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	defer wg.Wait()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.commands:
			s.dispatch(cmd)
		case v := <-s.verdicts:
			s.applyVerdict(v)
		case e := <-s.forks.Events():
			if err := s.final.HandleEvent(e); err != nil {
				log.Finality.Warn().Err(err).Msg("apply fork-choice event")
			}
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

// SubmitProof queues a presence proof for validation against the current
// tip and waits for the verdict.
func (s *Service) SubmitProof(ctx context.Context, proof *slice.PresenceProof) error {
	resp := make(chan error, 1)
	return s.roundTrip(ctx, proofCmd{proof: proof, resp: resp}, resp)
}

// SubmitSlice offers a candidate slice received from a peer.
func (s *Service) SubmitSlice(ctx context.Context, candidate *slice.Slice) error {
	resp := make(chan error, 1)
	return s.roundTrip(ctx, sliceCmd{candidate: candidate, resp: resp}, resp)
}

// SubmitAttestation offers a finality vote for a known slice.
func (s *Service) SubmitAttestation(ctx context.Context, att *slice.Attestation) error {
	resp := make(chan error, 1)
	return s.roundTrip(ctx, attCmd{att: att, resp: resp}, resp)
}

// Register records a new participant registration in the given tier and
// returns the slice index its cooldown runs until.
func (s *Service) Register(ctx context.Context, tier int) (temporatime.Slice, error) {
	resp := make(chan registerResult, 1)
	select {
	case s.commands <- registerCmd{tier: tier, resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.until, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ProveInclusion builds a merkle inclusion proof for a presence leaf of a
// recently accepted slice.
func (s *Service) ProveInclusion(ctx context.Context, sliceHash, leaf crypto.Hash) (merkle.Proof, error) {
	resp := make(chan proveResult, 1)
	select {
	case s.commands <- proveCmd{sliceHash: sliceHash, leaf: leaf, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.proof, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) roundTrip(ctx context.Context, cmd any, resp chan error) error {
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker validates presence proofs off the coordinator goroutine. Each job
// carries the validator snapshot it was dispatched under; the coordinator
// re-checks the snapshot before applying the verdict.
func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			v := verdict{
				proof: job.proof,
				tip:   job.validator.Tip(),
				err:   job.validator.Validate(job.proof),
				resp:  job.resp,
			}
			select {
			case s.verdicts <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) dispatch(cmd any) {
	switch c := cmd.(type) {
	case proofCmd:
		job := proofJob{proof: c.proof, validator: presence.NewValidator(s.tip), resp: c.resp}
		select {
		case s.jobs <- job:
		default:
			c.resp <- ErrBusy
		}
	case sliceCmd:
		c.resp <- s.acceptSlice(c.candidate)
	case attCmd:
		c.resp <- s.final.AddAttestation(c.att)
	case registerCmd:
		c.resp <- s.register(c.tier)
	case proveCmd:
		c.resp <- s.proveInclusion(c.sliceHash, c.leaf)
	default:
		log.Chain.Error().Msgf("unknown command %T", cmd)
	}
}

// applyVerdict lands a validated proof in the interval's accepted set. A
// verdict computed against a superseded tip is discarded: its temporal
// preconditions no longer hold.
func (s *Service) applyVerdict(v verdict) {
	if v.tip != s.tip {
		v.resp <- ErrIntervalClosed
		return
	}
	if v.err != nil {
		v.resp <- v.err
		return
	}
	if _, ok := s.accepted[v.proof.PublicKey]; ok {
		v.resp <- lottery.ErrDuplicateParticipant
		return
	}
	s.accepted[v.proof.PublicKey] = v.proof
	v.resp <- nil
}

func (s *Service) register(tier int) registerResult {
	until, err := s.cooldown.CooldownUntil(tier, s.tip.Index)
	if err != nil {
		return registerResult{err: err}
	}
	if err := s.cooldown.RecordRegistration(s.tip.Index.ToCheckpoint(), tier); err != nil {
		return registerResult{err: err}
	}
	return registerResult{until: until}
}

func (s *Service) proveInclusion(sliceHash, leaf crypto.Hash) proveResult {
	cached, ok := s.recent.Get(sliceHash)
	if !ok {
		return proveResult{err: ErrPresenceSetUnknown}
	}
	leaves := cached.([]crypto.Hash)
	proof, err := merkle.ProveLeaf(leaves, leaf)
	if err != nil {
		return proveResult{err: err}
	}
	return proveResult{proof: proof}
}

// tick advances interval state from the wall clock.
func (s *Service) tick(now temporatime.TemporaTime) {
	if now.ToSlice() > s.tip.Index {
		s.advanceSlice(now)
		return
	}
	s.tryProduce(now)
}

// advanceSlice closes the current interval: the accepted set becomes the
// draw for the opening interval, streaks are settled, and checkpoint
// boundaries close cooldown periods. In-flight validation work bound to the
// closed interval is discarded when its verdicts arrive.
func (s *Service) advanceSlice(now temporatime.TemporaTime) {
	next := now.ToSlice()

	d := lottery.NewDraw(s.tip.Hash, next)
	leaves := make([]crypto.Hash, 0, len(s.accepted))
	for _, proof := range s.accepted {
		if err := d.Submit(proof); err != nil {
			log.Lottery.Warn().Err(err).Msg("enter accepted proof into draw")
			continue
		}
		leaf, err := proof.Hash()
		if err != nil {
			log.Lottery.Warn().Err(err).Msg("hash accepted proof")
			continue
		}
		leaves = append(leaves, leaf)
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i][:], leaves[j][:]) < 0
	})

	if err := d.Resolve(); err != nil {
		if !errors.Is(err, lottery.ErrNoParticipants) {
			log.Lottery.Warn().Err(err).Msg("resolve draw")
		}
		// Skipped interval: the index advances without rewards.
	}

	for pub := range s.accepted {
		s.weights.Observe(pub, true)
	}
	s.weights.SweepAbsent(func(pub crypto.PublicKey) bool {
		_, ok := s.accepted[pub]
		return ok
	})

	if s.tip.Index.ToCheckpoint() != next.ToCheckpoint() {
		s.cooldown.OnCheckpointEnd(s.tip.Index.ToCheckpoint())
	}

	log.Chain.Debug().
		Uint64("interval", uint64(next)).
		Int("participants", d.Participants()).
		Msg("interval advanced")

	s.tip.Index = next
	s.draw = d
	s.drawLeaves = leaves
	s.accepted = make(map[crypto.PublicKey]*slice.PresenceProof)
	s.produced = false
}

// tryProduce publishes a slice when this node's identity holds the interval's
// eligible production slot.
func (s *Service) tryProduce(now temporatime.TemporaTime) {
	if s.produced || s.draw == nil || s.draw.Index() != s.tip.Index {
		return
	}
	winner, slot, err := s.draw.EligibleProducer(now)
	if err != nil {
		return
	}
	if winner.PublicKey != s.identity.PublicKey {
		return
	}
	if err := s.produceSlice(now, slot); err != nil {
		log.Chain.Error().Err(err).Int("slot", slot).Msg("produce slice")
	}
}

func (s *Service) produceSlice(now temporatime.TemporaTime, slot int) error {
	header := slice.Header{
		PrevSliceHash:      s.tip.Hash,
		Timestamp:          now,
		Index:              s.tip.Index,
		WinnerPublicKey:    s.identity.PublicKey,
		CooldownState:      s.cooldown.Snapshot(),
		RegistrationCounts: s.cooldown.CountsSnapshot(s.tip.Index.ToCheckpoint()),
		CumulativeWeight:   s.weights.Cumulative() + s.weights.WeightOf(s.identity.PublicKey),
		ReputationRoot:     s.reputationRoot(),
	}
	produced := slice.Slice{
		Header: header,
		Body: slice.Body{
			PresenceRoot:    merkle.ComputeRoot(s.drawLeaves),
			TransactionRoot: merkle.EmptyRoot,
		},
	}
	if err := produced.Sign(s.identity.PrivateKey); err != nil {
		return fmt.Errorf("sign produced slice: %w", err)
	}

	hash, err := produced.Header.Hash()
	if err != nil {
		return fmt.Errorf("hash produced header: %w", err)
	}
	log.Chain.Info().
		Uint64("interval", uint64(header.Index)).
		Int("slot", slot).
		Str("hash", hash.Hex()).
		Msg("produced slice")

	return s.applyAccepted(produced, hash)
}

// reputationRoot commits the draw participants' streak-derived weights.
func (s *Service) reputationRoot() crypto.Hash {
	leaves := make([]crypto.Hash, 0, len(s.drawLeaves))
	winners, err := s.draw.Winners()
	if err != nil {
		return merkle.EmptyRoot
	}
	for _, w := range winners {
		buf := make([]byte, 0, crypto.Ed25519PublicSize+8)
		buf = append(buf, w.PublicKey[:]...)
		buf = binary.BigEndian.AppendUint64(buf, s.weights.WeightOf(w.PublicKey))
		leaves = append(leaves, crypto.HashData(buf))
	}
	return merkle.ComputeRoot(leaves)
}

// acceptSlice validates a candidate slice from a peer and lands it either
// as the current interval's slice or as a fork-choice head.
func (s *Service) acceptSlice(cand *slice.Slice) error {
	if err := temporatime.ValidateSlice(cand.Header.Index); err != nil {
		return err
	}

	ok, err := cand.VerifySignature()
	if err != nil {
		return fmt.Errorf("verify producer signature: %w", err)
	}
	if !ok {
		return ErrBadProducerSig
	}

	hash, err := cand.Header.Hash()
	if err != nil {
		return fmt.Errorf("hash candidate header: %w", err)
	}

	if cand.Header.Index == s.tip.Index && cand.Header.PrevSliceHash == s.tip.Hash {
		return s.acceptExtension(cand, hash)
	}
	return s.acceptFork(cand, hash)
}

// acceptExtension lands a candidate that extends the canonical tip for the
// interval currently open.
func (s *Service) acceptExtension(cand *slice.Slice, hash crypto.Hash) error {
	if s.produced {
		return ErrIntervalClosed
	}
	if s.draw == nil || s.draw.Index() != s.tip.Index {
		return ErrWrongProducer
	}

	winner, _, err := s.draw.EligibleProducer(cand.Header.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrongProducer, err)
	}
	if winner.PublicKey != cand.Header.WinnerPublicKey {
		return ErrWrongProducer
	}

	if cand.Body.PresenceRoot != merkle.ComputeRoot(s.drawLeaves) {
		return ErrRootMismatch
	}
	expected := s.weights.Cumulative() + s.weights.WeightOf(cand.Header.WinnerPublicKey)
	if cand.Header.CumulativeWeight != expected {
		return ErrWeightMismatch
	}

	return s.applyAccepted(*cand, hash)
}

// applyAccepted commits an accepted slice for the open interval: persists
// it, caches its presence set for inclusion proofs, moves the tip and
// extends the canonical chain.
func (s *Service) applyAccepted(sl slice.Slice, hash crypto.Hash) error {
	if err := s.store.PutSlice(sl); err != nil {
		return fmt.Errorf("store slice: %w", err)
	}
	if err := s.store.SetCanonicalHash(sl.Header.Index, hash); err != nil {
		return fmt.Errorf("index slice: %w", err)
	}
	leaves := make([]crypto.Hash, len(s.drawLeaves))
	copy(leaves, s.drawLeaves)
	s.recent.Add(hash, leaves)

	s.tip.Hash = hash
	s.weights.SetCumulative(sl.Header.CumulativeWeight)
	s.produced = true

	s.forks.ExtendCanonical(forkchoice.Head{
		Hash:             hash,
		Index:            sl.Header.Index,
		CumulativeWeight: sl.Header.CumulativeWeight,
	})
	return nil
}

// acceptFork lands a candidate that does not extend the open interval; it
// is stored and offered to fork choice, which may trigger a reorganization.
func (s *Service) acceptFork(cand *slice.Slice, hash crypto.Hash) error {
	if _, err := s.store.SliceByHash(cand.Header.PrevSliceHash); err != nil {
		if errors.Is(err, store.ErrSliceNotFound) {
			return ErrUnknownParent
		}
		return fmt.Errorf("resolve candidate parent: %w", err)
	}
	// Stored by hash only: a losing fork must not disturb the canonical
	// index mapping.
	if err := s.store.PutSlice(*cand); err != nil {
		return fmt.Errorf("store fork candidate: %w", err)
	}

	abandoned := s.forks.Canonical()
	head := forkchoice.Head{
		Hash:             hash,
		Index:            cand.Header.Index,
		CumulativeWeight: cand.Header.CumulativeWeight,
	}
	if err := s.forks.ObserveHead(head, cand.Header.PrevSliceHash); err != nil {
		return err
	}

	if err := s.adoptCanonicalIndex(head, abandoned); err != nil {
		return fmt.Errorf("reindex adopted branch: %w", err)
	}

	log.Chain.Info().
		Uint64("interval", uint64(head.Index)).
		Str("hash", hash.Hex()).
		Msg("adopted reorganized head")

	s.tip.Hash = head.Hash
	s.weights.SetCumulative(head.CumulativeWeight)
	// Proofs collected against the abandoned branch are bound to the wrong
	// chain, and the open draw was seeded from its tip hash: both are
	// dropped. The next boundary tick re-opens the interval from the
	// adopted tip.
	s.draw = nil
	s.drawLeaves = nil
	s.accepted = make(map[crypto.PublicKey]*slice.PresenceProof)
	s.produced = head.Index == s.tip.Index
	return nil
}

// adoptCanonicalIndex rewrites the store's index mapping after fork choice
// adopts a new head: the adopted branch is walked back to the fork point
// and replaces the abandoned suffix in one batch.
func (s *Service) adoptCanonicalIndex(adopted, abandoned forkchoice.Head) error {
	var branch []store.IndexedHash
	cursor := adopted.Hash
	forkPoint := adopted.Index
	for {
		header, err := s.store.HeaderByHash(cursor)
		if err != nil {
			return fmt.Errorf("walk adopted branch: %w", err)
		}
		mapped, err := s.store.CanonicalHashAt(header.Index)
		if err == nil && mapped == cursor {
			forkPoint = header.Index
			break
		}
		if err != nil && !errors.Is(err, store.ErrSliceNotFound) {
			return err
		}
		branch = append(branch, store.IndexedHash{Index: header.Index, Hash: cursor})
		cursor = header.PrevSliceHash
	}

	to := adopted.Index + 1
	if abandoned.Index >= to {
		to = abandoned.Index + 1
	}
	return s.store.Reindex(forkPoint+1, to, branch)
}

// onFinalized persists the freshly emitted checkpoint and raises the
// fork-choice floor. Runs on the coordinator goroutine via the finality
// tracker.
func (s *Service) onFinalized(h forkchoice.Head) {
	cp, err := s.final.LatestCheckpoint()
	if err != nil {
		log.Finality.Error().Err(err).Msg("read emitted checkpoint")
		return
	}
	if err := s.store.PutCheckpoint(cp); err != nil {
		log.Finality.Error().Err(err).Msg("persist checkpoint")
	}
	s.forks.SetFinalized(h)

	log.Finality.Info().
		Uint64("interval", uint64(cp.Index)).
		Str("hash", cp.Hash.Hex()).
		Msg("checkpoint finalized")
}
