// Package finality escalates slices through the provisional → safe → final
// ladder as they are buried and attested, and emits the checkpoints that
// anchor the reorganization floor.
package finality

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/forkchoice"
	"github.com/temporanet/tempora/internal/merkle"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/temporatime"
)

var (
	ErrUnknownSlice        = errors.New("finality: slice is not tracked")
	ErrZeroWeightAttester  = errors.New("finality: attester carries no weight")
	ErrBadAttestation      = errors.New("finality: attestation signature invalid")
	ErrDuplicateAttester   = errors.New("finality: attester already voted for this slice")
	ErrTooManyAttestations = errors.New("finality: attestation set is full")
	ErrNoCheckpoint        = errors.New("finality: no checkpoint emitted yet")
)

// Status is a slice's position on the finality ladder. A slice only ever
// moves up the ladder.
type Status uint8

const (
	// Provisional slices sit in the reorganizable suffix of the chain.
	Provisional Status = iota
	// Safe slices are buried at least SafeDepth deep with majority
	// attestation weight behind them.
	Safe
	// Final slices are buried a full checkpoint period deep and will never
	// be reorganized away.
	Final
)

func (s Status) String() string {
	switch s {
	case Provisional:
		return "provisional"
	case Safe:
		return "safe"
	case Final:
		return "final"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// record is the per-slice tracking state.
type record struct {
	index          temporatime.Slice
	weight         uint64
	status         Status
	attestations   []slice.Attestation
	attesters      map[crypto.PublicKey]struct{}
	attestedWeight uint64
}

// FloorFunc receives the new finalized floor after a checkpoint is emitted.
// The chain coordinator wires it to fork choice, keeping the dependency
// between the two packages one-way.
type FloorFunc func(forkchoice.Head)

// Tracker consumes fork-choice events and attestations and escalates slice
// statuses. It is owned by the chain coordinator; methods must not be
// called concurrently.
type Tracker struct {
	resolver forkchoice.Resolver
	setFloor FloorFunc

	records map[crypto.Hash]*record
	latest  *slice.Checkpoint
}

// NewTracker creates a tracker. setFloor may be nil when no fork choice is
// attached, as in tests exercising the ladder alone.
func NewTracker(resolver forkchoice.Resolver, setFloor FloorFunc) *Tracker {
	return &Tracker{
		resolver: resolver,
		setFloor: setFloor,
		records:  make(map[crypto.Hash]*record),
	}
}

// Observe registers a canonical slice as provisional. Re-observing a known
// slice is a no-op so its accumulated attestations survive.
func (t *Tracker) Observe(h forkchoice.Head) {
	if _, ok := t.records[h.Hash]; ok {
		return
	}
	t.records[h.Hash] = &record{
		index:     h.Index,
		weight:    h.CumulativeWeight,
		attesters: make(map[crypto.PublicKey]struct{}),
	}
}

// StatusOf returns the tracked status of a slice
func (t *Tracker) StatusOf(hash crypto.Hash) (Status, error) {
	rec, ok := t.records[hash]
	if !ok {
		return Provisional, ErrUnknownSlice
	}
	return rec.status, nil
}

// AttestedWeight returns the accumulated attestation weight behind a slice
func (t *Tracker) AttestedWeight(hash crypto.Hash) (uint64, error) {
	rec, ok := t.records[hash]
	if !ok {
		return 0, ErrUnknownSlice
	}
	return rec.attestedWeight, nil
}

// LatestCheckpoint returns the most recently emitted checkpoint
func (t *Tracker) LatestCheckpoint() (slice.Checkpoint, error) {
	if t.latest == nil {
		return slice.Checkpoint{}, ErrNoCheckpoint
	}
	return *t.latest, nil
}

// AddAttestation records a vote for a tracked slice. Zero-weight attesters
// carry no signal and are rejected outright rather than silently ignored.
func (t *Tracker) AddAttestation(att *slice.Attestation) error {
	rec, ok := t.records[att.SliceHash]
	if !ok {
		return ErrUnknownSlice
	}
	if att.AttesterWeight == 0 {
		return ErrZeroWeightAttester
	}
	if len(rec.attestations) >= MaxAttestationsPerSlice {
		return ErrTooManyAttestations
	}
	if _, voted := rec.attesters[att.AttesterPublicKey]; voted {
		return ErrDuplicateAttester
	}

	valid, err := att.VerifySignature()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAttestation, err)
	}
	if !valid {
		return ErrBadAttestation
	}

	rec.attesters[att.AttesterPublicKey] = struct{}{}
	rec.attestations = append(rec.attestations, *att)
	rec.attestedWeight += att.AttesterWeight
	return nil
}

// HandleEvent applies one fork-choice event: new heads trigger a ladder
// recompute, reorganizations additionally drop orphaned records.
func (t *Tracker) HandleEvent(e forkchoice.Event) error {
	if e.Kind == forkchoice.EventReorg {
		if err := t.pruneOrphans(e.Head, e.Ancestor); err != nil {
			return err
		}
	}
	t.Observe(e.Head)
	return t.OnNewHead(e.Head)
}

// OnNewHead recomputes burial depths against the new canonical head and
// promotes every slice whose conditions are now met. Statuses never move
// down the ladder; a promotion that would regress is discarded.
func (t *Tracker) OnNewHead(head forkchoice.Head) error {
	type promotion struct {
		hash crypto.Hash
		rec  *record
	}
	var finals []promotion

	for hash, rec := range t.records {
		if rec.index > head.Index {
			continue
		}
		depth := head.Index - rec.index

		if rec.status == Provisional && depth >= SafeDepth && majorityAttested(rec.attestedWeight, head.CumulativeWeight) {
			rec.status = Safe
		}
		if rec.status == Safe && depth >= FinalDepth {
			rec.status = Final
			finals = append(finals, promotion{hash: hash, rec: rec})
		}
	}

	// Emit checkpoints lowest index first so the floor advances through
	// every finalized slice in order.
	sort.Slice(finals, func(i, j int) bool {
		return finals[i].rec.index < finals[j].rec.index
	})
	for _, p := range finals {
		if err := t.emitCheckpoint(p.hash, p.rec); err != nil {
			return err
		}
	}
	return nil
}

func majorityAttested(attested, total uint64) bool {
	if total == 0 {
		return false
	}
	return attested*SafeWeightDenominator >= total*SafeWeightNumerator
}

// emitCheckpoint builds and publishes the checkpoint for a newly final
// slice, advancing the reorganization floor when the slice is the highest
// finalized so far.
func (t *Tracker) emitCheckpoint(hash crypto.Hash, rec *record) error {
	if t.latest != nil && rec.index <= t.latest.Index {
		return nil
	}

	root, err := attestationRoot(rec.attestations)
	if err != nil {
		return err
	}

	cp := slice.Checkpoint{
		Index:            rec.index,
		Hash:             hash,
		CumulativeWeight: rec.weight,
		AttestationRoot:  root,
		Signatures:       topSignatures(rec.attestations),
	}
	t.latest = &cp

	if t.setFloor != nil {
		t.setFloor(forkchoice.Head{Hash: hash, Index: rec.index, CumulativeWeight: rec.weight})
	}
	return nil
}

// attestationRoot commits the full attestation set regardless of how many
// signatures the checkpoint carries inline.
func attestationRoot(atts []slice.Attestation) (crypto.Hash, error) {
	leaves := make([]crypto.Hash, len(atts))
	for i := range atts {
		leaf, err := atts[i].Hash()
		if err != nil {
			return crypto.Hash{}, fmt.Errorf("hash attestation: %w", err)
		}
		leaves[i] = leaf
	}
	return merkle.ComputeRoot(leaves), nil
}

// topSignatures keeps the heaviest attesters' signatures, breaking weight
// ties by attester key so every node bundles the same set.
func topSignatures(atts []slice.Attestation) []slice.CheckpointSignature {
	ranked := make([]slice.Attestation, len(atts))
	copy(ranked, atts)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].AttesterWeight != ranked[j].AttesterWeight {
			return ranked[i].AttesterWeight > ranked[j].AttesterWeight
		}
		return bytes.Compare(ranked[i].AttesterPublicKey[:], ranked[j].AttesterPublicKey[:]) < 0
	})

	if len(ranked) > maxCheckpointSignatures {
		ranked = ranked[:maxCheckpointSignatures]
	}
	sigs := make([]slice.CheckpointSignature, len(ranked))
	for i, att := range ranked {
		sigs[i] = slice.CheckpointSignature{
			Attester:  att.AttesterPublicKey,
			Signature: att.Signature,
		}
	}
	return sigs
}

// pruneOrphans drops non-final records that fell off the canonical chain in
// a reorganization. Final records sit below the floor and cannot be
// orphaned.
func (t *Tracker) pruneOrphans(head forkchoice.Head, ancestor forkchoice.Head) error {
	canonical := map[crypto.Hash]struct{}{head.Hash: {}}
	cursor := head.Hash
	for cursor != ancestor.Hash {
		header, err := t.resolver.HeaderByHash(cursor)
		if err != nil {
			return fmt.Errorf("walk reorged branch: %w", err)
		}
		if header.Index <= ancestor.Index {
			break
		}
		cursor = header.PrevSliceHash
		canonical[cursor] = struct{}{}
	}

	for hash, rec := range t.records {
		if rec.status == Final || rec.index <= ancestor.Index {
			continue
		}
		if _, ok := canonical[hash]; !ok {
			delete(t.records, hash)
		}
	}
	return nil
}
