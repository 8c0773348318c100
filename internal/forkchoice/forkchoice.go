// Package forkchoice selects the canonical head among competing chain tips
// and governs reorganizations. Head comparison is a fully deterministic
// total order, so every node adopting the same set of heads converges on
// the same canonical chain without coordination.
package forkchoice

import (
	"errors"
	"fmt"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/temporatime"
)

// MaxReorgDepth is the largest number of canonical slices a reorganization
// may discard.
const MaxReorgDepth = 100

var (
	ErrReorgTooDeep        = errors.New("forkchoice: reorg deeper than permitted")
	ErrReorgBelowFinalized = errors.New("forkchoice: reorg crosses finality checkpoint")
	ErrHeadNotFound        = errors.New("forkchoice: no computable common ancestor")
	ErrNotBetter           = errors.New("forkchoice: candidate does not beat canonical head")
)

// Head is a pointer to one candidate chain tip known to the node.
type Head struct {
	Hash             crypto.Hash
	Index            temporatime.Slice
	CumulativeWeight uint64
}

// Compare imposes the total order over heads: higher slice index wins
// outright; on a tie higher cumulative weight wins; on a further tie the
// numerically smaller hash wins. Returns +1 when a is canonical-preferred,
// -1 when b is, and 0 only for the identical head.
func Compare(a, b Head) int {
	switch {
	case a.Index > b.Index:
		return 1
	case a.Index < b.Index:
		return -1
	}
	switch {
	case a.CumulativeWeight > b.CumulativeWeight:
		return 1
	case a.CumulativeWeight < b.CumulativeWeight:
		return -1
	}
	// Smaller hash wins the final tiebreak.
	return b.Hash.Compare(a.Hash)
}

// Better reports whether a beats b under the canonical total order
func Better(a, b Head) bool {
	return Compare(a, b) > 0
}

// Resolver looks up stored slice headers by hash; the store provides it.
type Resolver interface {
	HeaderByHash(h crypto.Hash) (slice.Header, error)
}

// EventKind tags fork-choice events published to the finality tracker.
type EventKind uint8

const (
	// EventNewHead: the canonical chain was extended in place.
	EventNewHead EventKind = iota + 1
	// EventReorg: the canonical chain switched to a competing branch.
	EventReorg
)

// Event is a fork-choice state change. The finality tracker is a pure
// consumer of these events rather than querying fork choice synchronously,
// which keeps the dependency one-way.
type Event struct {
	Kind EventKind
	Head Head
	// Ancestor is the common ancestor of the old and new chains; only set
	// for EventReorg.
	Ancestor Head
}

// ForkChoice tracks the canonical head, the set of competing heads and the
// finalized floor. It is owned by the chain coordinator; methods must not
// be called concurrently.
type ForkChoice struct {
	resolver  Resolver
	canonical Head
	heads     map[crypto.Hash]Head
	finalized Head
	events    chan Event
}

// New creates a fork choice rooted at the given genesis head
func New(resolver Resolver, genesis Head) *ForkChoice {
	return &ForkChoice{
		resolver:  resolver,
		canonical: genesis,
		heads:     map[crypto.Hash]Head{genesis.Hash: genesis},
		finalized: genesis,
		events:    make(chan Event, 64),
	}
}

// Canonical returns the current canonical head
func (f *ForkChoice) Canonical() Head {
	return f.canonical
}

// Finalized returns the floor below which reorganization is forbidden
func (f *ForkChoice) Finalized() Head {
	return f.finalized
}

// Heads returns all currently-known candidate tips
func (f *ForkChoice) Heads() []Head {
	out := make([]Head, 0, len(f.heads))
	for _, h := range f.heads {
		out = append(out, h)
	}
	return out
}

// Events returns the channel fork-choice state changes are published on
func (f *ForkChoice) Events() <-chan Event {
	return f.events
}

// SetFinalized raises the finalized floor. Heads that can no longer win
// (at or below the floor) are pruned.
func (f *ForkChoice) SetFinalized(h Head) {
	f.finalized = h
	for hash, head := range f.heads {
		if head.Index <= h.Index && hash != f.canonical.Hash {
			delete(f.heads, hash)
		}
	}
}

// ExtendCanonical advances the canonical chain with a direct child of the
// current head.
func (f *ForkChoice) ExtendCanonical(h Head) {
	delete(f.heads, f.canonical.Hash)
	f.heads[h.Hash] = h
	f.canonical = h
	f.publish(Event{Kind: EventNewHead, Head: h})
}

// ObserveHead registers a candidate tip and switches to it when it beats
// the canonical head and the reorganization is admissible. A candidate
// that loses the comparison is kept as a known head and ErrNotBetter is
// returned; heads violating the reorg rules surface the specific
// violation so the caller can penalize the peer that sent them.
func (f *ForkChoice) ObserveHead(h Head, parentHash crypto.Hash) error {
	delete(f.heads, parentHash)
	f.heads[h.Hash] = h

	if parentHash == f.canonical.Hash {
		delete(f.heads, f.canonical.Hash)
		f.canonical = h
		f.publish(Event{Kind: EventNewHead, Head: h})
		return nil
	}

	if !Better(h, f.canonical) {
		return ErrNotBetter
	}
	return f.reorg(h)
}

// reorg validates and applies a switch of the canonical chain to head h.
func (f *ForkChoice) reorg(h Head) error {
	ancestor, err := f.commonAncestor(f.canonical, h)
	if err != nil {
		return err
	}

	if f.canonical.Index-ancestor.Index > MaxReorgDepth {
		return ErrReorgTooDeep
	}
	if ancestor.Index < f.finalized.Index {
		return ErrReorgBelowFinalized
	}

	f.canonical = h
	f.publish(Event{Kind: EventReorg, Head: h, Ancestor: ancestor})
	return nil
}

// commonAncestor walks both branches back through stored headers until
// they meet.
func (f *ForkChoice) commonAncestor(a, b Head) (Head, error) {
	ca, err := f.cursor(a)
	if err != nil {
		return Head{}, err
	}
	cb, err := f.cursor(b)
	if err != nil {
		return Head{}, err
	}

	for ca.hash != cb.hash {
		switch {
		case ca.index > cb.index:
			if ca, err = f.step(ca); err != nil {
				return Head{}, err
			}
		case cb.index > ca.index:
			if cb, err = f.step(cb); err != nil {
				return Head{}, err
			}
		default:
			if ca, err = f.step(ca); err != nil {
				return Head{}, err
			}
			if cb, err = f.step(cb); err != nil {
				return Head{}, err
			}
		}
	}

	return Head{Hash: ca.hash, Index: ca.index, CumulativeWeight: ca.weight}, nil
}

type walkCursor struct {
	hash   crypto.Hash
	index  temporatime.Slice
	weight uint64
	prev   crypto.Hash
}

func (f *ForkChoice) cursor(h Head) (walkCursor, error) {
	header, err := f.resolver.HeaderByHash(h.Hash)
	if err != nil {
		return walkCursor{}, fmt.Errorf("%w: %v", ErrHeadNotFound, err)
	}
	return walkCursor{
		hash:   h.Hash,
		index:  header.Index,
		weight: header.CumulativeWeight,
		prev:   header.PrevSliceHash,
	}, nil
}

func (f *ForkChoice) step(c walkCursor) (walkCursor, error) {
	if c.index == 0 {
		return walkCursor{}, ErrHeadNotFound
	}
	header, err := f.resolver.HeaderByHash(c.prev)
	if err != nil {
		return walkCursor{}, fmt.Errorf("%w: %v", ErrHeadNotFound, err)
	}
	return walkCursor{
		hash:   c.prev,
		index:  header.Index,
		weight: header.CumulativeWeight,
		prev:   header.PrevSliceHash,
	}, nil
}

// publish never blocks the coordinator; if the tracker lags behind the
// buffered channel the oldest event is dropped in favour of the newest,
// since finality only needs the latest view to recompute depths.
func (f *ForkChoice) publish(e Event) {
	select {
	case f.events <- e:
	default:
		select {
		case <-f.events:
		default:
		}
		select {
		case f.events <- e:
		default:
		}
	}
}
