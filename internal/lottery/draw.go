// Package lottery runs the deterministic per-slice producer selection.
// Every honest node computes the identical winner ordering from the
// identical validated presence set; the only entropy is the seed derived
// from the previous slice hash and the slice index.
package lottery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/temporatime"
)

var (
	ErrNotCollecting        = errors.New("lottery: draw is closed to new entries")
	ErrNotDrawing           = errors.New("lottery: draw is not ready to resolve")
	ErrNotResolved          = errors.New("lottery: draw has not resolved yet")
	ErrNoParticipants       = errors.New("lottery: no eligible participants")
	ErrDuplicateParticipant = errors.New("lottery: participant already entered")
	ErrSlotOutOfRange       = errors.New("lottery: slot index out of range")
	ErrSlotsExhausted       = errors.New("lottery: all production slots exhausted")
)

// Phase is the draw's position in its per-slice state machine.
type Phase uint8

const (
	// Collecting accepts validated presence proofs.
	Collecting Phase = iota
	// Drawing is closed to new input while tickets are computed.
	Drawing
	// Resolved has the winner and backups fixed.
	Resolved
)

func (p Phase) String() string {
	switch p {
	case Collecting:
		return "collecting"
	case Drawing:
		return "drawing"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Winner is one awarded production slot.
type Winner struct {
	PublicKey crypto.PublicKey
	Kind      slice.PresenceKind
	Ticket    crypto.Hash
}

// Draw accumulates the validated presence set for one slice interval and
// resolves it into an ordered winner list. A draw is owned by the chain
// coordinator and is not safe for concurrent use.
type Draw struct {
	prevHash crypto.Hash
	index    temporatime.Slice
	phase    Phase
	entries  map[crypto.PublicKey]slice.PresenceKind
	winners  []Winner
}

// NewDraw opens a collecting draw for the slice extending prevHash
func NewDraw(prevHash crypto.Hash, index temporatime.Slice) *Draw {
	return &Draw{
		prevHash: prevHash,
		index:    index,
		entries:  make(map[crypto.PublicKey]slice.PresenceKind),
	}
}

// Phase returns the draw's current phase
func (d *Draw) Phase() Phase {
	return d.phase
}

// Index returns the slice index the draw selects a producer for
func (d *Draw) Index() temporatime.Slice {
	return d.index
}

// Submit enters a validated presence proof into the draw. Only the identity
// and variant matter for selection; the proof itself is discarded once the
// slice closes.
func (d *Draw) Submit(proof *slice.PresenceProof) error {
	if d.phase != Collecting {
		return ErrNotCollecting
	}
	if _, ok := d.entries[proof.PublicKey]; ok {
		return ErrDuplicateParticipant
	}
	d.entries[proof.PublicKey] = proof.Kind
	return nil
}

// Participants returns the number of entries collected so far
func (d *Draw) Participants() int {
	return len(d.entries)
}

// Close ends the collecting phase; the draw no longer accepts entries
func (d *Draw) Close() {
	if d.phase == Collecting {
		d.phase = Drawing
	}
}

// Seed derives the deterministic lottery seed for a slice
func Seed(prevHash crypto.Hash, index temporatime.Slice) crypto.Hash {
	buf := make([]byte, 0, len(seedPrefix)+crypto.HashSize+8)
	buf = append(buf, seedPrefix...)
	buf = append(buf, prevHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(index))
	return crypto.HashData(buf)
}

// Ticket derives a participant's draw value for a seed
func Ticket(seed crypto.Hash, pub crypto.PublicKey) crypto.Hash {
	buf := make([]byte, 0, len(ticketPrefix)+crypto.HashSize+crypto.Ed25519PublicSize)
	buf = append(buf, ticketPrefix...)
	buf = append(buf, seed[:]...)
	buf = append(buf, pub[:]...)
	return crypto.HashData(buf)
}

// Resolve computes tickets, ranks them and fixes the winner ordering. The
// two class caps are applied simultaneously by skipping ranked tickets
// whose class has exhausted its share. A draw with no participants resolves
// empty and reports ErrNoParticipants; the caller skips the interval.
func (d *Draw) Resolve() error {
	if d.phase == Collecting {
		d.Close()
	}
	if d.phase != Drawing {
		return ErrNotDrawing
	}
	d.phase = Resolved

	if len(d.entries) == 0 {
		return ErrNoParticipants
	}

	seed := Seed(d.prevHash, d.index)
	ranked := make([]Winner, 0, len(d.entries))
	for pub, kind := range d.entries {
		ranked = append(ranked, Winner{
			PublicKey: pub,
			Kind:      kind,
			Ticket:    Ticket(seed, pub),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Ticket.Compare(ranked[j].Ticket) < 0
	})

	var automated, human int
	for _, candidate := range ranked {
		if len(d.winners) == SlotsPerDraw {
			break
		}
		switch candidate.Kind {
		case slice.VerifiedHumanPresence:
			if human == humanSlotCap {
				continue
			}
			human++
		default:
			if automated == automatedSlotCap {
				continue
			}
			automated++
		}
		d.winners = append(d.winners, candidate)
	}

	return nil
}

// Winners returns the resolved slot ordering, primary first
func (d *Draw) Winners() ([]Winner, error) {
	if d.phase != Resolved {
		return nil, ErrNotResolved
	}
	return d.winners, nil
}

// WinnerAt returns the holder of a production slot
func (d *Draw) WinnerAt(slot int) (Winner, error) {
	if d.phase != Resolved {
		return Winner{}, ErrNotResolved
	}
	if slot < 0 || slot >= SlotsPerDraw {
		return Winner{}, ErrSlotOutOfRange
	}
	if slot >= len(d.winners) {
		return Winner{}, ErrSlotsExhausted
	}
	return d.winners[slot], nil
}

// EligibleProducer returns the winner whose slot is open at the given
// instant. Slot s holds the window [start+s*grace, start+(s+1)*grace); once
// every awarded slot's deadline has passed the interval is skipped and the
// chain advances without new presence rewards.
func (d *Draw) EligibleProducer(now temporatime.TemporaTime) (Winner, int, error) {
	if d.phase != Resolved {
		return Winner{}, 0, ErrNotResolved
	}

	start := d.index.SliceStart()
	if now.Before(start) {
		return Winner{}, 0, ErrSlotOutOfRange
	}

	slot := int(now.Sub(start) / GracePeriod)
	if slot >= len(d.winners) {
		return Winner{}, 0, ErrSlotsExhausted
	}
	return d.winners[slot], slot, nil
}
