package table

import (
	"fmt"
	"time"
)

// Sit seats identity at seatIndex with the configured starting stack
// (spec.md §4.E). It rejects an occupied seat or an identity already
// seated elsewhere. It does not attempt to start a hand; callers (the
// Session Layer) do that separately so they can broadcast first.
func (t *Table) Sit(identity string, seatIndex int) error {
	return t.withLock(func() (bool, error) {
		if seatIndex < 0 || seatIndex >= len(t.Seats) {
			return false, fmt.Errorf("%w: seat index %d out of range", ErrProtocol, seatIndex)
		}
		if t.Seats[seatIndex] != nil {
			return false, fmt.Errorf("%w: seat %d already occupied", ErrProtocol, seatIndex)
		}
		for i, s := range t.Seats {
			if s != nil && s.Identity == identity {
				return false, fmt.Errorf("%w: identity %q already occupies seat %d", ErrProtocol, identity, i)
			}
		}
		t.Seats[seatIndex] = &Seat{
			Identity:  identity,
			Connected: true,
			Chips:     t.Config.StartingStack,
		}
		return true, nil
	})
}

// Leave handles an explicit `leave` command, as opposed to a disconnect
// which starts the reclaim window instead. When the table is idle between
// hands the seat is vacated outright. Mid-hand it cannot be removed
// outright: its chips already committed this hand are counted in the pot,
// and nil-ing the seat would break the pot == sum(totalContributed)
// invariant and halt the table. Instead it is folded in place — its
// contribution stays live and in play for whoever wins the pot — and the
// seat is actually vacated once the hand concludes (endHandLocked).
func (t *Table) Leave(identity string) error {
	return t.withLock(func() (bool, error) {
		for i, s := range t.Seats {
			if s == nil || s.Identity != identity {
				continue
			}
			if t.Stage == Waiting {
				t.Seats[i] = nil
				return true, nil
			}
			// At showdown the pot is not yet paid out: keep the seat (and
			// its claim on the pot) until endHandLocked vacates it.
			if s.Folded || t.Stage == Showdown {
				s.PendingLeave = true
				return true, nil
			}
			s.Folded = true
			s.PendingLeave = true
			if t.TurnIndex == i {
				t.advanceTurnLocked()
			}
			if _, err := t.advanceIfRoundCompleteLocked(); err != nil {
				return true, err
			}
			return true, nil
		}
		return false, fmt.Errorf("%w: identity %q is not seated", ErrProtocol, identity)
	})
}

// Disconnect clears the seat's live session without vacating it, starting
// the reclaim window (spec.md §4.E). The seat keeps its action timer.
func (t *Table) Disconnect(identity string, now time.Time) error {
	return t.withLock(func() (bool, error) {
		for _, s := range t.Seats {
			if s != nil && s.Identity == identity {
				s.Connected = false
				s.ReclaimDeadline = now.Add(t.Config.ReconnectWindow)
				return true, nil
			}
		}
		return false, fmt.Errorf("%w: identity %q is not seated", ErrProtocol, identity)
	})
}

// Reclaim rebinds identity to its existing seat within the reconnect
// window. ok is false if identity has no reserved seat to reclaim.
func (t *Table) Reclaim(identity string, now time.Time) (seatIndex int, ok bool, err error) {
	err = t.withLock(func() (bool, error) {
		for i, s := range t.Seats {
			if s != nil && s.Identity == identity && !s.Connected {
				if now.After(s.ReclaimDeadline) {
					return false, fmt.Errorf("%w: reclaim window for %q has lapsed", ErrProtocol, identity)
				}
				s.Connected = true
				seatIndex, ok = i, true
				return true, nil
			}
		}
		return false, fmt.Errorf("%w: identity %q has no pending reclaim", ErrProtocol, identity)
	})
	return seatIndex, ok, err
}

// VacateLapsed removes any seat whose reclaim window has passed without a
// reconnect, as required by spec.md §4.E. Returns the vacated seat indices.
func (t *Table) VacateLapsed(now time.Time) ([]int, error) {
	var vacated []int
	err := t.withLock(func() (bool, error) {
		for i, s := range t.Seats {
			if s == nil || s.Connected || s.ReclaimDeadline.IsZero() {
				continue
			}
			if now.After(s.ReclaimDeadline) {
				t.Seats[i] = nil
				vacated = append(vacated, i)
			}
		}
		return len(vacated) > 0, nil
	})
	return vacated, err
}

// AutoAct applies the timeout auto-action for seatIndex: auto-check if
// legal, otherwise auto-fold (spec.md §4.E action timer expiry).
func (t *Table) AutoAct(seatIndex int) (ActionKind, error) {
	var kind ActionKind
	err := t.withLock(func() (bool, error) {
		if seatIndex < 0 || seatIndex >= len(t.Seats) || t.Seats[seatIndex] == nil {
			return false, fmt.Errorf("%w: seat %d is empty", ErrProtocol, seatIndex)
		}
		s := t.Seats[seatIndex]
		if t.TurnIndex != seatIndex || s.Folded || s.AllIn {
			return false, fmt.Errorf("%w: seat %d is not on the clock", ErrProtocol, seatIndex)
		}
		identity := s.Identity
		if s.CurrentBet == t.CurrentBetToCall {
			kind = Check
		} else {
			kind = Fold
		}
		mutated, err := t.applyActionLocked(identity, Action{SeatIndex: seatIndex, Kind: kind})
		return mutated, err
	})
	return kind, err
}
