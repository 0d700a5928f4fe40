package table

import (
	"fmt"

	"github.com/holdemtable/engine/pkg/card"
)

// CanStartHand reports spec.md §4.B's start predicate: stage == waiting and
// at least MinPlayers occupied seats.
func (t *Table) CanStartHand() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canStartHandLocked()
}

func (t *Table) canStartHandLocked() bool {
	return t.Stage == Waiting && t.activeCount() >= t.Config.MinPlayers
}

// StartHand runs hand initialization (spec.md §4.B steps 1-8). It is a
// no-op returning an error if the start predicate does not hold.
func (t *Table) StartHand() error {
	return t.withLock(func() (bool, error) {
		if !t.canStartHandLocked() {
			return false, fmt.Errorf("%w: cannot start hand (stage=%s, active=%d)", ErrProtocol, t.Stage, t.activeCount())
		}
		t.startHandLocked()
		return true, nil
	})
}

func (t *Table) startHandLocked() {
	// 1. Fresh shuffled deck from the crypto-unpredictable source.
	t.Deck = card.NewDeck(t.Shuffle)
	t.Community = nil
	t.Pot = 0

	// 2. Reset per-hand seat fields.
	for _, s := range t.Seats {
		if s == nil {
			continue
		}
		s.CurrentBet = 0
		s.TotalContributed = 0
		s.Folded = false
		s.AllIn = (s.Chips == 0)
		s.HasHole = false
		s.ActedThisRound = false
	}

	// 3. Deal two hole cards per occupied seat, round-robin from seat 0.
	occupied := t.occupiedIndices()
	for round := 0; round < 2; round++ {
		for _, i := range occupied {
			c, ok := t.Deck.Draw()
			if !ok {
				// Unreachable with a valid seat count and fresh 52-card
				// deck, but guarded rather than silently corrupting state.
				continue
			}
			t.Seats[i].Hole[round] = c
			t.Seats[i].HasHole = true
		}
	}

	// 4. Advance dealerIndex to the next occupied seat, clockwise.
	if next, ok := t.nextOccupied(t.DealerIndex); ok {
		t.DealerIndex = next
	}

	// 5. Post blinds. Heads-up: dealer posts small blind and the other
	// occupied seat posts big blind and acts first on postflop streets.
	headsUp := len(occupied) == 2
	var sbIdx, bbIdx int
	if headsUp {
		sbIdx = t.DealerIndex
		bbIdx, _ = t.nextOccupied(sbIdx)
	} else {
		sbIdx, _ = t.nextOccupied(t.DealerIndex)
		bbIdx, _ = t.nextOccupied(sbIdx)
	}
	t.postBlindLocked(sbIdx, t.Config.SmallBlind)
	t.postBlindLocked(bbIdx, t.Config.BigBlind)

	// 6. Seed the round's bet level and raise increment.
	t.CurrentBetToCall = t.Config.BigBlind
	t.LastRaiseAmount = t.Config.BigBlind

	// 7. First-to-act preflop.
	if headsUp {
		t.TurnIndex = sbIdx
	} else {
		if next, ok := t.nextActionable(bbIdx); ok {
			t.TurnIndex = next
		} else {
			t.TurnIndex = bbIdx
		}
	}

	// 8. Transition to preflop.
	t.Stage = Preflop
}

// postBlindLocked deducts a blind from the seat, clamped to its stack.
func (t *Table) postBlindLocked(seatIdx, amount int) {
	s := t.Seats[seatIdx]
	if s == nil {
		return
	}
	pay := amount
	if pay > s.Chips {
		pay = s.Chips
	}
	s.Chips -= pay
	s.CurrentBet += pay
	s.TotalContributed += pay
	t.Pot += pay
	if s.Chips == 0 {
		s.AllIn = true
	}
}

// roundCompleteLocked implements spec.md §4.B's betting-round completion
// predicate: every unfolded, non-all-in seat has matched currentBetToCall
// and has acted since the last raise. The "only one unfolded seat remains"
// case is not decided here; advanceIfRoundCompleteLocked checks it first.
func (t *Table) roundCompleteLocked() bool {
	unfolded := 0
	for _, s := range t.Seats {
		if s == nil || s.Folded {
			continue
		}
		unfolded++
		if s.AllIn {
			continue
		}
		if s.CurrentBet != t.CurrentBetToCall || !s.ActedThisRound {
			return false
		}
	}
	return true
}

// AdvanceIfRoundComplete transitions to the next street (or showdown) if
// the current betting round is complete, and is also invoked after every
// fold to catch early termination (spec.md §4.B "early termination").
func (t *Table) AdvanceIfRoundComplete() error {
	return t.withLock(func() (bool, error) {
		return t.advanceIfRoundCompleteLocked()
	})
}

func (t *Table) advanceIfRoundCompleteLocked() (bool, error) {
	if t.Stage == Waiting || t.Stage == Showdown {
		return false, nil
	}

	unfoldedCount := 0
	var lastUnfolded int
	for i, s := range t.Seats {
		if s != nil && !s.Folded {
			unfoldedCount++
			lastUnfolded = i
		}
	}
	if unfoldedCount == 1 {
		t.Stage = Showdown
		t.TurnIndex = lastUnfolded
		return true, nil
	}

	if !t.roundCompleteLocked() {
		return false, nil
	}

	for {
		switch t.Stage {
		case Preflop:
			t.advanceStreetLocked(Flop, 3)
		case Flop:
			t.advanceStreetLocked(Turn, 1)
		case Turn:
			t.advanceStreetLocked(River, 1)
		case River:
			t.Stage = Showdown
		}
		if t.Stage == Showdown || t.anyActionableLocked() {
			break
		}
		// Every unfolded seat is all-in: no one can act on the street just
		// dealt, so the round is trivially complete again (spec.md §4.C
		// "transition to the next stage immediately"). Keep dealing
		// straight through to showdown instead of leaving TurnIndex
		// dangling on a seat that can never act.
	}
	return true, nil
}

// anyActionableLocked reports whether any seat can still be asked to act.
func (t *Table) anyActionableLocked() bool {
	for _, s := range t.Seats {
		if s.IsActionable() {
			return true
		}
	}
	return false
}

// advanceStreetLocked implements spec.md §4.B street advancement steps 1-6.
func (t *Table) advanceStreetLocked(next Stage, dealCount int) {
	// 1. Reset currentBet, not totalContributed.
	for _, s := range t.Seats {
		if s == nil {
			continue
		}
		s.CurrentBet = 0
		s.ActedThisRound = false
	}

	// 3. Deal to the board from the deck top. Burn cards are not dealt,
	// per spec.md's explicit "either is acceptable" allowance.
	for i := 0; i < dealCount; i++ {
		c, ok := t.Deck.Draw()
		if !ok {
			break
		}
		t.Community = append(t.Community, c)
	}

	// 4. Reset the round's bet level and raise increment.
	t.CurrentBetToCall = 0
	t.LastRaiseAmount = t.Config.BigBlind

	// 5. First-to-act postflop = next actionable after the dealer.
	if firstToAct, ok := t.nextActionable(t.DealerIndex); ok {
		t.TurnIndex = firstToAct
	}

	t.Stage = next
}
