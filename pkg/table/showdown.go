package table

import (
	"fmt"
	"sort"

	"github.com/holdemtable/engine/pkg/card"
	"github.com/holdemtable/engine/pkg/evaluator"
)

// Showdown resolves the hand once stage == Showdown: evaluates every
// unfolded seat's best 7-card hand, builds side-pots from contribution
// levels, distributes chips, clears per-hand state, and returns the result
// for broadcast and the hand-completion record (spec.md §4.D).
func (t *Table) Showdown() (ShowdownResult, error) {
	var result ShowdownResult
	err := t.withLock(func() (bool, error) {
		if t.Stage != Showdown {
			return false, fmt.Errorf("%w: Showdown called outside showdown stage (%s)", ErrProtocol, t.Stage)
		}
		var err error
		result, err = t.resolveShowdownLocked()
		if err != nil {
			return false, err
		}
		t.endHandLocked()
		return true, nil
	})
	return result, err
}

// unfoldedIndices returns the seat indices still in the hand (not folded).
func (t *Table) unfoldedIndices() []int {
	var out []int
	for i, s := range t.Seats {
		if s != nil && !s.Folded {
			out = append(out, i)
		}
	}
	return out
}

func (t *Table) resolveShowdownLocked() (ShowdownResult, error) {
	unfolded := t.unfoldedIndices()

	pots, err := t.buildSidePotsLocked()
	if err != nil {
		return ShowdownResult{}, err
	}

	// Uncontested win: every other seat folded, most commonly preflop
	// before any community cards are dealt. The sole remaining seat takes
	// every pot outright — there is nothing to compare its hand against,
	// and it may hold fewer than the 5 cards evaluator.Best requires.
	if len(unfolded) == 1 {
		sole := unfolded[0]
		potResults := make([]PotResult, 0, len(pots))
		for idx, p := range pots {
			potResults = append(potResults, PotResult{
				PotIndex: idx,
				Amount:   p.Amount,
				Winners:  []int{sole},
				PerSeat:  map[int]int{sole: p.Amount},
			})
			t.Seats[sole].Chips += p.Amount
		}
		return ShowdownResult{
			Board:  append([]card.Card(nil), t.Community...),
			Dealer: t.DealerIndex,
			Pots:   potResults,
		}, nil
	}

	values := make(map[int]evaluator.Value, len(unfolded))
	reveals := make([]SeatShowdownResult, 0, len(unfolded))
	for _, i := range unfolded {
		s := t.Seats[i]
		v, err := evaluator.Best(s.Hole[:], t.Community)
		if err != nil {
			return ShowdownResult{}, fmt.Errorf("%w: evaluating seat %d: %v", ErrInvariant, i, err)
		}
		values[i] = v
		reveals = append(reveals, SeatShowdownResult{SeatIndex: i, Hole: s.Hole, Value: v})
	}

	potResults := make([]PotResult, 0, len(pots))
	for idx, p := range pots {
		winners := bestHandWinners(p.Eligible, values)
		perSeat, err := t.splitPotLocked(p.Amount, winners)
		if err != nil {
			return ShowdownResult{}, err
		}
		potResults = append(potResults, PotResult{
			PotIndex: idx,
			Amount:   p.Amount,
			Winners:  winners,
			PerSeat:  perSeat,
		})
		for seat, amount := range perSeat {
			t.Seats[seat].Chips += amount
		}
	}

	return ShowdownResult{
		Board:   append([]card.Card(nil), t.Community...),
		Dealer:  t.DealerIndex,
		Reveals: reveals,
		Pots:    potResults,
	}, nil
}

// bestHandWinners returns the eligible seats tying for the best value.
func bestHandWinners(eligible []int, values map[int]evaluator.Value) []int {
	var winners []int
	var best evaluator.Value
	first := true
	for _, i := range eligible {
		v, ok := values[i]
		if !ok {
			continue
		}
		if first || evaluator.Compare(v, best) > 0 {
			best = v
			winners = []int{i}
			first = false
		} else if evaluator.Compare(v, best) == 0 {
			winners = append(winners, i)
		}
	}
	sort.Ints(winners)
	return winners
}

// splitPotLocked integer-divides amount among winners, awarding the
// remainder to the winner seated closest clockwise after the dealer
// (spec.md §4.D distribution rule, a deliberate deviation from "first
// winner by seat index").
func (t *Table) splitPotLocked(amount int, winners []int) (map[int]int, error) {
	if len(winners) == 0 {
		return nil, fmt.Errorf("%w: pot of %d has no eligible winners", ErrInvariant, amount)
	}
	share := amount / len(winners)
	remainder := amount % len(winners)

	perSeat := make(map[int]int, len(winners))
	for _, w := range winners {
		perSeat[w] = share
	}
	if remainder > 0 {
		closest := closestClockwise(t.DealerIndex, winners, len(t.Seats))
		perSeat[closest] += remainder
	}
	return perSeat, nil
}

// closestClockwise returns whichever of candidates is nearest to (after)
// dealerIndex going clockwise around a ring of size n.
func closestClockwise(dealerIndex int, candidates []int, n int) int {
	best := candidates[0]
	bestDist := n + 1
	for _, c := range candidates {
		dist := ((c - dealerIndex) % n + n) % n
		if dist == 0 {
			dist = n
		}
		if dist < bestDist {
			bestDist = dist
			best = c
		}
	}
	return best
}

// buildSidePotsLocked implements spec.md §4.D side-pot construction:
// folded seats' contributions count toward sizing but not eligibility.
func (t *Table) buildSidePotsLocked() ([]Pot, error) {
	type contributor struct {
		seat   int
		amount int
		folded bool
	}
	var contributors []contributor
	levelSet := make(map[int]bool)
	for i, s := range t.Seats {
		if s == nil || s.TotalContributed == 0 {
			continue
		}
		contributors = append(contributors, contributor{seat: i, amount: s.TotalContributed, folded: s.Folded})
		levelSet[s.TotalContributed] = true
	}
	if len(contributors) == 0 {
		return nil, nil
	}

	levels := make([]int, 0, len(levelSet))
	for l := range levelSet {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	var pots []Pot
	prev := 0
	for _, level := range levels {
		var eligible []int
		count := 0
		for _, c := range contributors {
			if c.amount >= level {
				count++
				if !c.folded {
					eligible = append(eligible, c.seat)
				}
			}
		}
		amount := (level - prev) * count
		if amount > 0 {
			sort.Ints(eligible)
			switch {
			case len(eligible) > 0:
				pots = append(pots, Pot{Amount: amount, Eligible: eligible})
			case len(pots) > 0:
				// Every contributor at this level folded (possible only if a
				// folded seat's contribution exceeds every remaining seat's);
				// fold the forfeited chips forward into the prior pot.
				pots[len(pots)-1].Amount += amount
			}
		}
		prev = level
	}

	return mergeAdjacentEqualPots(pots), nil
}

// mergeAdjacentEqualPots collapses consecutive pots that ended up with the
// identical eligible set (e.g. a folded seat's smaller contribution level
// produces a boundary with no eligibility change) into one pot, so the
// showdown event reports one pot per distinct eligible set rather than one
// per raw contribution level.
func mergeAdjacentEqualPots(pots []Pot) []Pot {
	if len(pots) < 2 {
		return pots
	}
	merged := []Pot{pots[0]}
	for _, p := range pots[1:] {
		last := &merged[len(merged)-1]
		if sameEligible(last.Eligible, p.Eligible) {
			last.Amount += p.Amount
			continue
		}
		merged = append(merged, p)
	}
	return merged
}

func sameEligible(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// endHandLocked clears per-hand state and returns the table to waiting,
// ready for the next StartHand call (spec.md §4.D "Completion"). A seat
// that left mid-hand (folded in place by Leave rather than removed
// outright, to keep its contribution in the pot) is actually vacated here,
// now that the hand it was still owed a piece of has paid out.
func (t *Table) endHandLocked() {
	t.Community = nil
	t.Deck = nil
	t.Pot = 0
	t.CurrentBetToCall = 0
	t.LastRaiseAmount = 0
	t.TurnIndex = 0
	for i, s := range t.Seats {
		if s == nil {
			continue
		}
		if s.PendingLeave {
			t.Seats[i] = nil
			continue
		}
		s.CurrentBet = 0
		s.TotalContributed = 0
		s.Folded = false
		s.HasHole = false
		s.ActedThisRound = false
		s.AllIn = false
	}
	t.Stage = Waiting
}
