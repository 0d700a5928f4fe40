// Package evaluator resolves the best 5-card poker hand out of any 5-, 6-,
// or 7-card set and exposes a total order over hand values, grounding
// spec.md §4.D's showdown evaluation on the chehsunliu/poker library, the
// same dependency the teacher repo uses for hand evaluation.
package evaluator

import (
	"fmt"

	chsPoker "github.com/chehsunliu/poker"

	"github.com/holdemtable/engine/pkg/card"
)

// Category is the 9-way poker hand category ordering from spec.md §4.D.
type Category int

const (
	HighCard Category = iota
	Pair
	TwoPair
	Trips
	Straight
	Flush
	FullHouse
	Quads
	StraightFlush
)

func (c Category) String() string {
	switch c {
	case HighCard:
		return "high card"
	case Pair:
		return "pair"
	case TwoPair:
		return "two pair"
	case Trips:
		return "three of a kind"
	case Straight:
		return "straight"
	case Flush:
		return "flush"
	case FullHouse:
		return "full house"
	case Quads:
		return "four of a kind"
	case StraightFlush:
		return "straight flush"
	default:
		return "unknown"
	}
}

// Value is a hand's evaluated strength: a category plus a chehsunliu rank
// number within that category such that, across all hands, a strictly
// higher Value always beats a strictly lower one (chehsunliu ranks lower
// numbers as stronger, so Value inverts that for natural ordering: bigger
// Value always wins).
type Value struct {
	Category Category
	// score is monotonic with strength: higher score always beats lower
	// score, and equal score is always a true tie (chehsunliu resolves all
	// kicker tiebreaks into the rank number itself).
	score int32
	Best  []card.Card
	Desc  string
}

// Compare returns -1, 0, or 1 as a < b, a == b, a > b respectively. This
// satisfies antisymmetry, transitivity, and determinism (spec.md §8
// property 6) because it delegates entirely to chehsunliu's total order.
func Compare(a, b Value) int {
	switch {
	case a.score < b.score:
		return -1
	case a.score > b.score:
		return 1
	default:
		return 0
	}
}

// toChehsunliu converts our Card into chehsunliu/poker's string-coded Card.
func toChehsunliu(c card.Card) (chsPoker.Card, error) {
	var rankChar byte
	switch c.Rank {
	case card.Two:
		rankChar = '2'
	case card.Three:
		rankChar = '3'
	case card.Four:
		rankChar = '4'
	case card.Five:
		rankChar = '5'
	case card.Six:
		rankChar = '6'
	case card.Seven:
		rankChar = '7'
	case card.Eight:
		rankChar = '8'
	case card.Nine:
		rankChar = '9'
	case card.Ten:
		rankChar = 'T'
	case card.Jack:
		rankChar = 'J'
	case card.Queen:
		rankChar = 'Q'
	case card.King:
		rankChar = 'K'
	case card.Ace:
		rankChar = 'A'
	default:
		return chsPoker.Card(0), fmt.Errorf("evaluator: invalid rank %d", c.Rank)
	}

	var suitChar byte
	switch c.Suit {
	case card.Spades:
		suitChar = 's'
	case card.Hearts:
		suitChar = 'h'
	case card.Diamonds:
		suitChar = 'd'
	case card.Clubs:
		suitChar = 'c'
	default:
		return chsPoker.Card(0), fmt.Errorf("evaluator: invalid suit %q", c.Suit)
	}

	return chsPoker.NewCard(string([]byte{rankChar, suitChar})), nil
}

func categoryFromRankClass(rankClass int32) Category {
	// chehsunliu RankClass: 1=straight flush ... 9=high card, the mirror
	// image of our ascending Category ordering.
	switch rankClass {
	case 1:
		return StraightFlush
	case 2:
		return Quads
	case 3:
		return FullHouse
	case 4:
		return Flush
	case 5:
		return Straight
	case 6:
		return Trips
	case 7:
		return TwoPair
	case 8:
		return Pair
	default:
		return HighCard
	}
}

// Best evaluates the best 5-card hand out of hole plus community cards
// (5, 6, or 7 cards total) and returns its Value.
func Best(hole, community []card.Card) (Value, error) {
	all := make([]card.Card, 0, len(hole)+len(community))
	all = append(all, hole...)
	all = append(all, community...)
	if len(all) < 5 {
		return Value{}, fmt.Errorf("evaluator: need at least 5 cards, got %d", len(all))
	}

	chsCards := make([]chsPoker.Card, 0, len(all))
	for _, c := range all {
		cc, err := toChehsunliu(c)
		if err != nil {
			return Value{}, err
		}
		chsCards = append(chsCards, cc)
	}

	rank := chsPoker.Evaluate(chsCards)
	rankClass := chsPoker.RankClass(rank)

	best, err := bestFive(all, chsCards, rank)
	if err != nil {
		return Value{}, err
	}

	return Value{
		Category: categoryFromRankClass(rankClass),
		// chehsunliu ranks 1 as the strongest possible hand and larger
		// numbers as weaker; invert so that larger score means stronger,
		// matching the natural `a > b` reading used throughout pkg/table.
		score: -int32(rank),
		Best:  best,
		Desc:  chsPoker.RankString(rank),
	}, nil
}

// bestFive finds which 5 of the (5,6,7) supplied cards produce the target
// rank, for display purposes (spec.md requires revealing the winning hand).
func bestFive(all []card.Card, chsCards []chsPoker.Card, targetRank int32) ([]card.Card, error) {
	if len(all) == 5 {
		out := make([]card.Card, 5)
		copy(out, all)
		return out, nil
	}

	var result []card.Card
	var combine func(start int, chosen []int)
	combine = func(start int, chosen []int) {
		if result != nil {
			return
		}
		if len(chosen) == 5 {
			combo := make([]chsPoker.Card, 5)
			for i, idx := range chosen {
				combo[i] = chsCards[idx]
			}
			if chsPoker.Evaluate(combo) == targetRank {
				out := make([]card.Card, 5)
				for i, idx := range chosen {
					out[i] = all[idx]
				}
				result = out
			}
			return
		}
		for i := start; i < len(all) && result == nil; i++ {
			combine(i+1, append(chosen, i))
		}
	}
	combine(0, nil)

	if result == nil {
		return nil, fmt.Errorf("evaluator: no 5-card combination matched evaluated rank")
	}
	return result, nil
}
