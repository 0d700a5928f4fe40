package card

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedShuffler struct{ n int }

// Intn returns a rotating sequence rather than a true shuffle, just enough
// to exercise Shuffle's loop deterministically in tests.
func (f *fixedShuffler) Intn(n int) int {
	f.n++
	return (f.n * 7) % n
}

func TestNewDeckHas52DistinctCards(t *testing.T) {
	d := NewDeck(&fixedShuffler{})
	require.Equal(t, 52, d.Size())

	seen := make(map[Card]bool)
	for {
		c, ok := d.Draw()
		if !ok {
			break
		}
		require.False(t, seen[c], "duplicate card dealt: %v", c)
		seen[c] = true
	}
	require.Len(t, seen, 52)
}

func TestShuffleIsPermutationOfUniverse(t *testing.T) {
	d := NewDeck(&fixedShuffler{})
	got := d.Remaining()

	want := make(map[Card]bool)
	for _, c := range FullUniverse() {
		want[c] = true
	}
	require.Len(t, got, 52)
	for _, c := range got {
		require.True(t, want[c], "dealt card %v not in universe", c)
		delete(want, c)
	}
	require.Empty(t, want)
}

func TestDrawEmptiesDeck(t *testing.T) {
	d := NewDeck(&fixedShuffler{})
	for i := 0; i < 52; i++ {
		_, ok := d.Draw()
		require.True(t, ok)
	}
	_, ok := d.Draw()
	require.False(t, ok)
	require.Equal(t, 0, d.Size())
}

func TestNewDeckFromCardsRestoresOrder(t *testing.T) {
	cards := []Card{{Rank: Ace, Suit: Spades}, {Rank: Two, Suit: Hearts}}
	d := NewDeckFromCards(cards)
	require.Equal(t, 2, d.Size())
	c, ok := d.Draw()
	require.True(t, ok)
	require.Equal(t, cards[0], c)
}

func TestCardJSONRoundTrip(t *testing.T) {
	c := Card{Rank: Ten, Suit: Clubs}
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var out Card
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, c, out)
}

func TestCardJSONRejectsInvalidCard(t *testing.T) {
	var c Card
	err := json.Unmarshal([]byte(`{"rank":99,"suit":"z"}`), &c)
	require.Error(t, err)
}

func TestCardString(t *testing.T) {
	require.Equal(t, "As", Card{Rank: Ace, Suit: Spades}.String())
	require.Equal(t, "Th", Card{Rank: Ten, Suit: Hearts}.String())
	require.Equal(t, "2c", Card{Rank: Two, Suit: Clubs}.String())
}

func TestCardValid(t *testing.T) {
	require.True(t, Card{Rank: Ace, Suit: Spades}.Valid())
	require.False(t, Card{Rank: 1, Suit: Spades}.Valid())
	require.False(t, Card{Rank: Ace, Suit: "x"}.Valid())
}
