package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holdemtable/engine/pkg/card"
	"github.com/holdemtable/engine/pkg/table"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	snap := table.Snapshot{
		ID:               "table-1",
		Stage:            table.Flop,
		Pot:              42,
		CurrentBetToCall: 10,
		LastRaiseAmount:  4,
		DealerIndex:      1,
		TurnIndex:        2,
		Deck:             []card.Card{{Rank: card.Ace, Suit: card.Spades}},
		Community:        []card.Card{{Rank: card.Two, Suit: card.Hearts}},
		Seats: []table.SeatSnapshot{
			{Occupied: true, Identity: "alice", Chips: 900, CurrentBet: 10, TotalContributed: 10, HasHole: true,
				Hole: [2]card.Card{{Rank: card.King, Suit: card.Clubs}, {Rank: card.Queen, Suit: card.Diamonds}}},
			{},
		},
	}

	require.NoError(t, s.SaveSnapshot(snap))

	loaded, ok, err := s.LoadSnapshot("table-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.Stage, loaded.Stage)
	require.Equal(t, snap.Pot, loaded.Pot)
	require.Equal(t, snap.Deck, loaded.Deck)
	require.Equal(t, snap.Community, loaded.Community)
	require.Len(t, loaded.Seats, 2)
	require.Equal(t, "alice", loaded.Seats[0].Identity)
	require.True(t, loaded.Seats[0].HasHole)
	require.False(t, loaded.Seats[1].Occupied)
}

func TestLoadSnapshotMissingReturnsNotOK(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.LoadSnapshot("does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSnapshotOverwriteIsLastWriteWins(t *testing.T) {
	s := openTestStore(t)

	first := table.Snapshot{ID: "t1", Stage: table.Preflop, Pot: 3}
	second := table.Snapshot{ID: "t1", Stage: table.Flop, Pot: 9}

	require.NoError(t, s.SaveSnapshot(first))
	require.NoError(t, s.SaveSnapshot(second))

	loaded, ok, err := s.LoadSnapshot("t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, table.Flop, loaded.Stage)
	require.Equal(t, 9, loaded.Pot)
}

func TestHandRecordPersist(t *testing.T) {
	s := openTestStore(t)

	rec := HandRecord{
		TableID: "table-1",
		Dealer:  0,
		Board:   []card.Card{{Rank: card.Ace, Suit: card.Spades}},
		Pot:     100,
		Winners: []PotWinners{{PotIndex: 0, Winners: []int{1}}},
		Reveals: []SeatReveal{{SeatIndex: 1, HandDesc: "Pair of Aces", Category: "pair"}},
	}
	require.NoError(t, s.SaveHandRecord(rec))
}

func TestAllTableIDs(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveSnapshot(table.Snapshot{ID: "a"}))
	require.NoError(t, s.SaveSnapshot(table.Snapshot{ID: "b"}))

	ids, err := s.AllTableIDs()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}
