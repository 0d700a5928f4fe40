// Package table implements the Table State, Hand Sequencer, Action Arbiter
// and Showdown Resolver: the authoritative, single-writer game engine for
// one No-Limit Texas Hold'em table. All mutating methods on *Table serialize
// through an internal mutex, mirroring the teacher's RWMutex-guarded
// pkg/poker.Table.
package table

import (
	"errors"
	"time"

	"github.com/holdemtable/engine/pkg/card"
	"github.com/holdemtable/engine/pkg/evaluator"
)

// Stage is a hand's position in the betting sequence.
type Stage int

const (
	Waiting Stage = iota
	Preflop
	Flop
	Turn
	River
	Showdown
)

func (s Stage) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Preflop:
		return "preflop"
	case Flop:
		return "flop"
	case Turn:
		return "turn"
	case River:
		return "river"
	case Showdown:
		return "showdown"
	default:
		return "unknown"
	}
}

// ActionKind is the type of a participant action.
type ActionKind int

const (
	Fold ActionKind = iota
	Check
	Call
	Raise
)

// Action is a single participant command, per spec.md §6.
type Action struct {
	SeatIndex int
	Kind      ActionKind
	Amount    int
}

// Seat holds one ring position's state. A nil *Seat is an empty slot.
type Seat struct {
	Identity         string
	Connected        bool
	ReclaimDeadline  time.Time
	Chips            int
	CurrentBet       int
	TotalContributed int
	Folded           bool
	AllIn            bool
	Hole             [2]card.Card
	HasHole          bool
	ActedThisRound   bool
	// PendingLeave marks a seat that asked to leave mid-hand: it is folded
	// in place (so its contribution stays in the pot) rather than removed
	// outright, and is actually vacated once the hand ends.
	PendingLeave bool
}

// IsActionable reports whether the seat can be asked to act: occupied,
// unfolded, not all-in.
func (s *Seat) IsActionable() bool {
	return s != nil && !s.Folded && !s.AllIn
}

// Config is the embedder-supplied table configuration (spec.md §6).
type Config struct {
	SeatCount       int
	SmallBlind      int
	BigBlind        int
	MinPlayers      int
	StartingStack   int
	ActionTimeout   time.Duration
	ReconnectWindow time.Duration
	ShowdownDelay   time.Duration
}

// DefaultConfig returns reasonable defaults, mirroring the teacher's
// constructor defaults in pkg/poker.NewTable.
func DefaultConfig() Config {
	return Config{
		SeatCount:       6,
		SmallBlind:      1,
		BigBlind:        2,
		MinPlayers:      2,
		StartingStack:   1000,
		ActionTimeout:   30 * time.Second,
		ReconnectWindow: 60 * time.Second,
		ShowdownDelay:   2 * time.Second,
	}
}

// Errors per the taxonomy of spec.md §7.
var (
	// ErrProtocol covers bad seat index, unauthenticated action, acting out
	// of turn: surfaced to the offending socket, never mutates state.
	ErrProtocol = errors.New("table: protocol error")
	// ErrIllegalAction covers raise-below-minimum, check-with-bet-to-call:
	// the action is dropped and the Session Layer restarts the seat's
	// timer at full duration.
	ErrIllegalAction = errors.New("table: illegal action")
	// ErrInvariant marks a fatal engine bug: chip conservation broken, a
	// duplicate card dealt. Detecting this halts the table.
	ErrInvariant = errors.New("table: invariant violation")
)

// Pot is one side-pot (or the main pot) with its eligible seat set.
type Pot struct {
	Amount   int
	Eligible []int // seat indices
}

// SeatShowdownResult is one seat's revealed result at showdown, used both
// for the broadcast event and the hand-completion record (pkg/store).
type SeatShowdownResult struct {
	SeatIndex int
	Hole      [2]card.Card
	Value     evaluator.Value
}

// PotResult records one pot's winners and per-winner payout.
type PotResult struct {
	PotIndex int
	Amount   int
	Winners  []int
	PerSeat  map[int]int
}

// ShowdownResult is the full outcome of resolving a hand at showdown.
type ShowdownResult struct {
	Board   []card.Card
	Dealer  int
	Reveals []SeatShowdownResult
	Pots    []PotResult
}

// SeatSnapshot is the durable form of a Seat (spec.md §6: snapshot must
// include hole cards so an in-progress hand can resume).
type SeatSnapshot struct {
	Occupied         bool
	Identity         string
	Connected        bool
	ReclaimDeadline  time.Time
	Chips            int
	CurrentBet       int
	TotalContributed int
	Folded           bool
	AllIn            bool
	Hole             [2]card.Card
	HasHole          bool
	ActedThisRound   bool
	PendingLeave     bool
}

// Snapshot is the durable serialization of a Table, keyed by the table's
// ID in pkg/store.
type Snapshot struct {
	ID               string
	Seats            []SeatSnapshot
	Deck             []card.Card
	Community        []card.Card
	Pot              int
	CurrentBetToCall int
	LastRaiseAmount  int
	DealerIndex      int
	TurnIndex        int
	Stage            Stage
}
