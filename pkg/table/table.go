package table

import (
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/slog"

	"github.com/holdemtable/engine/pkg/card"
)

// Table is the single authoritative instance for one table. Every mutating
// method takes mu, matching the teacher's pkg/poker.Table RWMutex
// discipline: no two mutations are ever observed interleaved.
type Table struct {
	mu sync.Mutex

	ID     string
	Config Config
	Log    slog.Logger

	Seats   []*Seat
	Deck    *card.Deck
	Shuffle card.Shuffler

	Community []card.Card

	Pot              int
	CurrentBetToCall int
	LastRaiseAmount  int
	DealerIndex      int
	TurnIndex        int
	Stage            Stage

	// halted is set permanently once an ErrInvariant fires; every mutating
	// entry point refuses further work once true (spec.md §7).
	halted   bool
	haltErr  error

	// OnMutation is invoked (outside the lock) after any successful
	// mutation, for the Session Layer to broadcast + snapshot. Nil-safe.
	OnMutation func()
}

// New constructs an idle Table with empty seats.
func New(id string, cfg Config, log slog.Logger) *Table {
	return &Table{
		ID:          id,
		Config:      cfg,
		Log:         log,
		Seats:       make([]*Seat, cfg.SeatCount),
		Shuffle:     card.CryptoShuffler(),
		DealerIndex: -1,
		Stage:       Waiting,
	}
}

// Halted reports whether the table has been fatally halted after an
// invariant violation, and the error that caused it.
func (t *Table) Halted() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted, t.haltErr
}

// CurrentTurnIndex safely reads the seat index currently on the clock.
func (t *Table) CurrentTurnIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.TurnIndex
}

// CurrentStage safely reads the table's current stage.
func (t *Table) CurrentStage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Stage
}

// halt marks the table permanently broken, logs a forensic dump of its
// state via spew, and returns the wrapped invariant error. Callers must
// hold mu.
func (t *Table) halt(cause error) error {
	t.halted = true
	t.haltErr = fmt.Errorf("%w: %v", ErrInvariant, cause)
	if t.Log != nil {
		t.Log.Errorf("table %s halted on invariant violation: %v\n%s", t.ID, cause, spew.Sdump(t.snapshotLocked()))
	}
	return t.haltErr
}

// withLock runs fn under mu, checking the halt flag first, and fires
// OnMutation after a successful, state-changing fn. fn returns true if it
// mutated state.
func (t *Table) withLock(fn func() (mutated bool, err error)) error {
	t.mu.Lock()
	if t.halted {
		err := t.haltErr
		t.mu.Unlock()
		return err
	}
	mutated, err := fn()
	if err == nil {
		if verr := t.checkInvariantsLocked(); verr != nil {
			err = t.halt(verr)
		}
	}
	t.mu.Unlock()

	if err == nil && mutated && t.OnMutation != nil {
		t.OnMutation()
	}
	return err
}

// occupiedIndices returns indices of non-nil seats.
func (t *Table) occupiedIndices() []int {
	var out []int
	for i, s := range t.Seats {
		if s != nil {
			out = append(out, i)
		}
	}
	return out
}

// activeCount counts occupied seats (spec.md §4.B start predicate counts
// occupied seats, not in-hand status, since waiting has no folded/all-in
// seats yet).
func (t *Table) activeCount() int {
	n := 0
	for _, s := range t.Seats {
		if s != nil {
			n++
		}
	}
	return n
}

// nextOccupied returns the next occupied seat index clockwise from idx
// (exclusive), wrapping. ok is false if no seat is occupied.
func (t *Table) nextOccupied(idx int) (int, bool) {
	n := len(t.Seats)
	if n == 0 {
		return 0, false
	}
	for i := 1; i <= n; i++ {
		j := (idx + i) % n
		if t.Seats[j] != nil {
			return j, true
		}
	}
	return 0, false
}

// nextActionable returns the next occupied, unfolded, non-all-in seat
// clockwise from idx (exclusive), wrapping.
func (t *Table) nextActionable(idx int) (int, bool) {
	n := len(t.Seats)
	if n == 0 {
		return 0, false
	}
	for i := 1; i <= n; i++ {
		j := (idx + i) % n
		if t.Seats[j].IsActionable() {
			return j, true
		}
	}
	return 0, false
}

// PublicSeat is the broadcast-safe projection of a Seat: no hole cards, no
// session handle, no reclaim deadline (spec.md §4.A).
type PublicSeat struct {
	Occupied         bool
	Identity         string
	Connected        bool
	Chips            int
	CurrentBet       int
	TotalContributed int
	Folded           bool
	AllIn            bool
	HasHole          bool
}

// PublicView is broadcast to every participant at the table.
type PublicView struct {
	ID               string
	Seats            []PublicSeat
	Community        []card.Card
	Pot              int
	Stage            Stage
	CurrentBetToCall int
	TurnIndex        int
	DealerIndex      int
	LastRaiseAmount  int
	ActionTimeoutMs  int
}

// PrivateView is sent to exactly one seat: its own hole cards and index.
type PrivateView struct {
	SeatIndex int
	Hole      [2]card.Card
	HasHole   bool
}

func publicSeat(s *Seat) PublicSeat {
	if s == nil {
		return PublicSeat{}
	}
	return PublicSeat{
		Occupied:         true,
		Identity:         s.Identity,
		Connected:        s.Connected,
		Chips:            s.Chips,
		CurrentBet:       s.CurrentBet,
		TotalContributed: s.TotalContributed,
		Folded:           s.Folded,
		AllIn:            s.AllIn,
		HasHole:          s.HasHole,
	}
}

// PublicView returns the current broadcast-safe projection of the table.
func (t *Table) PublicView() PublicView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publicViewLocked()
}

func (t *Table) publicViewLocked() PublicView {
	seats := make([]PublicSeat, len(t.Seats))
	for i, s := range t.Seats {
		seats[i] = publicSeat(s)
	}
	community := make([]card.Card, len(t.Community))
	copy(community, t.Community)
	return PublicView{
		ID:               t.ID,
		Seats:            seats,
		Community:        community,
		Pot:              t.Pot,
		Stage:            t.Stage,
		CurrentBetToCall: t.CurrentBetToCall,
		TurnIndex:        t.TurnIndex,
		DealerIndex:      t.DealerIndex,
		LastRaiseAmount:  t.LastRaiseAmount,
		ActionTimeoutMs:  int(t.Config.ActionTimeout / time.Millisecond),
	}
}

// PrivateView returns seatIndex's private projection. ok is false for an
// empty seat or out-of-range index.
func (t *Table) PrivateView(seatIndex int) (PrivateView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seatIndex < 0 || seatIndex >= len(t.Seats) || t.Seats[seatIndex] == nil {
		return PrivateView{}, false
	}
	s := t.Seats[seatIndex]
	return PrivateView{SeatIndex: seatIndex, Hole: s.Hole, HasHole: s.HasHole}, true
}

// checkInvariantsLocked verifies invariants 1 and 3-6 of spec.md §3.
// Invariant 2 (conservation against the initial stacks) is not checked
// here, since the table does not keep the initial stacks. Callers must
// hold mu.
func (t *Table) checkInvariantsLocked() error {
	// 1. pot == sum of totalContributed.
	sumContrib := 0
	for _, s := range t.Seats {
		if s != nil {
			sumContrib += s.TotalContributed
		}
	}
	if sumContrib != t.Pot {
		return fmt.Errorf("pot %d != sum(totalContributed) %d", t.Pot, sumContrib)
	}

	// 3. for unfolded non-all-in seats mid-round, currentBet <= currentBetToCall.
	for i, s := range t.Seats {
		if s == nil || s.Folded || s.AllIn {
			continue
		}
		if s.CurrentBet > t.CurrentBetToCall {
			return fmt.Errorf("seat %d currentBet %d exceeds currentBetToCall %d", i, s.CurrentBet, t.CurrentBetToCall)
		}
	}

	// 4. deck + dealt cards form a permutation of the 52-card universe, no dups.
	if err := t.checkCardConservationLocked(); err != nil {
		return err
	}

	// 5. at most one seat per identity.
	seen := make(map[string]int)
	for i, s := range t.Seats {
		if s == nil || s.Identity == "" {
			continue
		}
		if prev, ok := seen[s.Identity]; ok {
			return fmt.Errorf("identity %q occupies both seat %d and seat %d", s.Identity, prev, i)
		}
		seen[s.Identity] = i
	}

	// 6. turnIndex references an actionable seat unless waiting/showdown.
	if t.Stage != Waiting && t.Stage != Showdown {
		if t.TurnIndex < 0 || t.TurnIndex >= len(t.Seats) || !t.Seats[t.TurnIndex].IsActionable() {
			return fmt.Errorf("turnIndex %d does not reference an actionable seat", t.TurnIndex)
		}
	}

	return nil
}

// checkCardConservationLocked verifies no card appears twice across the
// deck, the community, and every seat's hole cards.
func (t *Table) checkCardConservationLocked() error {
	if t.Stage == Waiting {
		// Outside a hand there may be no deck at all yet.
		return nil
	}
	seen := make(map[card.Card]string, 52)
	mark := func(c card.Card, where string) error {
		if prev, ok := seen[c]; ok {
			return fmt.Errorf("card %s appears in both %s and %s", c, prev, where)
		}
		seen[c] = where
		return nil
	}
	for _, c := range t.Community {
		if err := mark(c, "community"); err != nil {
			return err
		}
	}
	for i, s := range t.Seats {
		if s == nil || !s.HasHole {
			continue
		}
		for _, c := range s.Hole {
			if err := mark(c, fmt.Sprintf("seat %d hole", i)); err != nil {
				return err
			}
		}
	}
	if t.Deck != nil {
		for _, c := range t.Deck.Remaining() {
			if err := mark(c, "deck"); err != nil {
				return err
			}
		}
	}
	if len(seen) != 52 {
		return fmt.Errorf("card universe has %d distinct cards in play, want 52", len(seen))
	}
	return nil
}

// snapshotLocked builds the struct handed to pkg/store for persistence and
// to spew for forensic dumps. Callers must hold mu.
func (t *Table) snapshotLocked() Snapshot {
	seats := make([]SeatSnapshot, len(t.Seats))
	for i, s := range t.Seats {
		if s == nil {
			continue
		}
		seats[i] = SeatSnapshot{
			Occupied:         true,
			Identity:         s.Identity,
			Connected:        s.Connected,
			ReclaimDeadline:  s.ReclaimDeadline,
			Chips:            s.Chips,
			CurrentBet:       s.CurrentBet,
			TotalContributed: s.TotalContributed,
			Folded:           s.Folded,
			AllIn:            s.AllIn,
			Hole:             s.Hole,
			HasHole:          s.HasHole,
			ActedThisRound:   s.ActedThisRound,
			PendingLeave:     s.PendingLeave,
		}
	}
	var deck []card.Card
	if t.Deck != nil {
		deck = t.Deck.Remaining()
	}
	return Snapshot{
		ID:               t.ID,
		Seats:            seats,
		Deck:             deck,
		Community:        append([]card.Card(nil), t.Community...),
		Pot:              t.Pot,
		CurrentBetToCall: t.CurrentBetToCall,
		LastRaiseAmount:  t.LastRaiseAmount,
		DealerIndex:      t.DealerIndex,
		TurnIndex:        t.TurnIndex,
		Stage:            t.Stage,
	}
}

// Snapshot builds a durable serialization of the table (spec.md §6).
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Restore rehydrates the table from a previously persisted snapshot
// (spec.md §4.E / S8 restart recovery). It clears any earlier halt, loads
// the snapshot, then verifies the invariants on the restored state and
// halts the table if they fail.
func (t *Table) Restore(snap Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	seats := make([]*Seat, len(snap.Seats))
	for i, ss := range snap.Seats {
		if !ss.Occupied {
			continue
		}
		seats[i] = &Seat{
			Identity:         ss.Identity,
			Connected:        ss.Connected,
			ReclaimDeadline:  ss.ReclaimDeadline,
			Chips:            ss.Chips,
			CurrentBet:       ss.CurrentBet,
			TotalContributed: ss.TotalContributed,
			Folded:           ss.Folded,
			AllIn:            ss.AllIn,
			Hole:             ss.Hole,
			HasHole:          ss.HasHole,
			ActedThisRound:   ss.ActedThisRound,
			PendingLeave:     ss.PendingLeave,
		}
	}

	t.Seats = seats
	if len(snap.Deck) > 0 {
		t.Deck = card.NewDeckFromCards(snap.Deck)
	} else {
		t.Deck = nil
	}
	t.Community = append([]card.Card(nil), snap.Community...)
	t.Pot = snap.Pot
	t.CurrentBetToCall = snap.CurrentBetToCall
	t.LastRaiseAmount = snap.LastRaiseAmount
	t.DealerIndex = snap.DealerIndex
	t.TurnIndex = snap.TurnIndex
	t.Stage = snap.Stage
	t.halted = false
	t.haltErr = nil

	if err := t.checkInvariantsLocked(); err != nil {
		return t.halt(fmt.Errorf("restored snapshot fails invariants: %w", err))
	}
	return nil
}
