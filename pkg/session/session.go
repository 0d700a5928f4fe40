// Package session implements the Session Layer of spec.md §4.E: mapping
// sockets to seats, seat-taking, disconnect/reconnect with a reclaim
// window, per-turn action timers, public/private broadcast, and snapshot
// persistence after every mutation.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/holdemtable/engine/pkg/store"
	"github.com/holdemtable/engine/pkg/table"
)

// Socket is the abstract bidirectional connection the Session Layer
// assumes (spec.md §1: "an ordered, reliable, message-oriented connection
// per participant"). pkg/ws supplies the concrete gorilla/websocket
// binding; tests and other transports can supply their own.
type Socket interface {
	Send(v any) error
	Close() error
}

// Banlist is the external collaborator that marks identities banned
// (spec.md §4.E sit rejection). NewManager installs one that bans nobody;
// callers with a real banlist replace Manager.Banlist.
type Banlist interface {
	IsBanned(identity string) bool
}

type allowAllBanlist struct{}

func (allowAllBanlist) IsBanned(string) bool { return false }

// Manager owns the socket map and timers for one Table, and is the single
// place that drives persistence + broadcast after every mutation,
// matching spec.md §5's "suspension points only around I/O" model: every
// Table mutation is fast and synchronous, then Manager fires off the I/O.
type Manager struct {
	mu sync.Mutex

	Table   *table.Table
	Store   *store.Store
	Banlist Banlist
	Log     slog.Logger

	sockets   map[int]Socket // seatIndex -> live socket
	lifecycle *lifecycleLog
	timer     ActionTimer
	timerSeat int
}

// NewManager wires a Manager around an existing table and store, and
// installs the OnMutation hook that drives broadcast + persistence.
func NewManager(t *table.Table, st *store.Store, log slog.Logger) *Manager {
	m := &Manager{
		Table:     t,
		Store:     st,
		Banlist:   allowAllBanlist{},
		Log:       log,
		sockets:   make(map[int]Socket),
		lifecycle: newLifecycleLog(log),
		timerSeat: -1,
	}
	t.OnMutation = m.afterMutation
	return m
}

// BindSocket attaches a live socket to a seat index (after authentication
// and sit, or after a successful reclaim).
func (m *Manager) BindSocket(seatIndex int, sock Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sockets[seatIndex] = sock
}

// UnbindSocket removes a seat's live socket association without touching
// table state (the caller separately calls Disconnect on the table).
func (m *Manager) UnbindSocket(seatIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sockets, seatIndex)
}

func (m *Manager) socketFor(seatIndex int) (Socket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sockets[seatIndex]
	return s, ok
}

// Sit handles a `sit` command (spec.md §4.E). It rejects an occupied seat,
// an identity already seated, or a banned identity; otherwise seats the
// participant and attempts to start a hand if the table is idle.
func (m *Manager) Sit(identity string, seatIndex int, sock Socket) error {
	if err := ValidateIdentityFormat(identity); err != nil {
		return fmt.Errorf("%w: %v", table.ErrProtocol, err)
	}
	if m.Banlist.IsBanned(identity) {
		return fmt.Errorf("%w: identity %q is banned", table.ErrProtocol, identity)
	}
	if err := m.Table.Sit(identity, seatIndex); err != nil {
		return err
	}
	m.BindSocket(seatIndex, sock)
	m.lifecycle.occupy(seatIndex, identity)

	if m.Table.CanStartHand() {
		if err := m.Table.StartHand(); err != nil {
			m.Log.Warnf("table %s: could not auto-start hand after sit: %v", m.Table.ID, err)
		} else {
			m.armActionTimer()
		}
	}
	return nil
}

// Leave handles an explicit `leave` command.
func (m *Manager) Leave(identity string) error {
	if err := m.Table.Leave(identity); err != nil {
		return err
	}
	return nil
}

// HandleDisconnect marks a seat's socket gone and starts the reclaim
// window, per spec.md §4.E ("the seat is NOT vacated").
func (m *Manager) HandleDisconnect(identity string) error {
	if err := m.Table.Disconnect(identity, time.Now()); err != nil {
		return err
	}
	m.mu.Lock()
	for i := range m.seatIndicesByIdentity(identity) {
		delete(m.sockets, i)
	}
	m.mu.Unlock()
	for i := range m.seatIndicesByIdentity(identity) {
		m.lifecycle.disconnect(i, identity)
	}
	return nil
}

func (m *Manager) seatIndicesByIdentity(identity string) map[int]bool {
	view := m.Table.PublicView()
	out := make(map[int]bool)
	for i, s := range view.Seats {
		if s.Occupied && s.Identity == identity {
			out[i] = true
		}
	}
	return out
}

func (m *Manager) snapshotSockets() map[int]Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]Socket, len(m.sockets))
	for k, v := range m.sockets {
		out[k] = v
	}
	return out
}

// HandleReclaim rebinds identity to its seat within the reconnect window
// and re-emits that seat's private view immediately (spec.md §4.E).
func (m *Manager) HandleReclaim(identity string, sock Socket) (int, error) {
	idx, ok, err := m.Table.Reclaim(identity, time.Now())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: no seat to reclaim for %q", table.ErrProtocol, identity)
	}
	m.BindSocket(idx, sock)
	m.lifecycle.occupy(idx, identity)
	m.sendPrivate(idx)
	return idx, nil
}

// SweepReclaims vacates any seat whose reclaim window lapsed, intended to
// be called periodically (e.g. alongside HealthSampler.StartPeriodic).
func (m *Manager) SweepReclaims() {
	vacated, err := m.Table.VacateLapsed(time.Now())
	if err != nil {
		m.Log.Warnf("table %s: reclaim sweep error: %v", m.Table.ID, err)
		return
	}
	for _, idx := range vacated {
		m.mu.Lock()
		delete(m.sockets, idx)
		m.mu.Unlock()
		m.lifecycle.vacate(idx)
	}
}

// HandleAction applies a participant action and manages the follow-on
// timer/showdown/next-hand flow (spec.md §4.C, §4.D, §4.E).
func (m *Manager) HandleAction(identity string, a table.Action) error {
	m.timer.Cancel()

	err := m.Table.ApplyAction(identity, a)
	if err != nil {
		// Cancel() above already invalidated the running timer, so a
		// rejected action re-arms a fresh, full-duration timer for the seat
		// on the clock. The time used before the rejected action is not
		// carried over (see DESIGN.md).
		switch m.Table.CurrentStage() {
		case table.Waiting, table.Showdown:
		default:
			m.armActionTimer()
		}
		return err
	}

	m.maybeAdvanceAfterMutation()
	return nil
}

// maybeAdvanceAfterMutation re-arms the timer for whoever is now on the
// clock, or resolves showdown and schedules the next hand.
func (m *Manager) maybeAdvanceAfterMutation() {
	switch m.Table.CurrentStage() {
	case table.Showdown:
		res, err := m.Table.Showdown()
		if err != nil {
			m.Log.Errorf("table %s: showdown resolution failed: %v", m.Table.ID, err)
			return
		}
		m.broadcastShowdown(res)
		if m.Store != nil {
			if err := m.Store.SaveHandRecord(toHandRecord(m.Table.ID, res)); err != nil {
				m.Log.Warnf("table %s: hand record persist failed: %v", m.Table.ID, err)
			}
		}
		time.AfterFunc(m.Table.Config.ShowdownDelay, func() {
			if m.Table.CanStartHand() {
				if err := m.Table.StartHand(); err != nil {
					m.Log.Warnf("table %s: could not start next hand: %v", m.Table.ID, err)
					return
				}
				m.armActionTimer()
			}
		})
	case table.Waiting:
		// No one to act.
	default:
		m.armActionTimer()
	}
}

// armActionTimer arms the timer for the seat currently on the clock.
func (m *Manager) armActionTimer() {
	m.armActionTimerForSeat(m.Table.CurrentTurnIndex())
}

func (m *Manager) armActionTimerForSeat(seatIndex int) {
	m.mu.Lock()
	m.timerSeat = seatIndex
	m.mu.Unlock()

	m.timer.Start(m.Table.Config.ActionTimeout, func() {
		kind, err := m.Table.AutoAct(seatIndex)
		if err != nil {
			m.Log.Warnf("table %s: auto-act on seat %d failed: %v", m.Table.ID, seatIndex, err)
			return
		}
		m.broadcastAutoFold(seatIndex, kind)
		m.maybeAdvanceAfterMutation()
	})
}

// afterMutation is the Table.OnMutation hook: broadcast + persist, the
// only suspension points per spec.md §5.
func (m *Manager) afterMutation() {
	m.broadcastPublic()
	if m.Store != nil {
		if err := m.Store.SaveSnapshot(m.Table.Snapshot()); err != nil {
			m.Log.Warnf("table %s: snapshot persist failed: %v", m.Table.ID, err)
		}
	}
}

func (m *Manager) broadcastPublic() {
	view := m.Table.PublicView()
	msg := TableStateMessage{
		Type:             MsgTableState,
		ID:               view.ID,
		Seats:            view.Seats,
		Community:        view.Community,
		Pot:              view.Pot,
		Stage:            view.Stage.String(),
		CurrentBetToCall: view.CurrentBetToCall,
		CurrentTurnIndex: view.TurnIndex,
		DealerIndex:      view.DealerIndex,
		LastRaiseAmount:  view.LastRaiseAmount,
		ActionTimeoutMs:  view.ActionTimeoutMs,
	}
	for i, sock := range m.snapshotSockets() {
		if err := sock.Send(msg); err != nil {
			m.Log.Warnf("table %s: broadcast to seat %d failed: %v", m.Table.ID, i, err)
		}
	}
	for i := range view.Seats {
		if view.Seats[i].Occupied {
			m.sendPrivate(i)
		}
	}
}

func (m *Manager) sendPrivate(seatIndex int) {
	sock, ok := m.socketFor(seatIndex)
	if !ok {
		return
	}
	pv, ok := m.Table.PrivateView(seatIndex)
	if !ok {
		return
	}
	msg := PrivateStateMessage{
		Type:    MsgPrivateState,
		MyIndex: pv.SeatIndex,
		MyHole:  pv.Hole[:],
		TimeMs:  int(m.Table.Config.ActionTimeout / time.Millisecond),
	}
	if err := sock.Send(msg); err != nil {
		m.Log.Warnf("table %s: private send to seat %d failed: %v", m.Table.ID, seatIndex, err)
	}
}

func (m *Manager) broadcastAutoFold(seatIndex int, _ table.ActionKind) {
	msg := AutoFoldMessage{Type: MsgAutoFold, SeatIndex: seatIndex}
	for i, sock := range m.snapshotSockets() {
		if err := sock.Send(msg); err != nil {
			m.Log.Warnf("table %s: auto_fold broadcast to seat %d failed: %v", m.Table.ID, i, err)
		}
	}
}

func (m *Manager) broadcastShowdown(res table.ShowdownResult) {
	extras := &ShowdownExtras{}
	for _, p := range res.Pots {
		extras.Winners = append(extras.Winners, PotWinners{PotIndex: p.PotIndex, Winners: p.Winners})
	}
	view := m.Table.PublicView()
	msg := TableStateMessage{
		Type:             MsgTableState,
		ID:               view.ID,
		Seats:            view.Seats,
		Community:        res.Board,
		Pot:              0,
		Stage:            table.Showdown.String(),
		CurrentBetToCall: view.CurrentBetToCall,
		CurrentTurnIndex: view.TurnIndex,
		DealerIndex:      res.Dealer,
		LastRaiseAmount:  view.LastRaiseAmount,
		ActionTimeoutMs:  view.ActionTimeoutMs,
		Extras:           extras,
	}
	for i, sock := range m.snapshotSockets() {
		if err := sock.Send(msg); err != nil {
			m.Log.Warnf("table %s: showdown broadcast to seat %d failed: %v", m.Table.ID, i, err)
		}
	}
}

func toHandRecord(tableID string, res table.ShowdownResult) store.HandRecord {
	rec := store.HandRecord{
		TableID: tableID,
		Dealer:  res.Dealer,
		Board:   res.Board,
		Reveals: make([]store.SeatReveal, 0, len(res.Reveals)),
	}
	for _, r := range res.Reveals {
		rec.Reveals = append(rec.Reveals, store.SeatReveal{
			SeatIndex:  r.SeatIndex,
			Hole:       r.Hole,
			HandDesc:   r.Value.Desc,
			Category:   r.Value.Category.String(),
		})
	}
	for _, p := range res.Pots {
		rec.Pot += p.Amount
		rec.Winners = append(rec.Winners, store.PotWinners{PotIndex: p.PotIndex, Winners: p.Winners})
	}
	return rec
}
