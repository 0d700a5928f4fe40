// Package store persists table snapshots and hand-completion records to
// sqlite, grounded on the teacher's pkg/server/internal/db package: the
// same driver, the same INSERT-OR-REPLACE-by-stable-key pattern, JSON blobs
// for the nested structures.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/holdemtable/engine/pkg/card"
	"github.com/holdemtable/engine/pkg/table"
)

// Store wraps a sqlite connection holding the table_snapshots and
// hand_records tables.
type Store struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path and ensures its schema
// exists, mirroring the teacher's db.NewDB/createTables pair.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS table_snapshots (
			table_id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			pot INTEGER NOT NULL,
			current_bet_to_call INTEGER NOT NULL,
			last_raise_amount INTEGER NOT NULL,
			dealer_index INTEGER NOT NULL,
			turn_index INTEGER NOT NULL,
			seats_json TEXT NOT NULL,
			deck_json TEXT NOT NULL,
			community_json TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("store: creating table_snapshots: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS hand_records (
			id TEXT PRIMARY KEY,
			table_id TEXT NOT NULL,
			dealer INTEGER NOT NULL,
			board_json TEXT NOT NULL,
			pot INTEGER NOT NULL,
			winners_json TEXT NOT NULL,
			reveals_json TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("store: creating hand_records: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot writes (or overwrites) the current table snapshot keyed by
// its table ID (the table_id column). Last-write-wins on the same key per
// spec.md §5's cancellation/ordering note.
func (s *Store) SaveSnapshot(snap table.Snapshot) error {
	seatsJSON, err := json.Marshal(snap.Seats)
	if err != nil {
		return fmt.Errorf("store: marshaling seats: %w", err)
	}
	deckJSON, err := json.Marshal(snap.Deck)
	if err != nil {
		return fmt.Errorf("store: marshaling deck: %w", err)
	}
	communityJSON, err := json.Marshal(snap.Community)
	if err != nil {
		return fmt.Errorf("store: marshaling community: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO table_snapshots (
			table_id, stage, pot, current_bet_to_call, last_raise_amount,
			dealer_index, turn_index, seats_json, deck_json, community_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_id) DO UPDATE SET
			stage = excluded.stage,
			pot = excluded.pot,
			current_bet_to_call = excluded.current_bet_to_call,
			last_raise_amount = excluded.last_raise_amount,
			dealer_index = excluded.dealer_index,
			turn_index = excluded.turn_index,
			seats_json = excluded.seats_json,
			deck_json = excluded.deck_json,
			community_json = excluded.community_json,
			updated_at = excluded.updated_at
	`,
		snap.ID, snap.Stage.String(), snap.Pot, snap.CurrentBetToCall, snap.LastRaiseAmount,
		snap.DealerIndex, snap.TurnIndex, string(seatsJSON), string(deckJSON), string(communityJSON), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store: saving snapshot for table %s: %w", snap.ID, err)
	}
	return nil
}

// LoadSnapshot reads back a previously persisted snapshot by table ID.
// ok is false if no snapshot exists for that key (a fresh table).
func (s *Store) LoadSnapshot(tableID string) (snap table.Snapshot, ok bool, err error) {
	var stageStr, seatsJSON, deckJSON, communityJSON string
	row := s.db.QueryRow(`
		SELECT stage, pot, current_bet_to_call, last_raise_amount, dealer_index,
		       turn_index, seats_json, deck_json, community_json
		FROM table_snapshots WHERE table_id = ?
	`, tableID)
	err = row.Scan(&stageStr, &snap.Pot, &snap.CurrentBetToCall, &snap.LastRaiseAmount,
		&snap.DealerIndex, &snap.TurnIndex, &seatsJSON, &deckJSON, &communityJSON)
	if err == sql.ErrNoRows {
		return table.Snapshot{}, false, nil
	}
	if err != nil {
		return table.Snapshot{}, false, fmt.Errorf("store: loading snapshot for table %s: %w", tableID, err)
	}

	snap.ID = tableID
	snap.Stage = parseStage(stageStr)
	if err := json.Unmarshal([]byte(seatsJSON), &snap.Seats); err != nil {
		return table.Snapshot{}, false, fmt.Errorf("store: unmarshaling seats: %w", err)
	}
	if err := json.Unmarshal([]byte(deckJSON), &snap.Deck); err != nil {
		return table.Snapshot{}, false, fmt.Errorf("store: unmarshaling deck: %w", err)
	}
	if err := json.Unmarshal([]byte(communityJSON), &snap.Community); err != nil {
		return table.Snapshot{}, false, fmt.Errorf("store: unmarshaling community: %w", err)
	}
	return snap, true, nil
}

func parseStage(s string) table.Stage {
	switch s {
	case "preflop":
		return table.Preflop
	case "flop":
		return table.Flop
	case "turn":
		return table.Turn
	case "river":
		return table.River
	case "showdown":
		return table.Showdown
	default:
		return table.Waiting
	}
}

// HandRecord is the structured "hand completed" record emitted to the
// external store (spec.md §6), enriched with per-seat revealed hole cards
// and the resolved hand description (supplemented beyond the minimal
// {tableId, dealer, board, pot, winners} shape, grounded in
// moonhole-HoldemIJ/holdem/settlement.go's ShowdownPlayerResult).
type HandRecord struct {
	TableID string
	Dealer  int
	Board   []card.Card
	Pot     int
	Winners []PotWinners
	Reveals []SeatReveal
}

// PotWinners is one pot's winning seats, mirroring the wire shape of
// spec.md §6's extras object.
type PotWinners struct {
	PotIndex int
	Winners  []int
}

// SeatReveal is one seat's revealed showdown hand.
type SeatReveal struct {
	SeatIndex int
	Hole      [2]card.Card
	HandDesc  string
	Category  string
}

// SaveHandRecord appends one hand-completion record, generating a new
// record ID via google/uuid (grounded in the wider pack's table-ID
// convention, not the teacher, which has no equivalent generator).
func (s *Store) SaveHandRecord(rec HandRecord) error {
	boardJSON, err := json.Marshal(rec.Board)
	if err != nil {
		return fmt.Errorf("store: marshaling board: %w", err)
	}
	winnersJSON, err := json.Marshal(rec.Winners)
	if err != nil {
		return fmt.Errorf("store: marshaling winners: %w", err)
	}
	revealsJSON, err := json.Marshal(rec.Reveals)
	if err != nil {
		return fmt.Errorf("store: marshaling reveals: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(`
		INSERT INTO hand_records (id, table_id, dealer, board_json, pot, winners_json, reveals_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, rec.TableID, rec.Dealer, string(boardJSON), rec.Pot, string(winnersJSON), string(revealsJSON))
	if err != nil {
		return fmt.Errorf("store: saving hand record for table %s: %w", rec.TableID, err)
	}
	return nil
}

// AllTableIDs returns every table ID with a persisted snapshot.
// cmd/tablesrv does not call it: it rehydrates only the one table named by
// its -table flag.
func (s *Store) AllTableIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT table_id FROM table_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("store: listing table ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning table id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
