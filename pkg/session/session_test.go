package session

import (
	"encoding/hex"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/slog"
	"github.com/stretchr/testify/require"

	"github.com/holdemtable/engine/pkg/table"
)

func testLogger() slog.Logger {
	backend := slog.NewBackend(os.Stderr)
	log := backend.Logger("test")
	log.SetLevel(slog.LevelCritical)
	return log
}

func testIdentity(t *testing.T) string {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

type fakeSocket struct {
	mu       sync.Mutex
	messages []any
}

func (f *fakeSocket) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, v)
	return nil
}

func (f *fakeSocket) Close() error { return nil }

func (f *fakeSocket) last() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil
	}
	return f.messages[len(f.messages)-1]
}

func newTestManager(t *testing.T, seatCount int) *Manager {
	t.Helper()
	cfg := table.DefaultConfig()
	cfg.SeatCount = seatCount
	cfg.MinPlayers = 2
	cfg.ActionTimeout = 200 * time.Millisecond
	cfg.ShowdownDelay = time.Millisecond
	tb := table.New("t1", cfg, testLogger())
	return NewManager(tb, nil, testLogger())
}

func TestSitStartsHandWhenMinPlayersReached(t *testing.T) {
	m := newTestManager(t, 2)
	aliceID, bobID := testIdentity(t), testIdentity(t)
	aliceSock, bobSock := &fakeSocket{}, &fakeSocket{}

	require.NoError(t, m.Sit(aliceID, 0, aliceSock))
	require.Equal(t, table.Waiting, m.Table.CurrentStage())

	require.NoError(t, m.Sit(bobID, 1, bobSock))
	require.Equal(t, table.Preflop, m.Table.CurrentStage())

	require.NotNil(t, aliceSock.last())
	require.NotNil(t, bobSock.last())
}

func TestSitRejectsOccupiedSeat(t *testing.T) {
	m := newTestManager(t, 2)
	id := testIdentity(t)
	require.NoError(t, m.Sit(id, 0, &fakeSocket{}))
	err := m.Sit(testIdentity(t), 0, &fakeSocket{})
	require.Error(t, err)
}

func TestHandleActionFoldResolvesShowdown(t *testing.T) {
	m := newTestManager(t, 2)
	aliceID, bobID := testIdentity(t), testIdentity(t)
	require.NoError(t, m.Sit(aliceID, 0, &fakeSocket{}))
	require.NoError(t, m.Sit(bobID, 1, &fakeSocket{}))

	turnIdx := m.Table.CurrentTurnIndex()
	actingIdentity := aliceID
	if turnIdx == 1 {
		actingIdentity = bobID
	}

	err := m.HandleAction(actingIdentity, table.Action{SeatIndex: turnIdx, Kind: table.Fold})
	require.NoError(t, err)

	// Showdown resolves synchronously inside HandleAction's
	// maybeAdvanceAfterMutation, returning the table to Waiting at once;
	// after the configured ShowdownDelay the next hand starts
	// asynchronously and the table is back in Preflop.
	require.Eventually(t, func() bool {
		return m.Table.CurrentStage() == table.Waiting || m.Table.CurrentStage() == table.Preflop
	}, time.Second, 5*time.Millisecond)
}

func TestHandleDisconnectStartsReclaimWindow(t *testing.T) {
	m := newTestManager(t, 2)
	aliceID := testIdentity(t)
	require.NoError(t, m.Sit(aliceID, 0, &fakeSocket{}))
	require.NoError(t, m.Sit(testIdentity(t), 1, &fakeSocket{}))

	require.NoError(t, m.HandleDisconnect(aliceID))

	sock := &fakeSocket{}
	idx, err := m.HandleReclaim(aliceID, sock)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
}
