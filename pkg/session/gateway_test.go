package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holdemtable/engine/pkg/table"
)

func envelope(t *testing.T, typ ClientMessageType, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	env, err := json.Marshal(ClientEnvelope{Type: typ, Payload: raw})
	require.NoError(t, err)
	return env
}

func newTestGateway(t *testing.T, seatCount int) *Gateway {
	t.Helper()
	m := newTestManager(t, seatCount)
	return NewGateway(m, nil, testLogger())
}

func TestGatewayAuthenticateThenSit(t *testing.T) {
	g := newTestGateway(t, 2)
	sock := &fakeSocket{}
	g.HandleConnect("c1", sock)

	ticket := testIdentity(t)
	g.HandleMessage("c1", envelope(t, MsgAuthenticateWithTicket, AuthenticateWithTicketPayload{Ticket: ticket}))
	ok, isOK := sock.last().(AuthOK)
	require.True(t, isOK)
	require.Equal(t, ticket, ok.Identity)

	g.HandleMessage("c1", envelope(t, MsgSit, SitPayload{SeatIndex: 0}))
	sat, isSat := sock.last().(Sat)
	require.True(t, isSat)
	require.Equal(t, 0, sat.SeatIndex)
}

func TestGatewayRejectsActionBeforeAuthentication(t *testing.T) {
	g := newTestGateway(t, 2)
	sock := &fakeSocket{}
	g.HandleConnect("c1", sock)

	g.HandleMessage("c1", envelope(t, MsgAction, ActionPayload{SeatIndex: 0, Action: ActionDescriptor{Type: "fold"}}))
	msg, isErr := sock.last().(ErrorMsg)
	require.True(t, isErr)
	require.Contains(t, msg.Error, "not authenticated")
}

func TestGatewayMalformedEnvelope(t *testing.T) {
	g := newTestGateway(t, 2)
	sock := &fakeSocket{}
	g.HandleConnect("c1", sock)

	g.HandleMessage("c1", []byte("not json"))
	msg, isErr := sock.last().(ErrorMsg)
	require.True(t, isErr)
	require.Equal(t, "malformed message", msg.Error)
}

func TestGatewayDisconnectStartsReclaimThenSitReclaims(t *testing.T) {
	g := newTestGateway(t, 2)
	aliceTicket, bobTicket := testIdentity(t), testIdentity(t)

	aliceSock := &fakeSocket{}
	g.HandleConnect("alice-conn", aliceSock)
	g.HandleMessage("alice-conn", envelope(t, MsgAuthenticateWithTicket, AuthenticateWithTicketPayload{Ticket: aliceTicket}))
	g.HandleMessage("alice-conn", envelope(t, MsgSit, SitPayload{SeatIndex: 0}))

	bobSock := &fakeSocket{}
	g.HandleConnect("bob-conn", bobSock)
	g.HandleMessage("bob-conn", envelope(t, MsgAuthenticateWithTicket, AuthenticateWithTicketPayload{Ticket: bobTicket}))
	g.HandleMessage("bob-conn", envelope(t, MsgSit, SitPayload{SeatIndex: 1}))

	g.HandleDisconnect("alice-conn")

	newAliceSock := &fakeSocket{}
	g.HandleConnect("alice-conn-2", newAliceSock)
	g.HandleMessage("alice-conn-2", envelope(t, MsgAuthenticateWithTicket, AuthenticateWithTicketPayload{Ticket: aliceTicket}))
	g.HandleMessage("alice-conn-2", envelope(t, MsgSit, SitPayload{SeatIndex: 0}))

	sat, isSat := newAliceSock.last().(Sat)
	require.True(t, isSat)
	require.Equal(t, 0, sat.SeatIndex)
}

func TestGatewayActionFlowsToTable(t *testing.T) {
	g := newTestGateway(t, 2)
	aliceTicket, bobTicket := testIdentity(t), testIdentity(t)

	aliceSock := &fakeSocket{}
	g.HandleConnect("alice", aliceSock)
	g.HandleMessage("alice", envelope(t, MsgAuthenticateWithTicket, AuthenticateWithTicketPayload{Ticket: aliceTicket}))
	g.HandleMessage("alice", envelope(t, MsgSit, SitPayload{SeatIndex: 0}))

	bobSock := &fakeSocket{}
	g.HandleConnect("bob", bobSock)
	g.HandleMessage("bob", envelope(t, MsgAuthenticateWithTicket, AuthenticateWithTicketPayload{Ticket: bobTicket}))
	g.HandleMessage("bob", envelope(t, MsgSit, SitPayload{SeatIndex: 1}))

	require.Equal(t, table.Preflop, g.Manager.Table.CurrentStage())
	turn := g.Manager.Table.CurrentTurnIndex()
	actingConn := "alice"
	if turn == 1 {
		actingConn = "bob"
	}

	g.HandleMessage(actingConn, envelope(t, MsgAction, ActionPayload{SeatIndex: turn, Action: ActionDescriptor{Type: "fold"}}))

	require.Eventually(t, func() bool {
		return g.Manager.Table.CurrentStage() == table.Waiting || g.Manager.Table.CurrentStage() == table.Preflop
	}, time.Second, 5*time.Millisecond)
	require.NotNil(t, aliceSock.last())
	require.NotNil(t, bobSock.last())
}
