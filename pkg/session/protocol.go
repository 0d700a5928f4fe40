package session

import (
	"encoding/json"
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/holdemtable/engine/pkg/card"
	"github.com/holdemtable/engine/pkg/table"
)

// ClientMessageType is the `type` discriminator of a client-to-server
// frame (spec.md §6).
type ClientMessageType string

const (
	MsgAuthenticateWithTicket ClientMessageType = "authenticate_with_ticket"
	MsgSit                    ClientMessageType = "sit"
	MsgAction                 ClientMessageType = "action"
	MsgLeave                  ClientMessageType = "leave"
)

// ServerMessageType is the `type` discriminator of a server-to-client
// frame (spec.md §6).
type ServerMessageType string

const (
	MsgAuthOK        ServerMessageType = "auth_ok"
	MsgAuthError     ServerMessageType = "auth_error"
	MsgSat           ServerMessageType = "sat"
	MsgErrorMsg      ServerMessageType = "error_msg"
	MsgTableState    ServerMessageType = "table_state"
	MsgPrivateState  ServerMessageType = "private_state"
	MsgAutoFold      ServerMessageType = "auto_fold"
)

// ClientEnvelope is the outer shape of every inbound frame: a type tag plus
// a raw payload decoded per-type.
type ClientEnvelope struct {
	Type    ClientMessageType `json:"type"`
	Payload json.RawMessage   `json:"payload"`
}

// AuthenticateWithTicketPayload carries the opaque ticket the external
// auth collaborator validates (spec.md §1, §6).
type AuthenticateWithTicketPayload struct {
	Ticket string `json:"ticket"`
}

// SitPayload requests a seat.
type SitPayload struct {
	SeatIndex int `json:"seatIndex"`
}

// ActionPayload carries a participant's game action.
type ActionPayload struct {
	SeatIndex int              `json:"seatIndex"`
	Action    ActionDescriptor `json:"action"`
}

// ActionDescriptor is the `{ type, amount? }` action body.
type ActionDescriptor struct {
	Type   string `json:"type"`
	Amount int    `json:"amount,omitempty"`
}

// ParseAction converts the wire action descriptor into a table.Action.
func ParseAction(seatIndex int, d ActionDescriptor) (table.Action, error) {
	var kind table.ActionKind
	switch d.Type {
	case "fold":
		kind = table.Fold
	case "check":
		kind = table.Check
	case "call":
		kind = table.Call
	case "raise":
		kind = table.Raise
	default:
		return table.Action{}, fmt.Errorf("%w: unknown action type %q", table.ErrProtocol, d.Type)
	}
	return table.Action{SeatIndex: seatIndex, Kind: kind, Amount: d.Amount}, nil
}

// AuthOK / AuthError / Sat / ErrorMsg are the simple server acks.
type AuthOK struct {
	Type     ServerMessageType `json:"type"`
	TableID  string            `json:"tableId"`
	Identity string            `json:"identity"`
}

type AuthError struct {
	Type  ServerMessageType `json:"type"`
	Error string            `json:"error"`
}

type Sat struct {
	Type      ServerMessageType `json:"type"`
	SeatIndex int               `json:"seatIndex"`
}

type ErrorMsg struct {
	Type  ServerMessageType `json:"type"`
	Error string            `json:"error"`
}

// TableStateMessage is the public broadcast frame (spec.md §6), with an
// optional `extras` carrying a showdown summary on the completion frame.
type TableStateMessage struct {
	Type             ServerMessageType  `json:"type"`
	ID               string             `json:"id"`
	Seats            []table.PublicSeat `json:"seats"`
	Community        []card.Card        `json:"community"`
	Pot              int                `json:"pot"`
	Stage            string             `json:"stage"`
	CurrentBetToCall int                `json:"currentBetToCall"`
	CurrentTurnIndex int                `json:"currentTurnIndex"`
	DealerIndex      int                `json:"dealerIndex"`
	LastRaiseAmount  int                `json:"lastRaiseAmount"`
	ActionTimeoutMs  int                `json:"actionTimeoutMs"`
	Extras           *ShowdownExtras    `json:"extras,omitempty"`
}

// ShowdownExtras carries per-pot winners on the completion table_state frame.
type ShowdownExtras struct {
	Winners []PotWinners `json:"winners"`
}

// PotWinners is one pot's winning seats.
type PotWinners struct {
	PotIndex int   `json:"potIndex"`
	Winners  []int `json:"winners"`
}

// PrivateStateMessage is sent to exactly one seat.
type PrivateStateMessage struct {
	Type    ServerMessageType `json:"type"`
	MyIndex int               `json:"myIndex"`
	MyHole  []card.Card       `json:"myHole"`
	TimeMs  int               `json:"timeMs"`
}

// AutoFoldMessage announces a timer-driven auto-action.
type AutoFoldMessage struct {
	Type      ServerMessageType `json:"type"`
	SeatIndex int               `json:"seatIndex"`
}

// DumpMalformed renders a malformed inbound payload for diagnostic
// logging, grounded in the teacher's one use of spew.Sdump for protocol
// diagnostics (pokerui/golib/commands.go).
func DumpMalformed(raw []byte) string {
	return spew.Sdump(raw)
}
