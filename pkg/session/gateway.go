package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/slog"

	"github.com/holdemtable/engine/pkg/table"
)

// Authenticator validates an opaque ticket and returns the participant
// identity it resolves to (spec.md §1: "the engine receives an
// already-validated participant identity"). Real ticket verification is the
// external auth collaborator's job; Gateway only needs something pluggable
// to call.
type Authenticator interface {
	Authenticate(ticket string) (identity string, err error)
}

// IdentityTicketAuthenticator is the degenerate Authenticator used when no
// external auth collaborator is wired in (local testing, the bundled
// cmd/tablesrv default): it treats the ticket as the identity itself,
// rejecting anything that does not at least look like a public key.
type IdentityTicketAuthenticator struct{}

func (IdentityTicketAuthenticator) Authenticate(ticket string) (string, error) {
	if err := ValidateIdentityFormat(ticket); err != nil {
		return "", err
	}
	return ticket, nil
}

// Gateway adapts the wire protocol of spec.md §6 to a Manager: it tracks
// each connection's authentication state and dispatches decoded envelopes
// to the corresponding Manager call. One Gateway serves one table, matching
// spec.md §3's "single instance per process (no multi-table in core)".
type Gateway struct {
	Manager *Manager
	Auth    Authenticator
	Log     slog.Logger

	mu           sync.Mutex
	socketByConn map[string]Socket
	identityByConn map[string]string
}

// NewGateway wires a Gateway around an existing Manager.
func NewGateway(m *Manager, auth Authenticator, log slog.Logger) *Gateway {
	if auth == nil {
		auth = IdentityTicketAuthenticator{}
	}
	return &Gateway{
		Manager:        m,
		Auth:           auth,
		Log:            log,
		socketByConn:   make(map[string]Socket),
		identityByConn: make(map[string]string),
	}
}

// HandleConnect implements ws.Handler.
func (g *Gateway) HandleConnect(id string, sock Socket) {
	g.mu.Lock()
	g.socketByConn[id] = sock
	g.mu.Unlock()
}

// HandleDisconnect implements ws.Handler: marks the bound identity's seat
// disconnected (reclaim window starts) if the connection had authenticated
// and sat down.
func (g *Gateway) HandleDisconnect(id string) {
	g.mu.Lock()
	identity, authenticated := g.identityByConn[id]
	delete(g.socketByConn, id)
	delete(g.identityByConn, id)
	g.mu.Unlock()

	if !authenticated {
		return
	}
	if err := g.Manager.HandleDisconnect(identity); err != nil {
		g.Log.Debugf("gateway: disconnect for unseated identity %q: %v", identity, err)
	}
}

// HandleMessage implements ws.Handler: decodes one client envelope and
// routes it (spec.md §6 Client -> Server messages).
func (g *Gateway) HandleMessage(id string, raw []byte) {
	g.mu.Lock()
	sock, hasSock := g.socketByConn[id]
	identity, authenticated := g.identityByConn[id]
	g.mu.Unlock()
	if !hasSock {
		return
	}

	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.Log.Warnf("gateway: malformed envelope from %s: %v\n%s", id, err, DumpMalformed(raw))
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: "malformed message"})
		return
	}

	switch env.Type {
	case MsgAuthenticateWithTicket:
		g.handleAuthenticate(id, sock, env.Payload)
	case MsgSit:
		g.handleSit(sock, identity, authenticated, env.Payload)
	case MsgAction:
		g.handleAction(sock, identity, authenticated, env.Payload)
	case MsgLeave:
		g.handleLeave(sock, identity, authenticated)
	default:
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: fmt.Sprintf("unknown message type %q", env.Type)})
	}
}

func (g *Gateway) handleAuthenticate(id string, sock Socket, payload json.RawMessage) {
	var p AuthenticateWithTicketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		sock.Send(AuthError{Type: MsgAuthError, Error: "malformed authenticate_with_ticket payload"})
		return
	}
	identity, err := g.Auth.Authenticate(p.Ticket)
	if err != nil {
		sock.Send(AuthError{Type: MsgAuthError, Error: err.Error()})
		return
	}
	g.mu.Lock()
	g.identityByConn[id] = identity
	g.mu.Unlock()
	sock.Send(AuthOK{Type: MsgAuthOK, TableID: g.Manager.Table.ID, Identity: identity})
}

func (g *Gateway) handleSit(sock Socket, identity string, authenticated bool, payload json.RawMessage) {
	if !authenticated {
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: "not authenticated"})
		return
	}
	var p SitPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: "malformed sit payload"})
		return
	}

	// A reconnecting identity within its reclaim window rebinds instead of
	// taking a fresh seat (spec.md §4.E).
	if idx, err := g.Manager.HandleReclaim(identity, sock); err == nil {
		sock.Send(Sat{Type: MsgSat, SeatIndex: idx})
		return
	}

	if err := g.Manager.Sit(identity, p.SeatIndex, sock); err != nil {
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: err.Error()})
		return
	}
	sock.Send(Sat{Type: MsgSat, SeatIndex: p.SeatIndex})
}

func (g *Gateway) handleAction(sock Socket, identity string, authenticated bool, payload json.RawMessage) {
	if !authenticated {
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: "not authenticated"})
		return
	}
	var p ActionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: "malformed action payload"})
		return
	}
	action, err := ParseAction(p.SeatIndex, p.Action)
	if err != nil {
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: err.Error()})
		return
	}
	// Protocol errors are surfaced to the socket (spec.md §7); illegal
	// action semantics are dropped with only a log line. In both cases the
	// Manager restarts the action timer of the seat on the clock.
	if err := g.Manager.HandleAction(identity, action); err != nil {
		if errors.Is(err, table.ErrIllegalAction) {
			g.Log.Debugf("gateway: dropped illegal action from %q: %v", identity, err)
			return
		}
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: err.Error()})
	}
}

func (g *Gateway) handleLeave(sock Socket, identity string, authenticated bool) {
	if !authenticated {
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: "not authenticated"})
		return
	}
	if err := g.Manager.Leave(identity); err != nil {
		sock.Send(ErrorMsg{Type: MsgErrorMsg, Error: err.Error()})
	}
}
