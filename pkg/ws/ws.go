// Package ws is the concrete gorilla/websocket binding of session.Socket:
// the "ordered, reliable, message-oriented connection per participant"
// spec.md §1 assumes but leaves unspecified. It owns the upgrade handshake,
// a buffered per-connection write pump, and the read loop that hands each
// raw inbound frame to a Handler.
package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/holdemtable/engine/pkg/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checking is the embedder's job (spec.md §1 leaves transport
	// framing and admin surface out of scope); accept all here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Conn adapts a *websocket.Conn to session.Socket: Send marshals v as JSON
// and queues it on a buffered channel drained by a dedicated write pump, so
// a slow client's backpressure never blocks the table's serializer
// (spec.md §5 "suspension points only around I/O").
type Conn struct {
	id   string
	ws   *websocket.Conn
	log  slog.Logger
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// newConn wraps an upgraded websocket connection and starts its write pump.
func newConn(id string, wsConn *websocket.Conn, log slog.Logger) *Conn {
	c := &Conn{
		id:   id,
		ws:   wsConn,
		log:  log,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send implements session.Socket. It never blocks on network I/O; a full
// send buffer (an unresponsive client) drops the connection rather than
// stalling the caller, which in practice is the Session Layer's broadcast
// path running inside the table's OnMutation hook.
func (c *Conn) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws: marshaling frame for %s: %w", c.id, err)
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return fmt.Errorf("ws: connection %s closed", c.id)
	default:
		c.log.Warnf("ws: send buffer full for %s, dropping connection", c.id)
		c.Close()
		return fmt.Errorf("ws: send buffer full for %s", c.id)
	}
}

// Close implements session.Socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Handler dispatches inbound client envelopes read off each connection.
// Implemented by the Session Layer binding in cmd/tablesrv (one Handler per
// table, or a router that resolves a table per connection).
type Handler interface {
	// HandleConnect is called once per new connection, before any frames
	// arrive, so the handler can track the socket before authentication.
	HandleConnect(id string, sock session.Socket)
	// HandleMessage is called with the raw bytes of every inbound message.
	// The bytes are not decoded here, so malformed JSON reaches the handler
	// too; session.Gateway rejects it (see session.DumpMalformed).
	HandleMessage(id string, raw []byte)
	// HandleDisconnect is called once the read loop exits for any reason
	// (client close, network error, server shutdown).
	HandleDisconnect(id string)
}

// Server upgrades incoming HTTP requests to websocket connections and runs
// each connection's read loop, handing frames to Handler.
type Server struct {
	Handler Handler
	Log     slog.Logger

	mu        sync.Mutex
	nextID    uint64
	connsByID map[string]*Conn
}

// NewServer constructs a Server. Handler and Log must be non-nil.
func NewServer(h Handler, log slog.Logger) *Server {
	return &Server{
		Handler:   h,
		Log:       log,
		connsByID: make(map[string]*Conn),
	}
}

// ServeHTTP implements http.Handler: the websocket upgrade endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warnf("ws: upgrade failed: %v", err)
		return
	}

	id := s.newConnID()
	conn := newConn(id, wsConn, s.Log)
	s.mu.Lock()
	s.connsByID[id] = conn
	s.mu.Unlock()

	s.Handler.HandleConnect(id, conn)
	s.readLoop(id, conn)
}

func (s *Server) newConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("conn-%d", s.nextID)
}

func (s *Server) readLoop(id string, conn *Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.connsByID, id)
		s.mu.Unlock()
		s.Handler.HandleDisconnect(id)
	}()

	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.Log.Warnf("ws: connection %s closed unexpectedly: %v", id, err)
			}
			return
		}
		s.Handler.HandleMessage(id, raw)
	}
}
