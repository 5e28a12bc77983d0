package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neelesh18904/CryptoProject/internal/metrics"
	"github.com/neelesh18904/CryptoProject/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type  string         `json:"type"`
	State *session.State `json:"state,omitempty"`
}

type client struct {
	conn      *websocket.Conn
	sessionID string
	onClose   func()
}

type outbound struct {
	sessionID string
	data      []byte
}

// WSHub manages WebSocket connections and pushes each session's state to
// the connections opened by that session.
type WSHub struct {
	clients    map[*websocket.Conn]*client
	broadcast  chan outbound
	register   chan *client
	unregister chan *websocket.Conn
	done       chan struct{}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. Only Run writes data frames.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for conn, c := range h.clients {
				h.drop(conn, c)
			}
			return

		case c := <-h.register:
			h.clients[c.conn] = c
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "session", c.sessionID, "total", len(h.clients))

		case conn := <-h.unregister:
			if c, ok := h.clients[conn]; ok {
				h.drop(conn, c)
			}

		case msg := <-h.broadcast:
			for conn, c := range h.clients {
				if c.sessionID != msg.sessionID {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					h.drop(conn, c)
				}
			}
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn, c *client) {
	delete(h.clients, conn)
	conn.Close()
	metrics.WebSocketClients.Dec()
	if c.onClose != nil {
		c.onClose()
	}
}

// Push queues st for every connection of sessionID. It never blocks.
func (h *WSHub) Push(sessionID string, st session.State) {
	data, err := json.Marshal(WSMessage{Type: "state", State: &st})
	if err != nil {
		slog.Error("ws encode failed", "err", err)
		return
	}
	select {
	case h.broadcast <- outbound{sessionID: sessionID, data: data}:
	default:
		// Drop if buffer full; the next change carries the full state.
	}
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || originAllowed(allowed, origin)
		},
	}
}

// serve upgrades the request and streams sc's state until the client goes
// away. release runs once the connection is dropped.
func (h *WSHub) serve(w http.ResponseWriter, r *http.Request, up websocket.Upgrader, sessionID string, sc *session.Context, release func()) {
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		release()
		return
	}

	unsub := sc.Subscribe(func(st session.State) { h.Push(sessionID, st) })
	c := &client{conn: conn, sessionID: sessionID, onClose: func() {
		unsub()
		release()
	}}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		c.onClose()
		return
	}

	if st, err := sc.State(); err == nil {
		h.Push(sessionID, st)
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// WriteControl may run concurrently with the hub's writes.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}
