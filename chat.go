package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/logging"
)

const (
	wsReadLimit    = 1 << 20
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
	wsSendBuffer   = 16
)

// Event types pushed to clients.
const (
	eventMessage  = "message"
	eventTyping   = "typing"
	eventInterest = "interest"
	eventInfo     = "info"
	eventError    = "error"
)

// ClientMessage is what a browser sends over the socket.
type ClientMessage struct {
	Type string `json:"type"` // "message" | "typing"
	To   string `json:"to"`
	Body string `json:"body,omitempty"`
}

// ServerEvent is what the server pushes to a browser.
type ServerEvent struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Client is one websocket connection. A user may hold several.
type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan ServerEvent
}

// trySend drops the event when the client's buffer is full.
func (c *Client) trySend(evt ServerEvent) bool {
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

// Hub tracks open connections by user id.
type Hub struct {
	mu            sync.RWMutex
	clientsByUser map[string]map[*Client]bool
	onChange      func(delta int)
}

func newHub(onChange func(delta int)) *Hub {
	if onChange == nil {
		onChange = func(int) {}
	}
	return &Hub{
		clientsByUser: make(map[string]map[*Client]bool),
		onChange:      onChange,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
	h.onChange(1)
}

// unregister removes c and closes its send channel. It is safe to call twice.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.clientsByUser[c.userID]
	if !ok || !peers[c] {
		return
	}
	delete(peers, c)
	if len(peers) == 0 {
		delete(h.clientsByUser, c.userID)
	}
	close(c.send)
	h.onChange(-1)
}

// sendToUser fans evt out to every connection of userID and returns how many
// accepted it.
func (h *Hub) sendToUser(userID string, evt ServerEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.clientsByUser[userID] {
		if c.trySend(evt) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser[userID]) > 0
}

// closeAll drops every connection, used on shutdown.
func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Client
	for _, peers := range h.clientsByUser {
		for c := range peers {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		_ = c.conn.Close()
	}
}

func (a *app) newUpgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(a.cfg.CORSOrigins))
	for _, o := range a.cfg.CORSOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin] || allowed["*"]
		},
	}
}

// GET /ws?token=
func wsChatHandler(a *app) http.HandlerFunc {
	upgrader := a.newUpgrader()
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := a.callerFromRequest(r, true)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		log := a.log.With(zap.String("user_id", me.ID))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			userID: me.ID,
			conn:   conn,
			send:   make(chan ServerEvent, wsSendBuffer),
		}
		a.hub.register(client)
		a.touchLastOnline(r.Context(), me.ID)
		log.Debug("websocket connected")

		client.trySend(ServerEvent{Type: eventInfo, Data: "connected"})

		go a.clientWriter(client)
		a.clientReader(logging.WithUserID(r.Context(), me.ID), client)
	}
}

func (a *app) clientReader(ctx context.Context, c *Client) {
	defer func() {
		a.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.For(ctx, a.log).Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.trySend(ServerEvent{Type: eventError, Data: "invalid message format"})
			continue
		}
		a.handleClientMessage(ctx, c, msg)
	}
}

func (a *app) handleClientMessage(ctx context.Context, c *Client, msg ClientMessage) {
	switch msg.Type {
	case eventMessage:
		if _, err := a.deliverMessage(ctx, c.userID, msg.To, msg.Body); err != nil {
			c.trySend(ServerEvent{Type: eventError, Data: messageErrorCode(err)})
		}

	case eventTyping:
		ok, err := a.canMessage(ctx, c.userID, msg.To)
		if err != nil || !ok {
			c.trySend(ServerEvent{Type: eventError, Data: "not_connected"})
			return
		}
		a.hub.sendToUser(msg.To, ServerEvent{Type: eventTyping, From: c.userID})

	default:
		c.trySend(ServerEvent{Type: eventError, Data: "unknown message type"})
	}
}

func (a *app) clientWriter(c *Client) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
