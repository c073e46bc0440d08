package streambridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// wsMessage is an inbound control frame: clients subscribe to an
// execution id to start receiving its events.
type wsMessage struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id,omitempty"`
}

type wsConnection struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	cancel func()
	send   chan []byte
	done   chan struct{}
}

// WSHandler upgrades HTTP connections to WebSocket and multicasts a
// Bridge execution's events to every subscribed connection.
type WSHandler struct {
	upgrader websocket.Upgrader
	bridge   *Bridge
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*wsConnection
}

// NewWSHandler constructs a WSHandler multicasting events from bridge.
func NewWSHandler(bridge *Bridge, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		bridge: bridge,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]*wsConnection),
	}
}

// ServeHTTP handles the WebSocket upgrade and starts the connection's
// read/write pumps.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("streambridge websocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{conn: conn, send: make(chan []byte, 256), done: make(chan struct{})}
	h.mu.Lock()
	h.conns[conn] = wsConn
	h.mu.Unlock()

	go h.readPump(wsConn)
	go h.writePump(wsConn)
}

func (h *WSHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("streambridge websocket read error", "error", err)
			}
			return
		}
		h.handleMessage(c, data)
	}
}

func (h *WSHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleMessage(c *wsConnection, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendJSON(c, map[string]any{"type": "error", "error": "invalid message format"})
		return
	}
	if msg.Type != "subscribe" {
		h.sendJSON(c, map[string]any{"type": "error", "error": "unknown message type: " + msg.Type})
		return
	}
	if msg.ExecutionID == "" {
		h.sendJSON(c, map[string]any{"type": "error", "error": "execution_id required for subscribe"})
		return
	}

	ch, cancel, ok := h.bridge.Subscribe(msg.ExecutionID)
	if !ok {
		h.sendJSON(c, map[string]any{"type": "error", "error": "unknown execution_id"})
		return
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()

	go h.forwardEvents(c, msg.ExecutionID, ch)
	h.sendJSON(c, map[string]any{"type": "subscribed", "execution_id": msg.ExecutionID})
}

func (h *WSHandler) forwardEvents(c *wsConnection, executionID string, ch <-chan Event) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.sendJSON(c, map[string]any{
				"type":         "event",
				"execution_id": executionID,
				"kind":         string(ev.Kind),
				"chunk":        ev.Chunk,
				"content":      ev.Content,
				"usage":        ev.Usage,
				"finish_reason": ev.FinishReason,
			})
		}
	}
}

func (h *WSHandler) sendJSON(c *wsConnection, data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("streambridge failed to marshal json", "error", err)
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("streambridge send buffer full, dropping message")
	}
}

func (h *WSHandler) closeConnection(c *wsConnection) {
	h.mu.Lock()
	if _, exists := h.conns[c.conn]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.conn)
	h.mu.Unlock()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.conn.Close()
}

// ConnectionCount returns the number of active WebSocket connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
