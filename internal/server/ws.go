package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bryan-buckman/archaeo/internal/catalog"
	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8 << 10
	searchDebounce = 300 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is consumed by native clients that send no Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Inbound messages.
type wsRequest struct {
	Type string `json:"type"` // "search"
	query
}

// Outbound messages.
type wsMessage struct {
	Type     string        `json:"type"` // hello | results | bookmarks | error
	ClientID string        `json:"clientId,omitempty"`
	Token    uint64        `json:"token,omitempty"`
	View     *catalog.View `json:"view,omitempty"`
	Event    any           `json:"event,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// hub fans bookmark changes out to every client.
type hub struct {
	srv     *Server
	mu      sync.Mutex
	clients map[string]*client
	cancel  func()
	wg      sync.WaitGroup
}

func newHub(s *Server) *hub {
	return &hub{srv: s, clients: make(map[string]*client)}
}

// start relays bookmark events until stop.
func (h *hub) start() {
	if h.srv.Bookmarks == nil {
		return
	}
	events, cancel := h.srv.Bookmarks.Subscribe()
	h.cancel = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for ev := range events {
			h.broadcast(wsMessage{Type: "bookmarks", Event: ev})
		}
	}()
}

func (h *hub) stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.mu.Lock()
	for _, c := range h.clients {
		c.close()
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(m wsMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.send(m)
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.srv.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		out:      make(chan wsMessage, 32),
		done:     make(chan struct{}),
		debounce: fetch.NewDebouncer(searchDebounce),
	}
	h.add(c)
	h.srv.Log.Debug("websocket client connected", zap.String("client", c.id))

	go c.writePump()
	c.send(wsMessage{Type: "hello", ClientID: c.id})
	c.readPump()
}

// client is one websocket connection. Searches are debounced and only the
// latest one may publish results.
type client struct {
	id       string
	hub      *hub
	conn     *websocket.Conn
	out      chan wsMessage
	done     chan struct{}
	once     sync.Once
	debounce *fetch.Debouncer
	seq      fetch.Sequencer
}

func (c *client) send(m wsMessage) {
	select {
	case <-c.done:
	case c.out <- m:
	default:
		// Slow reader; drop rather than stall the hub.
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.debounce.Stop()
	})
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
		_ = c.conn.Close()
		c.hub.srv.Log.Debug("websocket client gone", zap.String("client", c.id))
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(wsMessage{Type: "error", Error: "invalid message"})
			continue
		}
		switch req.Type {
		case "search":
			c.search(req.query)
		default:
			c.send(wsMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

// search schedules q once typing settles. A request still running when a
// newer one is issued never publishes.
func (c *client) search(q query) {
	c.debounce.Trigger(func() {
		token := c.seq.Next()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		v, err := c.hub.srv.view(ctx, q)
		if !c.seq.Apply(token) {
			return
		}
		if err != nil {
			c.send(wsMessage{Type: "error", Token: token, Error: err.Error()})
			return
		}
		c.send(wsMessage{Type: "results", Token: token, View: &v})
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(m); err != nil {
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
