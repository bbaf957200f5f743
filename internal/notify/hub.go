// Package notify fans engine events out to websocket subscribers. Delivery is
// best-effort: a slow or dead subscriber is dropped, never waited on, and the
// task protocol does not depend on any event arriving.
package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Subscribers are operator UIs behind the same deployment; origin
	// policy is enforced at the proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one broadcast message.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub tracks subscribers and broadcasts events to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Notify broadcasts an event to every connected subscriber. Fire-and-forget:
// full buffers drop the event for that subscriber.
func (h *Hub) Notify(event string, payload interface{}) {
	evt := Event{Type: event, Payload: payload, Timestamp: time.Now()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			debug.Debug("Dropping %s event for slow subscriber", event)
		}
	}
}

// ServeWS upgrades an HTTP request to a websocket subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warning("Websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan Event, sendBufferSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	debug.Debug("Notification subscriber connected (%s)", conn.RemoteAddr())

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// readPump discards inbound frames; subscriptions are read-only. Its real job
// is noticing the close.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	for evt := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(evt); err != nil {
			debug.Debug("Dropping notification subscriber: %v", err)
			h.remove(c)
			return
		}
	}
}
