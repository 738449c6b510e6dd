// Package fanout is the Notification Fan-Out (C10): it broadcasts attribute
// changes and commissioning events to every connected WebSocket client, so
// a UI can reflect device state without polling the HTTP API itself.
package fanout

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

// Event is one message broadcast to subscribers.
type Event struct {
	Type      string           `json:"type"` // "attribute" or "commission"
	Device    types.Device     `json:"device"`
	Attribute *types.Attribute `json:"attribute,omitempty"`
	Devices   []types.Device   `json:"devices,omitempty"`
}

var upgrader = websocket.Upgrader{
	// The HTTP API's CORS policy is open (spec §6); the WebSocket upgrade
	// follows the same policy rather than imposing a stricter one of its
	// own.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	out  chan Event
}

// Hub tracks connected WebSocket subscribers and fans events out to them.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*subscriber]struct{})}
}

// ServeHTTP upgrades the request to a WebSocket connection and registers it
// as a subscriber until the client disconnects. Mounted at GET /ws.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("fanout: upgrade failed", "err", err)
		return
	}

	sub := &subscriber{conn: conn, out: make(chan Event, 32)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
		conn.Close()
	}()

	// Drain inbound frames (this is a push-only channel, but the
	// connection must still be read to observe close/ping frames).
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for event := range sub.out {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// Broadcast sends event to every connected subscriber. Slow subscribers are
// dropped rather than allowed to block the broadcaster.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.out <- event:
		default:
			slog.Warn("fanout: dropping slow subscriber")
			delete(h.subscribers, sub)
			close(sub.out)
		}
	}
}

// OnAttributesChanged adapts Broadcast to polling.NotifyFunc's shape,
// broadcasting one Event per changed attribute.
func (h *Hub) OnAttributesChanged(d types.Device, changed []types.Attribute) {
	for i := range changed {
		h.Broadcast(Event{Type: "attribute", Device: d, Attribute: &changed[i]})
	}
}

// OnCommission broadcasts a commissioning event listing every endpoint the
// Commissioning Orchestrator just recorded.
func (h *Hub) OnCommission(devices []types.Device) {
	if len(devices) == 0 {
		return
	}
	h.Broadcast(Event{Type: "commission", Device: devices[0], Devices: devices})
}
