// Package ws pushes order line events to scanners and supervisors watching
// the same order.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// orderEvent routes an event to one order's room
type orderEvent struct {
	OrderID string
	Event   Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by order ID
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *orderEvent

	// Closed when Run returns so pumps never block on a stopped hub
	done chan struct{}

	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *orderEvent, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled,
// closing every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for orderID, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, orderID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.orderID] == nil {
				h.rooms[client.orderID] = make(map[*Client]bool)
			}
			h.rooms[client.orderID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.logger.Error("ws: marshal event", "type", event.Event.Type, "error", err)
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[event.OrderID] {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the room.
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops a client and its room when empty. Caller holds h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.orderID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.orderID)
	}
}

// BroadcastToOrder sends an event to all clients watching an order.
// The event is dropped if the broadcast queue is full.
func (h *Hub) BroadcastToOrder(orderID string, event Event) {
	select {
	case h.broadcast <- &orderEvent{OrderID: orderID, Event: event}:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event", "order_id", orderID, "type", event.Type)
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Notify marshals payload and broadcasts it as an event of the given type.
func (h *Hub) Notify(orderID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("ws: marshal payload", "type", eventType, "error", err)
		return
	}
	h.BroadcastToOrder(orderID, Event{Type: eventType, Payload: data})
}

// Subscribers returns the number of clients watching an order.
func (h *Hub) Subscribers(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[orderID])
}
