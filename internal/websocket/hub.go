package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xelth-com/posync/internal/config"
)

var log = config.GetLogger()

// Event is the envelope of every message sent to listeners
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients and delivers events to the
// clients of one organization
type Hub struct {
	// Registered clients map: client ID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// If a client connects again with the same ID, close the old connection
			if old, ok := h.clients[client.ID]; ok {
				close(old.send)
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.WithFields(logrus.Fields{"client": client.ID, "org": client.OrganizationID}).Info("Listener connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.ID]; ok && current == client {
				delete(h.clients, client.ID)
				close(client.send)
				log.WithFields(logrus.Fields{"client": client.ID, "org": client.OrganizationID}).Info("Listener disconnected")
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// BroadcastToOrg sends an event to every client of the organization.
// Clients with a full buffer miss the event.
func (h *Hub) BroadcastToOrg(orgID, event string, payload interface{}) {
	msg, err := json.Marshal(Event{Type: event, Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		log.WithError(err).WithField("event", event).Error("Failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.OrganizationID != orgID {
			continue
		}
		select {
		case client.send <- msg:
		default:
			log.WithField("client", client.ID).Warn("Listener buffer full, event dropped")
		}
	}
}

// SendToDevice sends an event to the client that identified as deviceID
func (h *Hub) SendToDevice(orgID, deviceID, event string, payload interface{}) bool {
	msg, err := json.Marshal(Event{Type: event, Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.OrganizationID != orgID || client.DeviceID() != deviceID {
			continue
		}
		select {
		case client.send <- msg:
			return true
		default:
			// Buffer full or client dead
			return false
		}
	}
	return false
}

// Count returns the number of connected clients of an organization
func (h *Hub) Count(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, client := range h.clients {
		if client.OrganizationID == orgID {
			n++
		}
	}
	return n
}
