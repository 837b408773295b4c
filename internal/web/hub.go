package web

import (
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/session"
)

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *WebMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	quit       chan struct{}
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *WebMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run starts the hub loop
func (h *Hub) Run() {
	logger.Info("websocket hub started")
	defer logger.Info("websocket hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Debug("client registered: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			logger.Debug("client unregistered: %s", client.ID)

		case message := <-h.broadcast:
			// Write lock: dropping a slow client mutates the map
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop it
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			return
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	close(h.quit)
}

// Register registers a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message *WebMessage) {
	select {
	case h.broadcast <- message:
	default:
		logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastSessionList pushes the current session list to every client so
// session pickers stay in sync after a delete from any connection.
func (h *Hub) BroadcastSessionList(store session.Store) {
	metas, err := store.List()
	if err != nil {
		logger.Error("failed to list sessions for broadcast: %v", err)
		return
	}
	h.Broadcast(&WebMessage{
		Type:      MessageTypeSessions,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"sessions": metas},
	})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
