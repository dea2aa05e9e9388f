// Package ws pushes migration progress to browser clients over WebSocket.
package ws

import (
	"context"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"

	"github.com/chatmirror/chatmirror/internal/migration"
)

// StateProviderFunc returns the current migration status as JSON bytes. It
// answers new clients and sync requests.
type StateProviderFunc func() ([]byte, error)

// Hub manages WebSocket connections and broadcasts messages to all clients.
type Hub struct {
	clients       map[*Client]bool
	broadcast     chan []byte
	register      chan *Client
	unregister    chan *Client
	logger        *slog.Logger
	done          chan struct{}
	mu            sync.RWMutex
	stateProvider StateProviderFunc
}

// Client represents a single WebSocket connection.
type Client struct {
	hub  *Hub
	send chan []byte
	conn *websocket.Conn
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With("component", "ws"),
	}
}

// SetStateProvider sets the function called to get current state for
// new or reconnecting clients. Call it before Run.
func (h *Hub) SetStateProvider(fn StateProviderFunc) {
	h.stateProvider = fn
}

// Run starts the hub's event loop. It returns when ctx is done, after
// disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("dropping slow websocket client")
					h.dropLocked(client)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) dropLocked(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast sends a message to all connected clients. It never blocks; when
// the queue is full the message is dropped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast queue full, message dropped")
	}
}

// BroadcastJSON broadcasts any JSON-serializable payload with the given
// message type.
func (h *Hub) BroadcastJSON(msgType MessageType, payload any) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error("failed to create broadcast message", "type", msgType, "error", err)
		return
	}
	h.Broadcast(msg)
}

// BroadcastError broadcasts an error to all clients.
func (h *Hub) BroadcastError(errMsg string) {
	h.BroadcastJSON(MsgError, map[string]string{"message": errMsg})
}

// Publish turns a migration status into messages: batch_complete when a batch
// just finished, migration_progress for every status with a job, and error
// when the job failed. It matches migration.StatusCallback.
func (h *Hub) Publish(st *migration.Status) {
	if st.LastBatch != nil {
		h.BroadcastJSON(MsgBatchComplete, st.LastBatch)
	}
	if st.Job == nil {
		return
	}
	h.BroadcastJSON(MsgMigrationProgress, st)
	if st.Job.Phase == migration.PhaseErrored {
		h.BroadcastError(st.Job.Error)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
