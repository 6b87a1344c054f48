package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bbqjohan/yt-downloader/types"
	"go.uber.org/zap"
)

// AllItems is the subscription key for clients following every download
const AllItems = "all"

// Hub interface defines the methods for managing WebSocket connections
type Hub interface {
	Run(ctx context.Context)
	ItemUpdated(item *types.Item)
	BroadcastProgress(message types.ProgressMessage)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
	ClientCount() int
}

// hub maintains the set of active clients and broadcasts messages to them
type hub struct {
	// Registered clients mapped by item ID
	clients map[string]map[*Client]bool

	broadcast  chan types.ProgressMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.ProgressMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("websocket"),
	}
}

// Run starts the hub's main event loop. It returns when ctx is done, closing every
// client.
func (h *hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for key, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, key)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.itemID] == nil {
				h.clients[client.itemID] = make(map[*Client]bool)
			}
			h.clients[client.itemID][client] = true
			h.mu.Unlock()
			// Read after joining so nothing published from here on is missed.
			if client.snapshot != nil {
				for _, message := range client.snapshot() {
					client.Send(message)
				}
			}
			h.logger.Debug("client connected", zap.String("item", client.itemID))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.itemID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.itemID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.String("item", client.itemID))

		case message := <-h.broadcast:
			h.mu.Lock()
			h.deliver(message.ItemID, message)
			h.deliver(AllItems, message)
			h.mu.Unlock()
		}
	}
}

// deliver sends message to every client subscribed under key, dropping clients that
// cannot keep up. Must be called with the lock held.
func (h *hub) deliver(key string, message types.ProgressMessage) {
	clients, ok := h.clients[key]
	if !ok {
		return
	}

	for client := range clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(clients, client)
			h.logger.Warn("dropping slow client", zap.String("item", key))
		}
	}
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

// ItemUpdated broadcasts a new snapshot of a download tree
func (h *hub) ItemUpdated(item *types.Item) {
	h.BroadcastProgress(NewProgressMessage(item))
}

// BroadcastProgress queues a message for the item's clients and the "all" clients.
// It never blocks.
func (h *hub) BroadcastProgress(message types.ProgressMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", zap.String("item", message.ItemID))
	}
}

// RegisterClient registers a new client with the hub. Clients registering after
// the hub stopped are closed right away.
func (h *hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

// NewProgressMessage describes a snapshot for websocket clients
func NewProgressMessage(item *types.Item) types.ProgressMessage {
	message := types.ProgressMessage{
		ItemID:    item.ID,
		Type:      "status",
		Progress:  item.Progress(),
		Status:    string(item.Status),
		Item:      item,
		Revision:  item.Revision,
		Timestamp: time.Now(),
	}

	if leaf := item.CurrentLeaf(); leaf != item {
		message.Current = leaf.Label
		if leaf.Speed != nil {
			message.Speed = leaf.Speed.String()
		}
	}

	switch item.Status {
	case types.ItemStatusErrored:
		message.Type = "error"
		if item.Error != nil {
			message.Message = item.Error.Message
			message.Help = item.Error.Help
		}
	case types.ItemStatusFinished:
		message.Type = "complete"
		message.Message = fmt.Sprintf("%s download completed", item.Label)
	case types.ItemStatusRunning:
		if message.Progress > 0 || message.Speed != "" {
			message.Type = "progress"
		}
		message.Message = fmt.Sprintf("Downloading %s", item.Label)
	default:
		message.Message = "Queued"
	}

	return message
}
