package websocket

import (
	"net/http"
	"time"

	"github.com/bbqjohan/yt-downloader/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Upgrader upgrades HTTP requests to websocket connections
type Upgrader = websocket.Upgrader

// NewUpgrader returns an upgrader accepting the given origins. "*" or an empty list
// accepts any origin.
func NewUpgrader(allowedOrigins []string) Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
		},
	}
}

// Client represents a WebSocket client connection
type Client struct {
	hub    Hub
	conn   *websocket.Conn
	send   chan types.ProgressMessage
	itemID string
	logger *zap.Logger

	// snapshot is read by the hub once the client is registered
	snapshot func() []types.ProgressMessage
	// latest revision written per item, owned by writePump
	written map[string]uint64
}

// NewClient creates a client following itemID, or every item for AllItems
func NewClient(hub Hub, conn *websocket.Conn, itemID string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan types.ProgressMessage, 256),
		itemID:  itemID,
		logger:  logger,
		written: make(map[string]uint64),
	}
}

// Send queues a message for this client only, without blocking
func (c *Client) Send(message types.ProgressMessage) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Serve upgrades the request and registers a client for itemID. The hub queues
// the messages returned by snapshot ahead of any later broadcast.
func Serve(hub Hub, upgrader Upgrader, w http.ResponseWriter, r *http.Request, itemID string, logger *zap.Logger, snapshot func() []types.ProgressMessage) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(hub, conn, itemID, logger)
	client.snapshot = snapshot
	hub.RegisterClient(client)
	client.StartPumps()
	return nil
}

// stale reports whether a newer snapshot of the same item was already written.
// Messages without a revision are never stale.
func (c *Client) stale(message types.ProgressMessage) bool {
	if message.Revision == 0 {
		return false
	}
	if message.Revision <= c.written[message.ItemID] {
		return true
	}
	c.written[message.ItemID] = message.Revision
	return false
}

// StartPumps starts the read and write pumps for the client
func (c *Client) StartPumps() {
	go c.writePump()
	go c.readPump()
}

// readPump handles reading from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.String("item", c.itemID), zap.Error(err))
			}
			break
		}
	}
}

// writePump handles writing to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if c.stale(message) {
				continue
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("websocket write error", zap.String("item", c.itemID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
