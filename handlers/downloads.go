package handlers

import (
	"io"
	"net/http"

	"github.com/bbqjohan/yt-downloader/config"
	"github.com/bbqjohan/yt-downloader/services"
	"github.com/bbqjohan/yt-downloader/types"
	"github.com/bbqjohan/yt-downloader/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DownloadHandler handles download management endpoints
type DownloadHandler struct {
	queue    services.DownloadQueue
	hub      websocket.Hub
	settings *config.SettingsStore
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(queue services.DownloadQueue, hub websocket.Hub, settings *config.SettingsStore, upgrader websocket.Upgrader, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		queue:    queue,
		hub:      hub,
		settings: settings,
		upgrader: upgrader,
		logger:   logger,
	}
}

// Submit queues a new download. The output directory defaults to the configured
// download location at the moment of submission.
func (h *DownloadHandler) Submit(c *gin.Context) {
	var request types.DownloadRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid download request",
			"details": err.Error(),
		})
		return
	}

	if request.OutputDir == "" && h.settings != nil {
		request.OutputDir = h.settings.DownloadLocation()
	}

	item, err := h.queue.Submit(request)
	if err != nil {
		respondError(c, err, gin.H{"item": item})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Download queued successfully",
		"item":    item,
	})
}

// Redownload queues a fresh copy of a finished or failed download
func (h *DownloadHandler) Redownload(c *gin.Context) {
	item, err := h.queue.Redownload(c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Download queued successfully",
		"item":    item,
	})
}

// GetAllItems returns every known download in submission order
func (h *DownloadHandler) GetAllItems(c *gin.Context) {
	items := h.queue.GetAllItems()
	active, _ := h.queue.Active()
	c.JSON(http.StatusOK, gin.H{
		"items":   items,
		"total":   len(items),
		"active":  active,
		"pending": h.queue.Pending(),
	})
}

// GetItem returns a single download tree
func (h *DownloadHandler) GetItem(c *gin.Context) {
	item, exists := h.queue.GetItem(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "download not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item": item,
	})
}

// GetQueue returns the active id and the pending ids
func (h *DownloadHandler) GetQueue(c *gin.Context) {
	active, ok := h.queue.Active()
	response := gin.H{
		"pending": h.queue.Pending(),
	}
	if ok {
		response["active"] = active
	}
	c.JSON(http.StatusOK, response)
}

// DeliverEvent accepts one {"event", "data"} message for the active download
func (h *DownloadHandler) DeliverEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	event, err := types.DecodeEvent(body)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	if err := h.queue.Deliver(c.Param("id"), event); err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "event accepted",
		"event":   event.Kind(),
	})
}

// HandleWebSocketConnection streams the snapshots of a single download
func (h *DownloadHandler) HandleWebSocketConnection(c *gin.Context) {
	id := c.Param("id")
	if _, exists := h.queue.GetItem(id); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	snapshot := func() []types.ProgressMessage {
		item, exists := h.queue.GetItem(id)
		if !exists {
			return nil
		}
		return []types.ProgressMessage{websocket.NewProgressMessage(item)}
	}

	if err := websocket.Serve(h.hub, h.upgrader, c.Writer, c.Request, id, h.logger, snapshot); err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("item", id), zap.Error(err))
	}
}

// HandleWebSocketAllConnection streams the snapshots of every download, starting
// with the current state of each.
func (h *DownloadHandler) HandleWebSocketAllConnection(c *gin.Context) {
	snapshot := func() []types.ProgressMessage {
		items := h.queue.GetAllItems()
		messages := make([]types.ProgressMessage, 0, len(items))
		for _, item := range items {
			messages = append(messages, websocket.NewProgressMessage(item))
		}
		return messages
	}

	if err := websocket.Serve(h.hub, h.upgrader, c.Writer, c.Request, websocket.AllItems, h.logger, snapshot); err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("item", websocket.AllItems), zap.Error(err))
	}
}
