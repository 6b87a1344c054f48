package handlers

import (
	"net/http"
	"time"

	"github.com/bbqjohan/yt-downloader/config"
	"github.com/bbqjohan/yt-downloader/services"
	"github.com/bbqjohan/yt-downloader/websocket"
	"github.com/gin-gonic/gin"
)

// Version of the service reported by the health endpoints
const Version = "1.0.0"

// HealthHandler handles health check endpoints
type HealthHandler struct {
	queue    services.DownloadQueue
	hub      websocket.Hub
	settings *config.SettingsStore
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(queue services.DownloadQueue, hub websocket.Hub, settings *config.SettingsStore) *HealthHandler {
	return &HealthHandler{queue: queue, hub: hub, settings: settings}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "yt-downloader",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the status of the API
func (h *HealthHandler) APIStatus(c *gin.Context) {
	active, _ := h.queue.Active()
	c.JSON(http.StatusOK, gin.H{
		"message":           "yt-downloader API is running",
		"download_location": h.settings.DownloadLocation(),
		"active":            active,
		"pending":           len(h.queue.Pending()),
		"clients":           h.hub.ClientCount(),
	})
}
