package handlers

import (
	"net/http"

	"github.com/bbqjohan/yt-downloader/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SettingsHandler handles settings-related endpoints
type SettingsHandler struct {
	store  *config.SettingsStore
	logger *zap.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(store *config.SettingsStore, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{store: store, logger: logger}
}

// GetSettings returns the current settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.store.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load settings",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateSettings updates the user settings. Downloads already queued keep the
// output directory they were submitted with.
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var newSettings config.Settings
	if err := c.ShouldBindJSON(&newSettings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid settings format",
			"details": err.Error(),
		})
		return
	}

	if err := config.ValidateDownloadLocation(newSettings.DownloadLocation); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid download location",
			"details": err.Error(),
		})
		return
	}

	if err := h.store.Save(&newSettings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to save settings",
			"details": err.Error(),
		})
		return
	}

	h.logger.Info("settings updated", zap.String("download_location", newSettings.DownloadLocation))

	c.JSON(http.StatusOK, gin.H{
		"message":  "Settings updated successfully",
		"settings": newSettings,
	})
}
