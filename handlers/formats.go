package handlers

import (
	"net/http"

	"github.com/bbqjohan/yt-downloader/services"
	"github.com/bbqjohan/yt-downloader/types"
	"github.com/gin-gonic/gin"
)

// FormatHandler splits the external tool's format listing into selectable choices
type FormatHandler struct{}

// NewFormatHandler creates a new format handler
func NewFormatHandler() *FormatHandler {
	return &FormatHandler{}
}

// SplitFormats accepts the JSON info dump of a video and returns its audio-only and
// video-only formats.
func (h *FormatHandler) SplitFormats(c *gin.Context) {
	var info types.VideoInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid video info",
			"details": err.Error(),
		})
		return
	}

	if info.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "video id is required",
		})
		return
	}

	c.JSON(http.StatusOK, services.SplitFormats(info))
}
