package handlers

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/bbqjohan/yt-downloader/config"
	"github.com/bbqjohan/yt-downloader/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FileHandler handles file management endpoints
type FileHandler struct {
	fileService services.FileService
	settings    *config.SettingsStore
	logger      *zap.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(fs services.FileService, settings *config.SettingsStore, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		fileService: fs,
		settings:    settings,
		logger:      logger,
	}
}

// ListFiles returns every downloaded media file
func (h *FileHandler) ListFiles(c *gin.Context) {
	downloadLocation := h.settings.DownloadLocation()

	files, err := h.fileService.ScanMediaFiles(downloadLocation)
	if err != nil {
		h.logger.Error("failed to scan media files", zap.String("dir", downloadLocation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to scan files",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"count": len(files),
	})
}

// StreamFile serves a media file with range request support
func (h *FileHandler) StreamFile(c *gin.Context) {
	requestedPath := strings.TrimPrefix(c.Param("filepath"), "/")

	fullPath, err := h.fileService.ResolveMediaPath(h.settings.DownloadLocation(), requestedPath)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "path not allowed",
			"details": err.Error(),
		})
		return
	}

	file, err := os.Open(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "file not found",
			"path":  requestedPath,
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to open media file", zap.String("path", fullPath), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to open file",
			"details": err.Error(),
		})
		return
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil || fileInfo.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "path is not a file",
			"path":  requestedPath,
		})
		return
	}

	c.Header("Content-Type", h.fileService.GetContentType(requestedPath))
	c.Header("Cache-Control", "public, max-age=3600")

	// ServeContent answers Range and If-Modified-Since requests
	http.ServeContent(c.Writer, c.Request, fileInfo.Name(), fileInfo.ModTime(), file)
}
