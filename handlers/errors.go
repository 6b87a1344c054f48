package handlers

import (
	"net/http"

	"github.com/bbqjohan/yt-downloader/types"
	"github.com/gin-gonic/gin"
)

// StatusFor maps an error to the HTTP status it is reported with
func StatusFor(err error) int {
	switch types.ErrorTypeOf(err) {
	case types.ErrorInvalidRequest, types.ErrorInvalidProgress:
		return http.StatusBadRequest
	case types.ErrorNotFound:
		return http.StatusNotFound
	case types.ErrorAlreadyDownloaded, types.ErrorNotActive:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": ..., "type": ...} plus any extra fields
func respondError(c *gin.Context, err error, extra gin.H) {
	body := gin.H{
		"error": err.Error(),
		"type":  types.ErrorTypeOf(err).String(),
	}
	for key, value := range extra {
		body[key] = value
	}
	c.Error(err)
	c.JSON(StatusFor(err), body)
}
