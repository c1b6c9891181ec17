package handlers

import (
	"net/http"
	"time"

	"mixdeck/services"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthHandler handles health check endpoints
type HealthHandler struct {
	manager          services.DownloadManager
	sources          []string
	downloadLocation string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(manager services.DownloadManager, sources []string, downloadLocation string) *HealthHandler {
	return &HealthHandler{
		manager:          manager,
		sources:          sources,
		downloadLocation: downloadLocation,
	}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "mixdeck",
		"version":   Version,
		"sources":   h.sources,
		"stats":     h.manager.Stats(),
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the status of the API
func (h *HealthHandler) APIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":           "Mixdeck API is running",
		"download_location": h.downloadLocation,
	})
}
