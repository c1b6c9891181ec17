package handlers

import (
	"errors"
	"net/http"

	"mixdeck/services"
	"mixdeck/types"
	"mixdeck/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DownloadHandler handles download management endpoints
type DownloadHandler struct {
	manager  services.DownloadManager
	hub      websocket.Hub
	upgrader gorilla.Upgrader
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(manager services.DownloadManager, hub websocket.Hub, allowedOrigins []string) *DownloadHandler {
	return &DownloadHandler{
		manager:  manager,
		hub:      hub,
		upgrader: websocket.NewUpgrader(allowedOrigins),
	}
}

// respondError maps manager errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": verr.Field})
	default:
		logrus.WithError(err).Error("Unexpected download manager error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// QueueDownload queues a single track download
func (h *DownloadHandler) QueueDownload(c *gin.Context) {
	var req types.JobDescriptor
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	id, err := h.manager.Enqueue(req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

// QueueBatch queues a playlist or any list of tracks as one batch
func (h *DownloadHandler) QueueBatch(c *gin.Context) {
	var req types.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	id, err := h.manager.CreateBatch(req.Tracks, types.BatchMetadata{
		PlaylistID:    req.PlaylistID,
		PlaylistTitle: req.PlaylistTitle,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id":     id,
		"total_tracks": len(req.Tracks),
	})
}

// GetAllJobs returns all download jobs
func (h *DownloadHandler) GetAllJobs(c *gin.Context) {
	jobs := h.manager.ListJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// GetJob returns a specific download job by ID
func (h *DownloadHandler) GetJob(c *gin.Context) {
	job, err := h.manager.GetStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob cancels a download job. Cancelling a finished job is a no-op.
func (h *DownloadHandler) CancelJob(c *gin.Context) {
	if err := h.manager.Cancel(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}

// GetBatch returns a specific batch by ID
func (h *DownloadHandler) GetBatch(c *gin.Context) {
	batch, err := h.manager.GetBatchStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// CancelBatch cancels the pending jobs of a batch
func (h *DownloadHandler) CancelBatch(c *gin.Context) {
	if err := h.manager.CancelBatch(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "batch cancelled"})
}

// HandleWebSocketConnection streams progress for one job or batch. The
// current snapshot is sent first.
func (h *DownloadHandler) HandleWebSocketConnection(c *gin.Context) {
	id := c.Param("id")

	var initial types.ProgressMessage
	if job, err := h.manager.GetStatus(id); err == nil {
		initial = websocket.JobMessage(job)
	} else if batch, err := h.manager.GetBatchStatus(id); err == nil {
		initial = websocket.BatchMessage(batch)
	} else {
		respondError(c, err)
		return
	}

	h.serveWebSocket(c, id, &initial)
}

// HandleWebSocketAllConnection streams progress for every job and batch
func (h *DownloadHandler) HandleWebSocketAllConnection(c *gin.Context) {
	h.serveWebSocket(c, websocket.TopicAll, nil)
}

func (h *DownloadHandler) serveWebSocket(c *gin.Context, topic string, initial *types.ProgressMessage) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).WithField("topic", topic).Warn("WebSocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, topic)
	if initial != nil {
		client.Prime(*initial)
	}
	h.hub.RegisterClient(client)
	client.StartPumps()
}
