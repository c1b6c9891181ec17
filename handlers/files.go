package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"mixdeck/services"
	"mixdeck/types"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FileHandler serves the files produced by completed jobs
type FileHandler struct {
	manager services.DownloadManager
	library services.LibraryService
}

// NewFileHandler creates a new file handler
func NewFileHandler(manager services.DownloadManager, library services.LibraryService) *FileHandler {
	return &FileHandler{
		manager: manager,
		library: library,
	}
}

// resultPath resolves the file of a completed job, writing an error response
// and returning false when there is none.
func (h *FileHandler) resultPath(c *gin.Context) (string, bool) {
	job, err := h.manager.GetStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return "", false
	}
	if job.Status != types.JobStateCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job has no result file",
			"status": job.Status,
		})
		return "", false
	}

	path, err := h.library.ValidateResultPath(job.FilePath)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "path security violation",
			"details": err.Error(),
		})
		return "", false
	}
	return path, true
}

// GetMetadata returns the tags of a completed job's file
func (h *FileHandler) GetMetadata(c *gin.Context) {
	path, ok := h.resultPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.library.ExtractAudioMetadata(path))
}

// StreamFile streams a completed job's file with support for range requests
func (h *FileHandler) StreamFile(c *gin.Context) {
	path, ok := h.resultPath(c)
	if !ok {
		return
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "file access error",
			"details": err.Error(),
		})
		return
	}
	if fileInfo.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is a directory, not a file"})
		return
	}

	file, err := os.Open(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to open file",
			"details": err.Error(),
		})
		return
	}
	defer file.Close()

	c.Header("Content-Type", h.library.GetContentType(path))
	c.Header("Accept-Ranges", "bytes")
	c.Header("Cache-Control", "public, max-age=3600")

	if rangeHeader := c.GetHeader("Range"); rangeHeader != "" {
		h.handleRangeRequest(c, file, fileInfo.Size(), rangeHeader)
		return
	}

	c.Header("Content-Length", strconv.FormatInt(fileInfo.Size(), 10))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file); err != nil {
		logrus.WithError(err).WithField("path", path).Warn("Error streaming file")
	}
}

// parseRange parses a single "bytes=start-end" range, including the suffix
// form "bytes=-N", against a file of size bytes.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	rangeSpec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(rangeSpec, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(rangeSpec, "-")
	if !found || size == 0 {
		return 0, 0, false
	}

	switch {
	case first == "" && last == "":
		return 0, 0, false
	case first == "":
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true
}

// handleRangeRequest handles HTTP range requests for efficient seeking
func (h *FileHandler) handleRangeRequest(c *gin.Context, file *os.File, fileSize int64, rangeHeader string) {
	start, end, ok := parseRange(rangeHeader, fileSize)
	if !ok {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seek file"})
		return
	}

	contentLength := end - start + 1
	c.Header("Content-Length", strconv.FormatInt(contentLength, 10))
	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	c.Status(http.StatusPartialContent)

	if _, err := io.CopyN(c.Writer, file, contentLength); err != nil {
		logrus.WithError(err).Warnf("Error streaming range %d-%d", start, end)
	}
}
