package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
)

// CreateJob implements create_job: accepts a multipart upload (video file,
// optional voice_file text, interval_sec) and enqueues the job without
// blocking on processing.
// POST /api/v1/jobs
func (h *Handlers) CreateJob(c *gin.Context) {
	fileHeader, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video file is required"})
		return
	}

	intervalSec, err := strconv.Atoi(c.DefaultPostForm("interval_sec", "5"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_sec must be an integer"})
		return
	}
	if err := h.validate.Var(intervalSec, "gte=1,lte=3600"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_sec must be between 1 and 3600"})
		return
	}

	tmpDir, err := os.MkdirTemp("", "framewatch-upload-*")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage upload"})
		return
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, filepath.Base(fileHeader.Filename))
	if err := c.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		h.log.WithError(err).Error("failed to save uploaded video")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage upload"})
		return
	}

	var voiceFilePath string
	if voiceHeader, err := c.FormFile("voice_file"); err == nil {
		voicePath := filepath.Join(tmpDir, "voice_"+filepath.Base(voiceHeader.Filename))
		if err := c.SaveUploadedFile(voiceHeader, voicePath); err == nil {
			voiceFilePath = voicePath
		}
	}

	videoID, err := h.orch.CreateJob(c.Request.Context(), fileHeader.Filename, intervalSec, voiceFilePath, tmpPath)
	if err != nil {
		h.log.WithError(err).Error("create job failed")
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"video_id": videoID, "status": "queued"})
}

// GetJob implements get_job.
// GET /api/v1/jobs/:videoId
func (h *Handlers) GetJob(c *gin.Context) {
	j, err := h.orch.GetJob(c.Request.Context(), c.Param("videoId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// GetStatus implements get_status, safe to poll at 1-2 Hz.
// GET /api/v1/jobs/:videoId/status
func (h *Handlers) GetStatus(c *gin.Context) {
	status, err := h.orch.GetStatus(c.Request.Context(), c.Param("videoId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetReport implements get_report.
// GET /api/v1/jobs/:videoId/report
func (h *Handlers) GetReport(c *gin.Context) {
	rep, err := h.orch.GetReport(c.Request.Context(), c.Param("videoId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ListFrames implements list_frames.
// GET /api/v1/jobs/:videoId/frames
func (h *Handlers) ListFrames(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	annotated := c.Query("annotated") == "true"
	entity := c.Query("entity")

	records, total, err := h.orch.ListFrames(c.Request.Context(), c.Param("videoId"), page, pageSize, annotated, entity)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"frames": records, "total": total, "page": page, "page_size": pageSize})
}

// NearestFrame implements nearest_frame.
// GET /api/v1/jobs/:videoId/frames/nearest
func (h *Handlers) NearestFrame(c *gin.Context) {
	ts, err := strconv.ParseFloat(c.Query("timestamp_sec"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp_sec must be a number"})
		return
	}
	entity := c.Query("entity")

	frame, index, err := h.orch.NearestFrame(c.Request.Context(), c.Param("videoId"), ts, entity)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no matching frame: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"frame": frame, "index": index})
}

// DeleteJob implements delete_job.
// DELETE /api/v1/jobs/:videoId
func (h *Handlers) DeleteJob(c *gin.Context) {
	if err := h.orch.DeleteJob(c.Request.Context(), c.Param("videoId")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
