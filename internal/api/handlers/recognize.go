package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/queue"
	"github.com/your-org/facewatch/internal/recognize"
	"github.com/your-org/facewatch/internal/storage"
	"github.com/your-org/facewatch/internal/vision"
	"github.com/your-org/facewatch/pkg/dto"
)

type RecognizeHandler struct {
	svc        *recognize.Service
	producer   *queue.Producer  // optional, for the async path
	archive    *storage.Archive // optional, holds frames for workers
	frameWidth int
}

func NewRecognizeHandler(svc *recognize.Service, producer *queue.Producer, archive *storage.Archive, frameWidth int) *RecognizeHandler {
	return &RecognizeHandler{
		svc:        svc,
		producer:   producer,
		archive:    archive,
		frameWidth: frameWidth,
	}
}

func sourceField(c *gin.Context) string {
	src := strings.TrimSpace(c.PostForm("source"))
	if src == "" {
		return "api"
	}
	return src
}

// Recognize runs recognition inline and returns one result per face.
// JSON bodies carry precomputed encodings; multipart forms carry an
// image for the vision models.
func (h *RecognizeHandler) Recognize(c *gin.Context) {
	req := recognize.Request{
		JobID:      uuid.New(),
		CapturedAt: time.Now().UTC(),
	}

	if c.ContentType() == "application/json" {
		var body dto.RecognizeEncodingsRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Encodings = body.Encodings
		req.Source = strings.TrimSpace(body.Source)
		if req.Source == "" {
			req.Source = "api"
		}
	} else {
		imageData, ok := readImageFile(c)
		if !ok {
			return
		}
		req.ImageData = imageData
		req.Source = sourceField(c)
	}

	reports, err := h.svc.Recognize(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, recognize.ErrNoProvider) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision models not loaded"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "recognition failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.NewRecognizeResponse(req.JobID.String(), req.CapturedAt, req.Source, reports))
}

// RecognizeAsync archives the frame and queues a job for the worker
// pool. Results arrive on the WebSocket feed and in detection history.
func (h *RecognizeHandler) RecognizeAsync(c *gin.Context) {
	if h.producer == nil || h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async recognition requires nats and minio"})
		return
	}

	imageData, ok := readImageFile(c)
	if !ok {
		return
	}

	// Downscale before archiving so stored frames stay bounded.
	scaled, err := vision.ScaleToWidth(imageData, h.frameWidth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image: " + err.Error()})
		return
	}

	jobID := uuid.New()
	job := models.RecognitionJob{
		JobID:      jobID,
		FrameKey:   storage.FrameKey(jobID),
		CapturedAt: time.Now().UTC(),
		Source:     sourceField(c),
	}

	if err := h.archive.Put(c.Request.Context(), job.FrameKey, scaled, "image/jpeg"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store frame failed"})
		return
	}

	if err := h.producer.PublishJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue job failed"})
		return
	}

	c.JSON(http.StatusAccepted, dto.AsyncRecognizeResponse{
		JobID:  job.JobID.String(),
		Status: "queued",
	})
}
