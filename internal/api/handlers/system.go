package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facewatch/internal/queue"
	"github.com/your-org/facewatch/internal/storage"
)

// SystemHandler serves liveness and readiness. Only wired backends are
// checked: archive and producer are nil when those subsystems are
// disabled in config.
type SystemHandler struct {
	store    storage.Store
	archive  *storage.Archive
	producer *queue.Producer
}

func NewSystemHandler(store storage.Store, archive *storage.Archive, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{store: store, archive: archive, producer: producer}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if h.archive != nil {
		if err := h.archive.Ping(ctx); err != nil {
			checks["minio"] = err.Error()
			healthy = false
		} else {
			checks["minio"] = "ok"
		}
	}

	if h.producer != nil {
		if err := h.producer.Ping(); err != nil {
			checks["nats"] = err.Error()
			healthy = false
		} else {
			checks["nats"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
