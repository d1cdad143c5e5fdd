package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facewatch/internal/storage"
	"github.com/your-org/facewatch/pkg/dto"
)

type DetectionHandler struct {
	store storage.Store
}

func NewDetectionHandler(store storage.Store) *DetectionHandler {
	return &DetectionHandler{store: store}
}

// List returns detection events across all persons, newest first,
// optionally narrowed by person and time window.
func (h *DetectionHandler) List(c *gin.Context) {
	var q dto.DetectionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := storage.DetectionFilter{
		PersonID: q.PersonID,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		filter.From = &t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		filter.To = &t
	}

	detections, total, err := h.store.ListDetections(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.NewDetectionListResponse(detections, total))
}
