package dto

import (
	"time"

	"github.com/your-org/facewatch/internal/models"
)

type DetectionResponse struct {
	ID            int64   `json:"id"`
	PersonID      int64   `json:"person_id"`
	DetectionTime string  `json:"detection_time"`
	Confidence    float32 `json:"confidence"`
}

type DetectionListResponse struct {
	Detections []DetectionResponse `json:"detections"`
	Total      int                 `json:"total"`
}

// DetectionQuery narrows GET /v1/detections. Times are RFC 3339.
type DetectionQuery struct {
	PersonID *int64 `form:"person_id"`
	From     string `form:"from"`
	To       string `form:"to"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

func NewDetectionResponse(d models.Detection) DetectionResponse {
	return DetectionResponse{
		ID:            d.ID,
		PersonID:      d.PersonID,
		DetectionTime: d.DetectedAt.Format(time.RFC3339),
		Confidence:    d.Confidence,
	}
}

func NewDetectionListResponse(detections []models.Detection, total int) DetectionListResponse {
	resp := DetectionListResponse{
		Detections: make([]DetectionResponse, 0, len(detections)),
		Total:      total,
	}
	for _, d := range detections {
		resp.Detections = append(resp.Detections, NewDetectionResponse(d))
	}
	return resp
}

// WSDetection is one real-time message pushed to WebSocket clients,
// one per recognized or unrecognized face.
type WSDetection struct {
	Type       string     `json:"type"` // face_matched, face_unknown
	JobID      string     `json:"job_id"`
	CapturedAt string     `json:"captured_at"`
	Source     string     `json:"source"`
	Data       FaceResult `json:"data"`
}

func NewWSDetection(rep models.DetectionReport) WSDetection {
	msgType := "face_unknown"
	if rep.MatchedPersonID != nil {
		msgType = "face_matched"
	}
	return WSDetection{
		Type:       msgType,
		JobID:      rep.JobID.String(),
		CapturedAt: rep.CapturedAt.Format(time.RFC3339),
		Source:     rep.Source,
		Data:       NewFaceResult(rep),
	}
}
