package dto

import (
	"time"

	"github.com/your-org/facewatch/internal/models"
)

// RecognizeEncodingsRequest is the JSON recognition body for clients
// that compute encodings themselves.
type RecognizeEncodingsRequest struct {
	Encodings [][]float32 `json:"encodings" binding:"required"`
	Source    string      `json:"source,omitempty"`
}

// FaceResult is the recognition outcome for one face in an image.
type FaceResult struct {
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2
	DetScore   float32    `json:"det_score"`
	Matched    bool       `json:"matched"`
	PersonID   *int64     `json:"person_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Distance   float32    `json:"distance,omitempty"`
	Confidence float32    `json:"confidence,omitempty"`
}

type RecognizeResponse struct {
	JobID      string       `json:"job_id"`
	CapturedAt string       `json:"captured_at"`
	Source     string       `json:"source"`
	Faces      []FaceResult `json:"faces"`
	Total      int          `json:"total"`
}

// AsyncRecognizeResponse acknowledges a queued recognition job.
type AsyncRecognizeResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func NewFaceResult(rep models.DetectionReport) FaceResult {
	res := FaceResult{
		BBox:     rep.BBox,
		DetScore: rep.DetScore,
	}
	if rep.MatchedPersonID != nil {
		res.Matched = true
		res.PersonID = rep.MatchedPersonID
		res.Name = rep.MatchedName
		res.Distance = rep.Distance
		res.Confidence = rep.Confidence
	}
	return res
}

// NewRecognizeResponse builds the sync recognition body. Job fields
// are passed explicitly because an image with no faces produces no
// reports to read them from.
func NewRecognizeResponse(jobID string, capturedAt time.Time, source string, reports []models.DetectionReport) RecognizeResponse {
	resp := RecognizeResponse{
		JobID:      jobID,
		CapturedAt: capturedAt.UTC().Format(time.RFC3339),
		Source:     source,
		Faces:      make([]FaceResult, 0, len(reports)),
		Total:      len(reports),
	}
	for _, rep := range reports {
		resp.Faces = append(resp.Faces, NewFaceResult(rep))
	}
	return resp
}
