package models

import (
	"time"

	"github.com/google/uuid"
)

type Detection struct {
	ID         int64     `json:"id" db:"id"`
	PersonID   int64     `json:"person_id" db:"person_id"`
	DetectedAt time.Time `json:"detection_time" db:"detection_time"`
	Confidence float32   `json:"confidence" db:"confidence"`
}

// RecognitionJob is the message published to NATS for worker processing.
type RecognitionJob struct {
	JobID      uuid.UUID `json:"job_id"`
	FrameKey   string    `json:"frame_key"` // MinIO object key
	CapturedAt time.Time `json:"captured_at"`
	Source     string    `json:"source"`
}

// DetectionReport is the output from a recognition worker for one face.
type DetectionReport struct {
	JobID           uuid.UUID  `json:"job_id"`
	CapturedAt      time.Time  `json:"captured_at"`
	Source          string     `json:"source"`
	BBox            [4]float32 `json:"bbox"` // x1, y1, x2, y2
	DetScore        float32    `json:"det_score"`
	MatchedPersonID *int64     `json:"matched_person_id,omitempty"`
	MatchedName     string     `json:"matched_name,omitempty"`
	Distance        float32    `json:"distance,omitempty"`
	Confidence      float32    `json:"confidence,omitempty"`
}
