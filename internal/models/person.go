package models

import (
	"encoding/json"
	"time"
)

type Person struct {
	ID              int64           `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Encoding        []float32       `json:"-" db:"face_encoding"`
	RegisteredAt    time.Time       `json:"registration_date" db:"registration_date"`
	LastSeen        *time.Time      `json:"last_seen,omitempty" db:"last_seen"`
	TotalDetections int64           `json:"total_detections" db:"total_detections"`
	Metadata        json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}
