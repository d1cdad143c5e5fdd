package dto

import (
	"encoding/json"
	"time"

	"github.com/your-org/facewatch/internal/models"
)

// CreatePersonRequest is the JSON enrollment body for clients that
// compute encodings themselves. Image-based enrollment uses multipart
// instead.
type CreatePersonRequest struct {
	Name     string          `json:"name" binding:"required"`
	Encoding []float32       `json:"encoding" binding:"required"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// UpdatePersonRequest carries a partial update; nil fields are left
// untouched.
type UpdatePersonRequest struct {
	Name     *string         `json:"name,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type PersonResponse struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	RegistrationDate string          `json:"registration_date"`
	LastSeen         *string         `json:"last_seen,omitempty"`
	TotalDetections  int64           `json:"total_detections"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

type PersonListResponse struct {
	Persons []PersonResponse `json:"persons"`
	Total   int              `json:"total"`
}

func NewPersonResponse(p *models.Person) PersonResponse {
	resp := PersonResponse{
		ID:               p.ID,
		Name:             p.Name,
		RegistrationDate: p.RegisteredAt.Format(time.RFC3339),
		TotalDetections:  p.TotalDetections,
		Metadata:         p.Metadata,
	}
	if p.LastSeen != nil {
		s := p.LastSeen.Format(time.RFC3339)
		resp.LastSeen = &s
	}
	return resp
}

func NewPersonListResponse(persons []models.Person) PersonListResponse {
	resp := PersonListResponse{
		Persons: make([]PersonResponse, 0, len(persons)),
		Total:   len(persons),
	}
	for i := range persons {
		resp.Persons = append(resp.Persons, NewPersonResponse(&persons[i]))
	}
	return resp
}
