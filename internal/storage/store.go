package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/your-org/facewatch/internal/models"
)

var (
	// ErrNotFound covers person lookups by id, including the referential
	// check inside LogDetection.
	ErrNotFound = errors.New("not found")
	// ErrNameTaken is returned when a person name is already registered.
	ErrNameTaken = errors.New("person name already registered")
)

// DetectionFilter narrows ListDetections. Nil fields are ignored.
type DetectionFilter struct {
	PersonID *int64
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type OverviewStats struct {
	TotalDetections int64 `json:"total_detections"`
	UniquePersons   int64 `json:"unique_persons"`
}

type PersonCount struct {
	PersonID int64  `json:"person_id"`
	Name     string `json:"name"`
	Count    int64  `json:"count"`
}

type DailyCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

type SystemStats struct {
	TotalPersons    int64      `json:"total_persons"`
	TotalDetections int64      `json:"total_detections"`
	LastPersonName  string     `json:"last_person_name,omitempty"`
	LastDetectedAt  *time.Time `json:"last_detected_at,omitempty"`
}

// Store is the persistence contract shared by the SQLite and PostgreSQL
// backends. All mutations involving more than one row run in a single
// transaction: LogDetection writes the event row and bumps the person
// counters together, DeletePerson removes the person and its detection
// rows together.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreatePerson(ctx context.Context, name string, encoding []float32, metadata json.RawMessage) (*models.Person, error)
	GetPerson(ctx context.Context, id int64) (*models.Person, error)
	ListPersons(ctx context.Context) ([]models.Person, error)
	SearchPersons(ctx context.Context, query string) ([]models.Person, error)
	UpdatePerson(ctx context.Context, id int64, name *string, metadata json.RawMessage) (*models.Person, error)
	ReplaceEncoding(ctx context.Context, id int64, encoding []float32) error
	DeletePerson(ctx context.Context, id int64) error
	CountPersons(ctx context.Context) (int64, error)

	// ListEncodings returns id, name and encoding for every person,
	// ordered by ascending id so matching ties stay deterministic.
	ListEncodings(ctx context.Context) ([]models.Person, error)

	LogDetection(ctx context.Context, personID int64, at time.Time, confidence float32) (*models.Detection, error)
	ListDetections(ctx context.Context, f DetectionFilter) ([]models.Detection, int, error)

	OverviewStats(ctx context.Context, since time.Time) (*OverviewStats, error)
	TopPersons(ctx context.Context, since time.Time, limit int) ([]PersonCount, error)
	DailyCounts(ctx context.Context, since time.Time) ([]DailyCount, error)
	SystemStats(ctx context.Context) (*SystemStats, error)
}

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

func migrationFiles(dialect string) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations/" + dialect)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func migrationSQL(dialect, name string) (string, error) {
	b, err := migrationsFS.ReadFile("migrations/" + dialect + "/" + name)
	if err != nil {
		return "", fmt.Errorf("read migration %s: %w", name, err)
	}
	return string(b), nil
}
