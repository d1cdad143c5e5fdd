// Package recognize ties the vision provider, the in-memory registry
// and the store together: it turns an image into detection reports and
// owns person registration.
package recognize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facewatch/internal/match"
	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/registry"
	"github.com/your-org/facewatch/internal/storage"
	"github.com/your-org/facewatch/internal/vision"
)

var (
	// ErrNoFace is returned when an operation needs a face and the image
	// contains none.
	ErrNoFace = errors.New("no face found in image")
	// ErrNoProvider is returned by image-based operations when no vision
	// models are loaded. Raw-encoding operations still work: clients
	// running their own embedding model never need the provider.
	ErrNoProvider = errors.New("no encoding provider configured")
)

// Reporter receives one report per processed face. The API wires the
// WebSocket hub here; the worker wires the queue producer.
type Reporter interface {
	Report(ctx context.Context, rep models.DetectionReport) error
}

// Request describes one recognition run: either an image to detect
// faces in, or encodings computed by the client. Encodings win when
// both are set. Zero-value fields get defaults: a fresh job ID, the
// current time, source "api".
type Request struct {
	JobID      uuid.UUID
	ImageData  []byte
	Encodings  [][]float32
	Source     string
	CapturedAt time.Time
}

type Service struct {
	store    storage.Store
	registry *registry.Registry
	provider vision.Provider
	archive  *storage.Archive // optional
	reporter Reporter         // optional
}

// New builds a Service. provider, archive and reporter may be nil:
// without a provider the image-based operations fail with ErrNoProvider
// while the raw-encoding ones keep working; without archive or reporter
// photo archiving and report fan-out are skipped.
func New(store storage.Store, reg *registry.Registry, provider vision.Provider, archive *storage.Archive, reporter Reporter) *Service {
	return &Service{
		store:    store,
		registry: reg,
		provider: provider,
		archive:  archive,
		reporter: reporter,
	}
}

// Recognize finds faces in the image, matches each against the
// registry and logs a detection for every match. One report per face
// comes back and, when a reporter is wired, is also fanned out.
//
// Detection logging is the source of truth; report fan-out is best
// effort so a broadcast failure never double-logs a detection on
// retry.
func (s *Service) Recognize(ctx context.Context, req Request) ([]models.DetectionReport, error) {
	if req.JobID == uuid.Nil {
		req.JobID = uuid.New()
	}
	if req.CapturedAt.IsZero() {
		req.CapturedAt = time.Now().UTC()
	}
	if req.Source == "" {
		req.Source = "api"
	}

	obs, err := s.observations(req)
	if err != nil {
		return nil, err
	}

	observability.FacesDetected.WithLabelValues(req.Source).Add(float64(len(obs)))

	reports := make([]models.DetectionReport, 0, len(obs))
	for _, ob := range obs {
		rep := models.DetectionReport{
			JobID:      req.JobID,
			CapturedAt: req.CapturedAt,
			Source:     req.Source,
			BBox:       ob.BBox,
			DetScore:   ob.Score,
		}

		res, matched, err := s.registry.Match(ob.Encoding)
		if err != nil {
			return nil, fmt.Errorf("match face: %w", err)
		}

		if matched {
			rep.MatchedPersonID = &res.PersonID
			rep.MatchedName = res.Name
			rep.Distance = res.Distance
			rep.Confidence = res.Confidence

			if _, err := s.store.LogDetection(ctx, res.PersonID, req.CapturedAt, res.Confidence); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					// Person deleted since the last registry refresh.
					slog.Warn("matched person no longer exists", "person_id", res.PersonID)
					rep.MatchedPersonID = nil
					rep.MatchedName = ""
					rep.Distance = 0
					rep.Confidence = 0
					observability.FacesMatched.WithLabelValues("no_match").Inc()
					reports = append(reports, rep)
					continue
				}
				return nil, fmt.Errorf("log detection: %w", err)
			}
			observability.FacesMatched.WithLabelValues("match").Inc()
			observability.DetectionsLogged.Inc()
		} else {
			observability.FacesMatched.WithLabelValues("no_match").Inc()
		}

		reports = append(reports, rep)
	}

	if s.reporter != nil {
		for _, rep := range reports {
			if err := s.reporter.Report(ctx, rep); err != nil {
				slog.Error("report detection", "error", err, "job_id", rep.JobID)
			}
		}
	}

	return reports, nil
}

// observations resolves the faces of a request: passed-in encodings as
// given, otherwise the provider runs detection on the image.
func (s *Service) observations(req Request) ([]vision.Observation, error) {
	if len(req.Encodings) > 0 {
		obs := make([]vision.Observation, 0, len(req.Encodings))
		for _, enc := range req.Encodings {
			obs = append(obs, vision.Observation{Encoding: enc})
		}
		return obs, nil
	}
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	obs, err := s.provider.Encode(req.ImageData)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return obs, nil
}

// Register creates a person from the most prominent face in the image.
// Group photos are allowed; the largest detected face is the one
// enrolled.
func (s *Service) Register(ctx context.Context, name string, imageData []byte, metadata json.RawMessage) (*models.Person, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	obs, err := s.provider.Encode(imageData)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if len(obs) == 0 {
		return nil, ErrNoFace
	}

	person, err := s.store.CreatePerson(ctx, name, obs[0].Encoding, metadata)
	if err != nil {
		return nil, err
	}

	s.refresh(ctx)
	s.archivePhoto(ctx, person.ID, imageData)

	slog.Info("person registered", "person_id", person.ID, "name", person.Name, "faces_in_image", len(obs))
	return person, nil
}

// RegisterEncoding creates a person from a precomputed encoding, for
// clients that run their own embedding model. The encoding length must
// agree with the registry when the registry is non-empty; one odd-sized
// enrollment would otherwise fail every later match.
func (s *Service) RegisterEncoding(ctx context.Context, name string, encoding []float32, metadata json.RawMessage) (*models.Person, error) {
	if len(encoding) == 0 {
		return nil, fmt.Errorf("register encoding: %w: empty encoding", match.ErrDimensionMismatch)
	}
	if dim := s.registry.Dim(); dim > 0 && len(encoding) != dim {
		return nil, fmt.Errorf("register encoding: %w: %d vs %d", match.ErrDimensionMismatch, len(encoding), dim)
	}

	person, err := s.store.CreatePerson(ctx, name, encoding, metadata)
	if err != nil {
		return nil, err
	}

	s.refresh(ctx)

	slog.Info("person registered", "person_id", person.ID, "name", person.Name, "encoding_dim", len(encoding))
	return person, nil
}

// ReplaceEncoding re-enrolls an existing person from a new photo.
func (s *Service) ReplaceEncoding(ctx context.Context, personID int64, imageData []byte) (*models.Person, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	obs, err := s.provider.Encode(imageData)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if len(obs) == 0 {
		return nil, ErrNoFace
	}

	if err := s.store.ReplaceEncoding(ctx, personID, obs[0].Encoding); err != nil {
		return nil, err
	}

	s.refresh(ctx)
	s.archivePhoto(ctx, personID, imageData)

	return s.store.GetPerson(ctx, personID)
}

// refresh reloads the registry so enrollment changes match
// immediately instead of waiting for the periodic refresh.
func (s *Service) refresh(ctx context.Context) {
	if err := s.registry.Refresh(ctx); err != nil {
		slog.Warn("refresh registry", "error", err)
	}
}

// archivePhoto stores the enrollment photo. Best effort: the photo is
// auxiliary, enrollment already succeeded.
func (s *Service) archivePhoto(ctx context.Context, personID int64, data []byte) {
	if s.archive == nil {
		return
	}
	key := storage.PersonPhotoKey(personID)
	if err := s.archive.Put(ctx, key, data, "image/jpeg"); err != nil {
		slog.Warn("archive person photo", "error", err, "key", key)
	}
}
