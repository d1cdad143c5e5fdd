package vision

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/your-org/facewatch/internal/config"
	"github.com/your-org/facewatch/internal/observability"
)

// Model file names expected under vision.models_dir.
const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

// Per-model input normalization.
var (
	detMean = [3]float32{127.5, 127.5, 127.5}
	detStd  = [3]float32{128.0, 128.0, 128.0}
	embMean = [3]float32{127.5, 127.5, 127.5}
	embStd  = [3]float32{127.5, 127.5, 127.5}
)

// Observation is one face found in an image: where it was, how sure
// the detector is, and the encoding computed from the crop.
type Observation struct {
	BBox     [4]float32
	Score    float32
	Encoding []float32
}

// Provider finds faces in an image and encodes each of them.
// Observations come back ordered by box area, largest first, so
// callers that want one face per image take the most prominent one.
type Provider interface {
	Encode(imageData []byte) ([]Observation, error)
	Close()
}

// ONNXProvider implements Provider with SCRFD detection and ArcFace
// encodings.
type ONNXProvider struct {
	detector *Detector
	embedder *Embedder
}

// ProfileInputSize maps a detector profile to the square input size
// the detector runs at.
func ProfileInputSize(profile string) int {
	if profile == config.ProfileFast {
		return 320
	}
	return 640
}

// NewONNXProvider loads both models from cfg.ModelsDir. The detector
// input size follows the configured profile.
func NewONNXProvider(cfg config.VisionConfig) (*ONNXProvider, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	embPath := filepath.Join(cfg.ModelsDir, embedderModel)

	size := ProfileInputSize(cfg.DetectorProfile)

	slog.Info("loading detection model", "path", detPath, "profile", cfg.DetectorProfile, "input_size", size)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), size)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXProvider{detector: det, embedder: emb}, nil
}

// Encode decodes the image, detects faces and computes an encoding for
// each. A photo with no faces yields an empty slice and no error.
func (p *ONNXProvider) Encode(imageData []byte) ([]Observation, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	start := time.Now()
	size := p.detector.InputSize()
	detInput := toCHW(img, size, size, detMean, detStd)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	detections, err := p.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	obs := make([]Observation, 0, len(detections))
	for _, det := range detections {
		crop := cropFace(img, det.BBox)
		if crop == nil {
			continue
		}

		start = time.Now()
		embInput := toCHW(crop, embedInputSize, embedInputSize, embMean, embStd)
		enc, err := p.embedder.Embed(embInput)
		if err != nil {
			slog.Warn("encode face", "error", err)
			continue
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		obs = append(obs, Observation{BBox: det.BBox, Score: det.Score, Encoding: enc})
	}

	sortByArea(obs)
	return obs, nil
}

// Close releases both ONNX sessions.
func (p *ONNXProvider) Close() {
	if p.detector != nil {
		p.detector.Close()
	}
	if p.embedder != nil {
		p.embedder.Close()
	}
}

func sortByArea(obs []Observation) {
	sort.Slice(obs, func(i, j int) bool {
		return boxArea(obs[i].BBox) > boxArea(obs[j].BBox)
	})
}

func boxArea(b [4]float32) float32 {
	return (b[2] - b[0]) * (b[3] - b[1])
}
