package vision

import (
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ArcFace w600k_r50 geometry: 112x112 crops in, 512 floats out.
const (
	embedInputSize = 112

	// EncodingDim is the length of every face encoding this module
	// produces and stores.
	EncodingDim = 512
)

// Embedder turns face crops into unit-length encodings using an
// ArcFace ONNX model. The session binds fixed tensors, so runs are
// serialized.
type Embedder struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewEmbedder loads the ArcFace ONNX model.
func NewEmbedder(modelPath string) (*Embedder, error) {
	inputShape := ort.NewShape(1, 3, embedInputSize, embedInputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, EncodingDim))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed runs the model on a CHW crop tensor of shape [3, 112, 112] and
// returns an L2-normalized encoding.
func (e *Embedder) Embed(input []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	enc := make([]float32, EncodingDim)
	copy(enc, e.outputTensor.GetData())
	normalize(enc)
	return enc, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// normalize scales v to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
