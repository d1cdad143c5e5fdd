package vision

import (
	"fmt"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face box proposed by the detector, in pixel
// coordinates of the original image.
type Detection struct {
	BBox  [4]float32 // x1, y1, x2, y2
	Score float32
}

// det_10g stride configuration: each stride contributes one featuremap
// with two anchors per cell.
var detStrides = []int{8, 16, 32}

const anchorsPerCell = 2

const nmsIOU = 0.4

// Detector runs SCRFD face detection through ONNX Runtime. The session
// binds fixed input and output tensors, so runs are serialized.
type Detector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputSize     int
}

// NewDetector loads the SCRFD ONNX model with a square input of
// inputSize pixels. Output row counts follow from the input size: each
// stride s contributes (inputSize/s)^2 cells with two anchors per cell,
// so 640 px input yields 12800/3200/800 rows and 320 px input yields
// 3200/800/200.
func NewDetector(modelPath string, threshold float32, inputSize int) (*Detector, error) {
	inputShape := ort.NewShape(1, 3, int64(inputSize), int64(inputSize))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	type outputSpec struct {
		name string
		cols int64
	}

	// det_10g node names: scores then boxes, stride 8/16/32. Landmark
	// outputs exist in the model but are not requested.
	specs := []outputSpec{
		{"448", 1}, {"471", 1}, {"494", 1},
		{"451", 4}, {"474", 4}, {"497", 4},
	}

	outputNames := make([]string, len(specs))
	outputTensors := make([]*ort.Tensor[float32], len(specs))
	outputValues := make([]ort.Value, len(specs))

	for i, spec := range specs {
		rows := int64(anchorRows(inputSize, detStrides[i%len(detStrides)]))
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, spec.cols))
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputNames[i] = spec.name
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputSize:     inputSize,
	}, nil
}

// anchorRows returns the number of anchor rows one stride contributes
// for a square input.
func anchorRows(inputSize, stride int) int {
	cells := inputSize / stride
	return cells * cells * anchorsPerCell
}

// Detect runs detection on a CHW tensor of shape [3, size, size] and
// maps the surviving boxes back to origW x origH pixel space.
func (d *Detector) Detect(input []float32, origW, origH int) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return nms(d.decode(origW, origH), nmsIOU), nil
}

// decode walks the anchor grid at each stride and keeps boxes whose
// score clears the threshold.
func (d *Detector) decode(origW, origH int) []Detection {
	var out []Detection

	scaleW := float32(origW) / float32(d.inputSize)
	scaleH := float32(origH) / float32(d.inputSize)

	for si, stride := range detStrides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+3].GetData()

		cells := d.inputSize / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < cells; cy++ {
			for cx := 0; cx < cells; cx++ {
				for a := 0; a < anchorsPerCell; a++ {
					score := scores[idx]
					if score >= d.threshold {
						anchorX := float32(cx) * st
						anchorY := float32(cy) * st

						// Box outputs are anchor-to-edge distances in stride units.
						x1 := (anchorX - boxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - boxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + boxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + boxes[idx*4+3]*st) * scaleH

						out = append(out, Detection{
							BBox: [4]float32{
								clampF(x1, 0, float32(origW)),
								clampF(y1, 0, float32(origH)),
								clampF(x2, 0, float32(origW)),
								clampF(y2, 0, float32(origH)),
							},
							Score: score,
						})
					}
					idx++
				}
			}
		}
	}

	return out
}

// InputSize returns the square input size the detector runs at.
func (d *Detector) InputSize() int {
	return d.inputSize
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms drops boxes that overlap a higher-scoring box by more than the
// IoU threshold.
func nms(dets []Detection, iouThreshold float32) []Detection {
	if len(dets) == 0 {
		return dets
	}

	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Score > dets[j].Score
	})

	keep := make([]bool, len(dets))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(dets); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			if !keep[j] {
				continue
			}
			if iou(dets[i].BBox, dets[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, det := range dets {
		if keep[i] {
			result = append(result, det)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
