package video

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/video/yolo"
	"github.com/LdDl/redlight-go/violation"
)

// DefaultNMSThreshold is the IoU above which overlapping boxes are suppressed
const DefaultNMSThreshold = 0.45

// Model is a YOLOv8 network exported to ONNX
type Model struct {
	mu        sync.Mutex
	net       gocv.Net
	path      string
	inputSize int
	nms       float32
}

// LoadModel reads ONNX file. inputSize is the square network input side.
func LoadModel(path string, inputSize int) (*Model, error) {
	if inputSize <= 0 {
		return nil, errors.Errorf("bad input size %d", inputSize)
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, errors.Errorf("can't load model '%s'", path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &Model{
		net:       net,
		path:      path,
		inputSize: inputSize,
		nms:       DefaultNMSThreshold,
	}, nil
}

// Infer runs the network and returns boxes surviving confidence filter and NMS, in frame coordinates
func (m *Model) Infer(frame gocv.Mat, confidence float32) ([]yolo.Candidate, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(m.inputSize, m.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, errors.Errorf("model '%s' output has %d dims, expected 3", m.path, len(dims))
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "can't read model output")
	}
	scale := yolo.NewScale(image.Pt(frame.Cols(), frame.Rows()), m.inputSize)
	candidates, err := yolo.DecodeV8(data, dims[1], dims[2], confidence, scale)
	if err != nil {
		return nil, errors.Wrapf(err, "model '%s'", m.path)
	}
	if len(candidates) == 0 {
		return candidates, nil
	}
	boxes, scores := yolo.Split(candidates)
	keep := gocv.NMSBoxes(boxes, scores, confidence, m.nms)
	out := make([]yolo.Candidate, 0, len(keep))
	for _, idx := range keep {
		out = append(out, candidates[idx])
	}
	return out, nil
}

// Close releases the network
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// VehicleDetector implements pipeline.Detector
type VehicleDetector struct {
	model *Model
}

// NewVehicleDetector wraps vehicle model
func NewVehicleDetector(model *Model) *VehicleDetector {
	return &VehicleDetector{model: model}
}

// Detect returns vehicles with score at least confidence
func (d *VehicleDetector) Detect(frame gocv.Mat, confidence float64) ([]mot.Detection, error) {
	candidates, err := d.model.Infer(frame, float32(confidence))
	if err != nil {
		return nil, err
	}
	detections := make([]mot.Detection, len(candidates))
	for i, c := range candidates {
		detections[i] = mot.Detection{
			Box:        c.Box,
			Confidence: float64(c.Score),
			ClassID:    c.ClassID,
		}
	}
	return detections, nil
}

// LightClassifier implements pipeline.LightClassifier with a light detection model.
// The most confident detected light decides the label.
type LightClassifier struct {
	model      *Model
	confidence float32
}

// NewLightClassifier wraps light model
func NewLightClassifier(model *Model, confidence float64) *LightClassifier {
	return &LightClassifier{model: model, confidence: float32(confidence)}
}

// Classify returns raw light label, violation.LabelUnknown when no light is seen
func (c *LightClassifier) Classify(frame gocv.Mat) (string, error) {
	candidates, err := c.model.Infer(frame, c.confidence)
	if err != nil {
		return violation.LabelUnknown, err
	}
	best, ok := yolo.Best(candidates)
	if !ok {
		return violation.LabelUnknown, nil
	}
	return violation.LightLabel(best.ClassID), nil
}
