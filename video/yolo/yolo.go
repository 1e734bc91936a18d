// Package yolo decodes raw YOLOv8 detection head output.
package yolo

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// Candidate is a single box before non-maximum suppression
type Candidate struct {
	Box     image.Rectangle
	Score   float32
	ClassID int
}

// Scale maps network input coordinates back to the frame
type Scale struct {
	X, Y float64
	// Frame size, boxes are clipped to it
	Bounds image.Point
}

// NewScale returns scale for a frame of frameSize resized to square inputSize
func NewScale(frameSize image.Point, inputSize int) Scale {
	return Scale{
		X:      float64(frameSize.X) / float64(inputSize),
		Y:      float64(frameSize.Y) / float64(inputSize),
		Bounds: frameSize,
	}
}

// DecodeV8 parses [1, 4+classes, anchors] output stored row-major in data.
// Rows 0..3 are cx, cy, w, h in input pixels, the rest are per-class scores.
// Candidates with best class score below threshold are dropped.
func DecodeV8(data []float32, rows, anchors int, threshold float32, scale Scale) ([]Candidate, error) {
	if rows < 5 {
		return nil, errors.Errorf("unexpected output rows %d, need at least 5", rows)
	}
	if anchors <= 0 || len(data) < rows*anchors {
		return nil, errors.Errorf("output holds %d values, expected %dx%d", len(data), rows, anchors)
	}
	bounds := image.Rectangle{Max: scale.Bounds}
	candidates := make([]Candidate, 0)
	for i := 0; i < anchors; i++ {
		classID := -1
		var best float32
		for c := 4; c < rows; c++ {
			if score := data[c*anchors+i]; score > best {
				best = score
				classID = c - 4
			}
		}
		if classID < 0 || best < threshold {
			continue
		}
		cx := float64(data[i])
		cy := float64(data[anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])
		box := image.Rect(
			int(math.Round((cx-w/2)*scale.X)),
			int(math.Round((cy-h/2)*scale.Y)),
			int(math.Round((cx+w/2)*scale.X)),
			int(math.Round((cy+h/2)*scale.Y)),
		)
		if !scale.Bounds.Eq(image.Point{}) {
			box = box.Intersect(bounds)
		}
		if box.Empty() {
			continue
		}
		candidates = append(candidates, Candidate{Box: box, Score: best, ClassID: classID})
	}
	return candidates, nil
}

// Best returns candidate with the highest score
func Best(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

// Split returns boxes and scores in the layout NMS routines expect
func Split(candidates []Candidate) ([]image.Rectangle, []float32) {
	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i := range candidates {
		boxes[i] = candidates[i].Box
		scores[i] = candidates[i].Score
	}
	return boxes, scores
}
