// Package video implements pipeline collaborators on top of OpenCV:
// capture, clip encoding, annotation, ONNX inference and JPEG streaming.
package video

import (
	"context"
	"image"
	"io"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/LdDl/redlight-go/pipeline"
)

// CaptureOpener opens files, stream URLs and capture devices
type CaptureOpener struct{}

// Open implements pipeline.SourceOpener
func (CaptureOpener) Open(ctx context.Context, spec pipeline.SourceSpec) (pipeline.Source[gocv.Mat], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var device interface{} = spec.Path
	if spec.UseCamera {
		device = spec.Camera
	}
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open capture '%s'", spec)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Errorf("capture '%s' is not opened", spec)
	}
	return &Capture{capture: capture}, nil
}

// Capture reads frames from gocv.VideoCapture
type Capture struct {
	capture *gocv.VideoCapture
}

// Read returns next frame, io.EOF when the stream ends or the device stops delivering
func (c *Capture) Read(ctx context.Context) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, err
	}
	frame := gocv.NewMat()
	if ok := c.capture.Read(&frame); !ok || frame.Empty() {
		frame.Close()
		return gocv.Mat{}, io.EOF
	}
	return frame, nil
}

// FPS returns stream frame rate as reported by the backend
func (c *Capture) FPS() float64 {
	return c.capture.Get(gocv.VideoCaptureFPS)
}

// FrameSize returns frame width and height
func (c *Capture) FrameSize() image.Point {
	return image.Pt(
		int(c.capture.Get(gocv.VideoCaptureFrameWidth)),
		int(c.capture.Get(gocv.VideoCaptureFrameHeight)),
	)
}

// Close releases the capture
func (c *Capture) Close() error {
	return c.capture.Close()
}

// MatFrames implements pipeline.FrameOps for gocv.Mat
type MatFrames struct{}

// Clone deep copies frame
func (MatFrames) Clone(frame gocv.Mat) gocv.Mat {
	return frame.Clone()
}

// Release frees frame memory
func (MatFrames) Release(frame gocv.Mat) {
	frame.Close()
}
