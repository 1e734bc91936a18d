package pipeline

import (
	"context"
	"image"

	"github.com/LdDl/redlight-go/clip"
	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/violation"
	"github.com/LdDl/redlight-go/zone"
)

// Source yields frames of an opened video stream.
// Read returns io.EOF once the stream is exhausted. Returned frames are owned by the caller.
type Source[F any] interface {
	Read(ctx context.Context) (F, error)
	// Native frame rate, 0 when unknown
	FPS() float64
	FrameSize() image.Point
	Close() error
}

// SourceOpener opens the stream described by spec
type SourceOpener[F any] interface {
	Open(ctx context.Context, spec SourceSpec) (Source[F], error)
}

// Detector finds vehicles on a frame
type Detector[F any] interface {
	Detect(frame F, confidence float64) ([]mot.Detection, error)
}

// Tracker associates detections across frames. Each run gets a fresh tracker.
type Tracker[F any] interface {
	Update(detections []mot.Detection, frame F) ([]mot.Track, error)
}

// TrackerFactory creates tracker for a new run
type TrackerFactory[F any] func() (Tracker[F], error)

// LightClassifier returns raw traffic light label for a frame (see violation.LightLabel)
type LightClassifier[F any] interface {
	Classify(frame F) (string, error)
}

// Overlay is everything drawn on top of an emitted frame
type Overlay struct {
	Tracks   []mot.Track
	Light    violation.Light
	Zone     zone.Polygon
	Violated violation.Set
}

// Annotator draws overlay on frame in place
type Annotator[F any] interface {
	Annotate(frame F, overlay Overlay) error
}

// Sink consumes emitted frames. Emit may block until a consumer takes the frame
// and must not retain frame after returning.
type Sink[F any] interface {
	Emit(ctx context.Context, frame F) error
}

// ClipExporter writes clip frames to a named artifact
type ClipExporter[F any] interface {
	Export(frames []F, filename string, fps float64, frameSize image.Point) (clip.Result, error)
}

// Recorder stores violation events
type Recorder interface {
	Record(event violation.Event) error
}

// FrameOps manages frame memory. Frames without external resources can use nil.
type FrameOps[F any] interface {
	Clone(frame F) F
	Release(frame F)
}

type valueFrames[F any] struct{}

func (valueFrames[F]) Clone(frame F) F { return frame }
func (valueFrames[F]) Release(F)       {}

type vehicleTracker[F any] struct {
	tracker *mot.VehicleTracker
}

func (t vehicleTracker[F]) Update(detections []mot.Detection, _ F) ([]mot.Track, error) {
	return t.tracker.Update(detections)
}

// VehicleTrackerFactory builds mot.VehicleTracker per run. Frames are not used for association.
// Runs share one identifier sequence, so a track id is never repeated within the process.
func VehicleTrackerFactory[F any](opts mot.VehicleTrackerOptions) TrackerFactory[F] {
	if opts.IDs == nil {
		opts.IDs = &mot.IDSequence{}
	}
	return func() (Tracker[F], error) {
		tracker, err := mot.NewVehicleTracker(opts)
		if err != nil {
			return nil, err
		}
		return vehicleTracker[F]{tracker: tracker}, nil
	}
}
