package mot

import (
	"image"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Algorithm names accepted by NewVehicleTracker
const (
	AlgorithmByteTrack = "bytetrack"
	AlgorithmIoU       = "iou"
	AlgorithmCentroid  = "centroid"
)

// Detection is a single detector output on a frame
type Detection struct {
	// Axis-aligned box in pixels (x1, y1) - (x2, y2)
	Box        image.Rectangle
	Confidence float64
	ClassID    int
}

// Track is a snapshot of a tracked vehicle after the latest update
type Track struct {
	// Stable for the object's lifetime, never reused
	ID      int
	ClassID int
	Box     image.Rectangle
	// Confirmed after enough associated detections
	Confirmed bool
	// Zero when track was associated with a detection on the latest frame
	FramesSinceUpdate int
	// Number of associated detections
	Hits int
}

// VehicleTrackerOptions configures VehicleTracker
type VehicleTrackerOptions struct {
	// One of AlgorithmByteTrack, AlgorithmIoU, AlgorithmCentroid
	Algorithm string
	// Frames an object may be missed before removal
	MaxDisappeared int
	// ByteTrack association IoU
	MinIoU float64
	// ByteTrack confidence thresholds
	HighThresh float64
	LowThresh  float64
	// Associated detections required to confirm track
	ConfirmHits int
	// Kalman time step
	Dt float64
	// Source of track identifiers. Trackers sharing it never hand out the same
	// identifier; nil gives the tracker its own sequence starting at 1.
	IDs *IDSequence
}

// IDSequence hands out increasing track identifiers starting at 1. Safe for concurrent use.
type IDSequence struct {
	last atomic.Int64
}

// Next returns a fresh identifier
func (seq *IDSequence) Next() int {
	return int(seq.last.Add(1))
}

// DefaultVehicleTrackerOptions returns ByteTrack with DeepSORT-like confirmation
func DefaultVehicleTrackerOptions() VehicleTrackerOptions {
	return VehicleTrackerOptions{
		Algorithm:      AlgorithmByteTrack,
		MaxDisappeared: 30,
		MinIoU:         0.3,
		HighThresh:     0.5,
		LowThresh:      0.3,
		ConfirmHits:    3,
		Dt:             1.0,
	}
}

// vehicleMatcher is implemented by every tracker over *VehicleBlob
type vehicleMatcher interface {
	MatchObjects(detections []*VehicleBlob) error
	GetActiveTracks() []*VehicleBlob
}

// VehicleTracker turns detections into tracks with integer identifiers.
// It is not safe for concurrent use.
type VehicleTracker struct {
	matcher     vehicleMatcher
	confirmHits int
	dt          float64
	// Internal blob identity to public integer identifier
	ids   map[uuid.UUID]int
	idSeq *IDSequence
}

// NewVehicleTracker creates tracker for the configured algorithm
func NewVehicleTracker(opts VehicleTrackerOptions) (*VehicleTracker, error) {
	var matcher vehicleMatcher
	switch opts.Algorithm {
	case AlgorithmByteTrack, "":
		matcher = NewByteTracker[*VehicleBlob](opts.MaxDisappeared, opts.MinIoU, opts.HighThresh, opts.LowThresh, MatchingAlgorithmHungarian)
	case AlgorithmIoU:
		matcher = NewIoUTracker[*VehicleBlob](opts.MaxDisappeared, opts.MinIoU)
	case AlgorithmCentroid:
		matcher = NewCentroidTracker[*VehicleBlob](30.0, opts.MaxDisappeared)
	default:
		return nil, errors.Errorf("unknown tracking algorithm '%s'", opts.Algorithm)
	}
	if opts.ConfirmHits < 1 {
		opts.ConfirmHits = 1
	}
	if opts.Dt <= 0 {
		opts.Dt = 1.0
	}
	if opts.IDs == nil {
		opts.IDs = &IDSequence{}
	}
	return &VehicleTracker{
		matcher:     matcher,
		confirmHits: opts.ConfirmHits,
		dt:          opts.Dt,
		ids:         make(map[uuid.UUID]int),
		idSeq:       opts.IDs,
	}, nil
}

// Update associates detections of a new frame and returns every kept track ordered by ID
func (tracker *VehicleTracker) Update(detections []Detection) ([]Track, error) {
	blobs := make([]*VehicleBlob, 0, len(detections))
	for _, detection := range detections {
		if detection.Box.Empty() {
			continue
		}
		blobs = append(blobs, NewVehicleBlobWithTime(NewRectFrom(detection.Box), detection.ClassID, detection.Confidence, tracker.dt))
	}
	if err := tracker.matcher.MatchObjects(blobs); err != nil {
		return nil, errors.Wrap(err, "Can't match detections")
	}

	active := tracker.matcher.GetActiveTracks()
	// Fresh objects get identifiers left-to-right so numbering is reproducible
	sort.Slice(active, func(i, j int) bool {
		bi, bj := active[i].GetBBox(), active[j].GetBBox()
		if bi.X != bj.X {
			return bi.X < bj.X
		}
		return bi.Y < bj.Y
	})
	alive := make(map[uuid.UUID]struct{}, len(active))
	tracks := make([]Track, 0, len(active))
	for _, blob := range active {
		blobID := blob.GetID()
		alive[blobID] = struct{}{}
		id, ok := tracker.ids[blobID]
		if !ok {
			id = tracker.idSeq.Next()
			tracker.ids[blobID] = id
		}
		tracks = append(tracks, Track{
			ID:                id,
			ClassID:           blob.GetClassID(),
			Box:               blob.GetBBox().Image(),
			Confirmed:         blob.GetHits() >= tracker.confirmHits,
			FramesSinceUpdate: blob.GetNoMatchTimes(),
			Hits:              blob.GetHits(),
		})
	}
	// Forget identifiers of removed objects
	for blobID := range tracker.ids {
		if _, ok := alive[blobID]; !ok {
			delete(tracker.ids, blobID)
		}
	}
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].ID < tracks[j].ID
	})
	return tracks, nil
}

