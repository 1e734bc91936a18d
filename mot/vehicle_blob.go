package mot

import (
	"math"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultMaxTrackLen = 150
)

// VehicleBlob is a detected vehicle tracked with 8-D Kalman filter over full bounding box dynamics.
// State vector: [cx, cy, w, h, vx, vy, vw, vh] - center position, size, and velocities.
// It implements Blob[*VehicleBlob] interface.
type VehicleBlob struct {
	id            uuid.UUID
	classID       int
	confidence    float64
	currentBBox   Rectangle
	predictedBBox Rectangle
	track         []Point
	maxTrackLen   int
	active        bool
	hits          int
	noMatchTimes  int
	diagonal      float64
	tracker       *kalman_filter.KalmanBBox
}

// NewVehicleBlobWithTime creates a new VehicleBlob for a single detection with specified time step.
func NewVehicleBlobWithTime(currentBbox Rectangle, classID int, confidence float64, dt float64) *VehicleBlob {
	center := currentBbox.Center()

	// Kalman filter props
	uCx := 1.0
	uCy := 1.0
	uW := 0.0
	uH := 0.0
	stdDevA := 2.0
	stdDevMCx := 0.1
	stdDevMCy := 0.1
	stdDevMW := 0.1
	stdDevMH := 0.1
	kf := kalman_filter.NewKalmanBBox(
		dt, uCx, uCy, uW, uH,
		stdDevA, stdDevMCx, stdDevMCy, stdDevMW, stdDevMH,
		kalman_filter.WithStateBBox(center.X, center.Y, currentBbox.Width, currentBbox.Height),
	)

	blob := VehicleBlob{
		id:            uuid.New(),
		classID:       classID,
		confidence:    confidence,
		currentBBox:   currentBbox,
		predictedBBox: currentBbox,
		track:         make([]Point, 0, defaultMaxTrackLen),
		maxTrackLen:   defaultMaxTrackLen,
		hits:          1,
		diagonal:      math.Hypot(currentBbox.Width, currentBbox.Height),
		tracker:       kf,
	}
	blob.track = append(blob.track, center)
	return &blob
}

// NewVehicleBlob creates a new VehicleBlob with default time step of 1.0.
func NewVehicleBlob(currentBbox Rectangle, classID int, confidence float64) *VehicleBlob {
	return NewVehicleBlobWithTime(currentBbox, classID, confidence, 1.0)
}

// Activate activates blob
func (blob *VehicleBlob) Activate() {
	blob.active = true
}

// Deactivate deactivates blob
func (blob *VehicleBlob) Deactivate() {
	blob.active = false
}

// GetID returns blob's identifier
func (blob *VehicleBlob) GetID() uuid.UUID {
	return blob.id
}

// SetID sets blob's identifier
func (blob *VehicleBlob) SetID(newID uuid.UUID) {
	blob.id = newID
}

// GetClassID returns class of the latest associated detection
func (blob *VehicleBlob) GetClassID() int {
	return blob.classID
}

// GetConfidence returns confidence of the latest associated detection
func (blob *VehicleBlob) GetConfidence() float64 {
	return blob.confidence
}

// GetCenter returns blob's current center
func (blob *VehicleBlob) GetCenter() Point {
	return blob.currentBBox.Center()
}

// GetBBox returns blob's current bounding box
func (blob *VehicleBlob) GetBBox() Rectangle {
	return blob.currentBBox
}

// GetPredictedBBox returns predicted bounding box from Kalman filter
func (blob *VehicleBlob) GetPredictedBBox() Rectangle {
	return blob.predictedBBox
}

// GetDiagonal returns blob's estimated diagonal
func (blob *VehicleBlob) GetDiagonal() float64 {
	return blob.diagonal
}

// GetTrack returns blob's current track. Be careful: this is not copy of track, but reference to it
func (blob *VehicleBlob) GetTrack() []Point {
	return blob.track
}

// GetMaxTrackLen returns blob's max track length
func (blob *VehicleBlob) GetMaxTrackLen() int {
	return blob.maxTrackLen
}

// SetMaxTrackLen sets blob's max track length
func (blob *VehicleBlob) SetMaxTrackLen(newMaxTrackLen int) {
	blob.maxTrackLen = newMaxTrackLen
}

// GetHits returns number of detections associated with blob (including the very first one)
func (blob *VehicleBlob) GetHits() int {
	return blob.hits
}

// GetNoMatchTimes returns blob's no match times
func (blob *VehicleBlob) GetNoMatchTimes() int {
	return blob.noMatchTimes
}

// IncNoMatch increases blob's no match times
func (blob *VehicleBlob) IncNoMatch() {
	blob.noMatchTimes++
}

// ResetNoMatch resets blob's no match times
func (blob *VehicleBlob) ResetNoMatch() {
	blob.noMatchTimes = 0
}

// DistanceTo returns distance to other blob (center to center)
func (blob *VehicleBlob) DistanceTo(otherBlob *VehicleBlob) float64 {
	return euclideanDistance(blob.GetCenter(), otherBlob.GetCenter())
}

// DistanceToPredicted returns distance to other blob (predicted center to predicted center)
func (blob *VehicleBlob) DistanceToPredicted(otherBlob *VehicleBlob) float64 {
	return euclideanDistance(blob.predictedBBox.Center(), otherBlob.predictedBBox.Center())
}

// PredictNextPosition executes Kalman filter prediction step
func (blob *VehicleBlob) PredictNextPosition() {
	blob.tracker.Predict()
	cx, cy, w, h := blob.tracker.GetState()
	blob.predictedBBox = Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
}

// Update associates new detection with blob and executes Kalman filter update step
func (blob *VehicleBlob) Update(newBlob *VehicleBlob) error {
	measured := newBlob.currentBBox.Center()
	err := blob.tracker.Update(measured.X, measured.Y, newBlob.currentBBox.Width, newBlob.currentBBox.Height)
	if err != nil {
		return errors.Wrap(err, "Can't update object tracker")
	}

	// Smoothed state is what downstream consumers see
	cx, cy, w, h := blob.tracker.GetState()
	blob.currentBBox = Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
	blob.diagonal = math.Hypot(w, h)

	// Detector may flip class between frames; the latest one wins
	blob.classID = newBlob.classID
	blob.confidence = newBlob.confidence

	blob.active = true
	blob.hits++
	blob.noMatchTimes = 0

	blob.track = append(blob.track, Point{X: cx, Y: cy})
	if len(blob.track) > blob.maxTrackLen {
		blob.track = blob.track[1:]
	}
	return nil
}

// GetVelocity returns current velocity estimates (vx, vy, vw, vh) from Kalman filter
func (blob *VehicleBlob) GetVelocity() (float64, float64, float64, float64) {
	return blob.tracker.GetVelocity()
}
