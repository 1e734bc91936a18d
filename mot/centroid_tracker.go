package mot

import (
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CentroidTracker is naive implementation of Multi-object tracker (MOT) with center distance matching.
// B is the blob type implementing Blob[B] interface.
type CentroidTracker[B Blob[B]] struct {
	// Main storage
	Objects map[uuid.UUID]B
	// Threshold distance (most of time in pixels). Default 30.0
	minDistThreshold float64
	// Max no match (max number of frames when object could not be found again). Default is 75
	maxNoMatch int
}

// NewCentroidTrackerDefault creates default instance of CentroidTracker
func NewCentroidTrackerDefault[B Blob[B]]() *CentroidTracker[B] {
	return NewCentroidTracker[B](30.0, 75)
}

// NewCentroidTracker creates new instance of CentroidTracker
func NewCentroidTracker[B Blob[B]](minDistThreshold float64, maxNoMatch int) *CentroidTracker[B] {
	return &CentroidTracker[B]{
		Objects:          make(map[uuid.UUID]B),
		minDistThreshold: minDistThreshold,
		maxNoMatch:       maxNoMatch,
	}
}

// MatchObjects matches new detections to existing objects by the nearest (current or predicted) center.
func (tracker *CentroidTracker[B]) MatchObjects(newObjects []B) error {
	for _, object := range tracker.Objects {
		// Make sure that object is marked as deactivated
		object.Deactivate()
		object.PredictNextPosition()
	}

	pq := &candidateHeap[B]{}
	for i, newObject := range newObjects {
		minID := uuid.Nil
		minDistance := math.MaxFloat64
		for objectID, object := range tracker.Objects {
			dist := math.Min(newObject.DistanceTo(object), newObject.DistanceToPredicted(object))
			if dist < minDistance {
				minDistance = dist
				minID = objectID
			}
		}
		pq.push(&matchCandidate[B]{
			blob:     newObjects[i],
			priority: -minDistance,
			bestID:   minID,
		})
	}

	blobsToRegister := make(map[uuid.UUID]B)
	// We need to prevent double update of objects
	reservedObjects := make(map[uuid.UUID]struct{})

	for pq.Len() > 0 {
		candidate := pq.pop()
		minDistance := -candidate.priority
		minID := candidate.bestID
		underlyingBlob := candidate.blob
		// Nearest candidates are popped first, so an object is updated with its closest detection only.
		// Other detections claiming the same object become new objects.
		if _, ok := reservedObjects[minID]; ok {
			blobsToRegister[underlyingBlob.GetID()] = underlyingBlob
			continue
		}
		object, ok := tracker.Objects[minID]
		if !ok || !(minDistance < underlyingBlob.GetDiagonal()*0.5 || minDistance < tracker.minDistThreshold) {
			blobsToRegister[underlyingBlob.GetID()] = underlyingBlob
			continue
		}
		err := object.Update(underlyingBlob)
		if err != nil {
			return errors.Wrapf(err, "Can't update blob with id %s", minID.String())
		}
		// ID of new object should match existing one
		underlyingBlob.SetID(minID)
		reservedObjects[minID] = struct{}{}
	}

	for blobID, blob := range blobsToRegister {
		blob.Activate()
		tracker.Objects[blobID] = blob
		reservedObjects[blobID] = struct{}{}
	}

	// Clean up existing data
	for objectID, object := range tracker.Objects {
		if _, ok := reservedObjects[objectID]; ok {
			continue
		}
		object.IncNoMatch()
		// Remove object if it was not found for a long time
		if object.GetNoMatchTimes() > tracker.maxNoMatch {
			delete(tracker.Objects, objectID)
		}
	}
	return nil
}

// GetActiveTracks returns every object still kept by tracker.
func (tracker *CentroidTracker[B]) GetActiveTracks() []B {
	tracks := make([]B, 0, len(tracker.Objects))
	for _, object := range tracker.Objects {
		tracks = append(tracks, object)
	}
	return tracks
}
