package mot

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// IoUTracker is a naive implementation of Multi-object tracker (MOT) with IoU matching.
// Uses hybrid IoU + distance matching for better recovery when IoU is zero.
type IoUTracker[B Blob[B]] struct {
	// Max no match (max number of frames when object could not be found again)
	maxNoMatch int
	// IoU threshold for matching
	iouThreshold float64
	// Storage for tracked objects
	Objects map[uuid.UUID]B
}

// NewDefaultIoUTracker creates a default instance of IoUTracker.
// Default values: maxNoMatch=75, iouThreshold=0.0
func NewDefaultIoUTracker[B Blob[B]]() *IoUTracker[B] {
	return NewIoUTracker[B](75, 0.0)
}

// NewIoUTracker creates a new instance of IoUTracker with specified parameters.
func NewIoUTracker[B Blob[B]](maxNoMatch int, iouThreshold float64) *IoUTracker[B] {
	return &IoUTracker[B]{
		maxNoMatch:   maxNoMatch,
		iouThreshold: iouThreshold,
		Objects:      make(map[uuid.UUID]B),
	}
}

// matchScore combines IoU against predicted box with center distance.
// IoU is favored when available, distance is a fallback for fast movers.
func matchScore(predictedBBox Rectangle, detection Rectangle) float64 {
	iouValue := IoU(detection, predictedBBox)
	distance := euclideanDistance(predictedBBox.Center(), detection.Center())
	// Convert to 0-1 similarity
	distanceScore := 1.0 / (1.0 + distance*0.01)
	if iouValue > 0.05 {
		return iouValue*0.8 + distanceScore*0.2
	}
	return distanceScore * 0.5
}

// MatchObjects matches new detections to existing tracked objects using hybrid IoU + distance.
func (tracker *IoUTracker[B]) MatchObjects(newObjects []B) error {
	// Mark all existing objects as deactivated
	for _, object := range tracker.Objects {
		object.Deactivate()
	}

	pq := &candidateHeap[B]{}
	for i := range newObjects {
		newObj := newObjects[i]
		candidate := &matchCandidate[B]{blob: newObj}
		for objID, object := range tracker.Objects {
			score := matchScore(object.GetPredictedBBox(), newObj.GetBBox())
			if score > candidate.priority {
				candidate.priority = score
				candidate.bestID = objID
			}
		}
		pq.push(candidate)
	}

	blobsToRegister := make(map[uuid.UUID]B)
	// Prevent double update of objects
	reservedObjects := make(map[uuid.UUID]struct{})

	// Process matches from highest score to lowest
	for pq.Len() > 0 {
		item := pq.pop()
		blob := item.blob
		if _, reserved := reservedObjects[item.bestID]; reserved {
			blobsToRegister[blob.GetID()] = blob
			continue
		}
		existingObj, ok := tracker.Objects[item.bestID]
		if !ok || item.priority <= tracker.iouThreshold {
			blobsToRegister[blob.GetID()] = blob
			continue
		}
		// Advance time and update in correct order
		existingObj.PredictNextPosition()
		err := existingObj.Update(blob)
		if err != nil {
			return errors.Wrapf(err, "Can't update blob with id %s", item.bestID.String())
		}
		existingObj.Activate()
		blob.SetID(item.bestID)
		reservedObjects[item.bestID] = struct{}{}
	}

	// Fresh objects are considered seen on this frame
	for id, blob := range blobsToRegister {
		blob.Activate()
		tracker.Objects[id] = blob
		reservedObjects[id] = struct{}{}
	}

	// Handle unmatched objects (predict forward for track maintenance)
	for id, object := range tracker.Objects {
		if _, ok := reservedObjects[id]; ok {
			continue
		}
		object.PredictNextPosition()
		object.IncNoMatch()
		// Remove objects not found for a long time
		if object.GetNoMatchTimes() > tracker.maxNoMatch {
			delete(tracker.Objects, id)
		}
	}
	return nil
}

// GetActiveTracks returns every object still kept by tracker.
func (tracker *IoUTracker[B]) GetActiveTracks() []B {
	tracks := make([]B, 0, len(tracker.Objects))
	for _, object := range tracker.Objects {
		tracks = append(tracks, object)
	}
	return tracks
}
