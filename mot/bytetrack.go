package mot

import (
	"github.com/arthurkushman/go-hungarian"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MatchingAlgorithm is for algorithm type for matching detections to tracks
type MatchingAlgorithm uint16

const (
	// MatchingAlgorithmHungarian uses the Hungarian algorithm (Kuhn-Munkres) for optimal assignment
	MatchingAlgorithmHungarian MatchingAlgorithm = iota
	// MatchingAlgorithmGreedy uses a greedy algorithm for faster but potentially suboptimal assignment
	MatchingAlgorithmGreedy
)

// ByteTracker is implementation of Multi-object tracker (MOT) called ByteTrack.
// Detection confidence is taken from blob itself (see Blob.GetConfidence).
// B is the blob type implementing Blob[B] interface.
type ByteTracker[B Blob[B]] struct {
	// Maximum number of frames an object can be missing before it is removed
	maxDisappeared int
	// Minimum IoU between predicted track box and detection to associate them
	minIoU float64
	// High detection confidence threshold
	highThresh float64
	// Low detection confidence threshold
	lowThresh float64
	// Algorithm to use for matching
	algorithm MatchingAlgorithm
	// Main storage
	Objects map[uuid.UUID]B
}

// DefaultByteTracker creates a ByteTracker with default parameters.
func DefaultByteTracker[B Blob[B]]() *ByteTracker[B] {
	return NewByteTracker[B](5, 0.3, 0.5, 0.3, MatchingAlgorithmHungarian)
}

// NewByteTracker creates a new instance of ByteTracker with specified parameters.
func NewByteTracker[B Blob[B]](maxDisappeared int, minIoU, highThresh, lowThresh float64, algorithm MatchingAlgorithm) *ByteTracker[B] {
	return &ByteTracker[B]{
		maxDisappeared: maxDisappeared,
		minIoU:         minIoU,
		highThresh:     highThresh,
		lowThresh:      lowThresh,
		algorithm:      algorithm,
		Objects:        make(map[uuid.UUID]B),
	}
}

// bboxPair is a helper struct to pair track ID with its bounding box.
type bboxPair struct {
	ID   uuid.UUID
	BBox Rectangle
}

// MatchObjects matches detections of the current frame with existing tracks.
func (bt *ByteTracker[B]) MatchObjects(detections []B) error {
	// Predict next positions for all existing tracks via Kalman filter
	for _, track := range bt.Objects {
		track.Deactivate()
		track.PredictNextPosition()
	}

	activeTrackIDs := make([]uuid.UUID, 0, len(bt.Objects))
	activeTrackBBoxes := make([]bboxPair, 0, len(bt.Objects))
	for id, track := range bt.Objects {
		if track.GetNoMatchTimes() < bt.maxDisappeared {
			activeTrackIDs = append(activeTrackIDs, id)
			activeTrackBBoxes = append(activeTrackBBoxes, bboxPair{
				ID:   id,
				BBox: track.GetPredictedBBox(),
			})
		}
	}

	matchedTracks := make(map[uuid.UUID]struct{})
	matchedDetections := make(map[int]struct{})

	// 1. First stage: Match high confidence detections
	highDetectionIndices := make([]int, 0, len(detections))
	for i, detection := range detections {
		if detection.GetConfidence() >= bt.highThresh {
			highDetectionIndices = append(highDetectionIndices, i)
		}
	}
	if len(activeTrackBBoxes) > 0 && len(highDetectionIndices) > 0 {
		iouMatrix := bt.createIoUMatrix(activeTrackBBoxes, highDetectionIndices, detections)
		matches := bt.performMatching(iouMatrix, activeTrackBBoxes, highDetectionIndices)
		err := bt.processMatches(matches, activeTrackBBoxes, highDetectionIndices, iouMatrix, detections, matchedTracks, matchedDetections)
		if err != nil {
			return errors.Wrap(err, "Can't process matches in stage 1")
		}
	}

	// 2. Second stage: Match low confidence detections with remaining tracks
	unmatchedTrackBBoxes := make([]bboxPair, 0)
	for _, id := range activeTrackIDs {
		if _, found := matchedTracks[id]; found {
			continue
		}
		if track, ok := bt.Objects[id]; ok {
			unmatchedTrackBBoxes = append(unmatchedTrackBBoxes, bboxPair{
				ID:   id,
				BBox: track.GetPredictedBBox(),
			})
		}
	}
	lowDetectionIndices := make([]int, 0)
	for i, detection := range detections {
		if _, found := matchedDetections[i]; found {
			continue
		}
		conf := detection.GetConfidence()
		if conf < bt.highThresh && conf >= bt.lowThresh {
			lowDetectionIndices = append(lowDetectionIndices, i)
		}
	}
	if len(unmatchedTrackBBoxes) > 0 && len(lowDetectionIndices) > 0 {
		iouMatrix := bt.createIoUMatrix(unmatchedTrackBBoxes, lowDetectionIndices, detections)
		matches := bt.performMatching(iouMatrix, unmatchedTrackBBoxes, lowDetectionIndices)
		err := bt.processMatches(matches, unmatchedTrackBBoxes, lowDetectionIndices, iouMatrix, detections, matchedTracks, matchedDetections)
		if err != nil {
			return errors.Wrap(err, "Can't process matches in stage 2")
		}
	}

	// 3. Add new tracks for unmatched high confidence detections.
	// They count as seen on this frame.
	for _, detIdx := range highDetectionIndices {
		if _, found := matchedDetections[detIdx]; found {
			continue
		}
		newBlob := detections[detIdx]
		newBlob.Activate()
		bt.Objects[newBlob.GetID()] = newBlob
		matchedTracks[newBlob.GetID()] = struct{}{}
	}

	// 4. Increment no_match_times for unmatched tracks and
	// 5. remove tracks that have disappeared for too long
	for id, track := range bt.Objects {
		if _, found := matchedTracks[id]; found {
			continue
		}
		track.IncNoMatch()
		if track.GetNoMatchTimes() >= bt.maxDisappeared {
			delete(bt.Objects, id)
		}
	}
	return nil
}

// GetActiveTracks returns a slice of active tracks.
func (bt *ByteTracker[B]) GetActiveTracks() []B {
	activeTracks := make([]B, 0, len(bt.Objects))
	for _, track := range bt.Objects {
		if track.GetNoMatchTimes() < bt.maxDisappeared {
			activeTracks = append(activeTracks, track)
		}
	}
	return activeTracks
}

// createIoUMatrix builds IoU matrix: rows are tracks of the current stage, columns are detections of the current stage.
func (bt *ByteTracker[B]) createIoUMatrix(trackBBoxes []bboxPair, detectionIndices []int, allDetections []B) [][]float64 {
	iouMatrix := make([][]float64, len(trackBBoxes))
	for i, trkBox := range trackBBoxes {
		row := make([]float64, len(detectionIndices))
		for j, detIdx := range detectionIndices {
			row[j] = IoU(trkBox.BBox, allDetections[detIdx].GetBBox())
		}
		iouMatrix[i] = row
	}
	return iouMatrix
}

// performMatching returns pairs of {trackIndexInStage, detectionIndexInStage}.
func (bt *ByteTracker[B]) performMatching(iouMatrix [][]float64, trackBBoxes []bboxPair, detectionIndices []int) [][2]int {
	if bt.algorithm != MatchingAlgorithmHungarian {
		return bt.performGreedyMatching(iouMatrix, trackBBoxes, detectionIndices)
	}
	numTracks := len(trackBBoxes)
	numDetections := len(detectionIndices)
	if numTracks == 0 || numDetections == 0 {
		return [][2]int{}
	}

	// Hungarian solver needs square matrix: pad with zero IoU (dummy rows/columns)
	paddedMatrix := iouMatrix
	if numTracks != numDetections {
		paddedSize := maxInt(numTracks, numDetections)
		paddedMatrix = make([][]float64, paddedSize)
		for i := range paddedMatrix {
			paddedMatrix[i] = make([]float64, paddedSize)
			if i < numTracks {
				copy(paddedMatrix[i], iouMatrix[i])
			}
		}
	}

	assignments := hungarian.SolveMax(paddedMatrix)
	matches := make([][2]int, 0, len(assignments))
	for trackIndex, rowMap := range assignments {
		// Inner map holds single entry: {detectionIndex: iou}
		for detectionIndex := range rowMap {
			// Dummy rows/columns are dropped
			if trackIndex < numTracks && detectionIndex < numDetections {
				matches = append(matches, [2]int{trackIndex, detectionIndex})
			}
			break
		}
	}
	return matches
}

// performGreedyMatching is helper function for greedy matching.
func (bt *ByteTracker[B]) performGreedyMatching(iouMatrix [][]float64, trackBBoxes []bboxPair, detectionIndices []int) [][2]int {
	matches := make([][2]int, 0)
	matchedDetIndicesInStage := make(map[int]struct{})
	for i := range trackBBoxes {
		bestIoU := -1.0
		bestDetIdxInStage := -1
		for j := range detectionIndices {
			if _, found := matchedDetIndicesInStage[j]; found {
				continue
			}
			currentIoU := iouMatrix[i][j]
			if currentIoU > bestIoU && currentIoU >= bt.minIoU {
				bestIoU = currentIoU
				bestDetIdxInStage = j
			}
		}
		if bestDetIdxInStage != -1 {
			matches = append(matches, [2]int{i, bestDetIdxInStage})
			matchedDetIndicesInStage[bestDetIdxInStage] = struct{}{}
		}
	}
	return matches
}

// processMatches updates tracks and marks matched entities.
// Pairs below minIoU are ignored (Hungarian assignment is complete, so it may pair unrelated boxes).
func (bt *ByteTracker[B]) processMatches(
	matches [][2]int,
	trackBBoxes []bboxPair,
	detectionIndices []int,
	iouMatrix [][]float64,
	allDetections []B,
	matchedTracks map[uuid.UUID]struct{},
	matchedDetections map[int]struct{},
) error {
	for _, match := range matches {
		trackIdxInStage, detIdxInStage := match[0], match[1]
		if iouMatrix[trackIdxInStage][detIdxInStage] < bt.minIoU {
			continue
		}
		trackID := trackBBoxes[trackIdxInStage].ID
		originalDetIdx := detectionIndices[detIdxInStage]
		track, ok := bt.Objects[trackID]
		if !ok {
			continue
		}
		err := track.Update(allDetections[originalDetIdx])
		if err != nil {
			return errors.Wrapf(err, "Can't update track %s", trackID)
		}
		track.Activate()
		track.ResetNoMatch()
		allDetections[originalDetIdx].SetID(trackID)
		matchedTracks[trackID] = struct{}{}
		matchedDetections[originalDetIdx] = struct{}{}
	}
	return nil
}
