// Package violation decides which tracked vehicles ran the light: a track
// whose anchor point is inside the zone while the light is in the Stop
// category is marked violated exactly once for its lifetime.
package violation

import (
	"image"

	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/zone"
)

// MaxFramesSinceUpdate is the staleness limit: tracks missed for longer are not evaluated
const MaxFramesSinceUpdate = 1

// Anchor returns bottom-center of box, the ground contact proxy of a vehicle
func Anchor(box image.Rectangle) image.Point {
	return image.Pt((box.Min.X+box.Max.X)/2, box.Max.Y)
}

// Eligible reports whether track takes part in evaluation and annotation: confirmed and fresh
func Eligible(track mot.Track) bool {
	return track.Confirmed && track.FramesSinceUpdate <= MaxFramesSinceUpdate
}

// Evaluate marks tracks entering the zone during Stop light.
// It returns the updated set together with tracks violated on this call, in input order.
// With Go light, or when nothing new is found, the input set is returned as is.
func Evaluate(tracks []mot.Track, light Light, poly zone.Polygon, violated Set) (Set, []mot.Track) {
	newViolators := []mot.Track{}
	if !light.IsStop() {
		return violated, newViolators
	}
	ids := make([]int, 0)
	for _, track := range tracks {
		if !Eligible(track) || violated.Contains(track.ID) {
			continue
		}
		if !zone.Contains(Anchor(track.Box), poly) {
			continue
		}
		// Same id twice in one snapshot must not produce two events
		duplicate := false
		for _, id := range ids {
			if id == track.ID {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		ids = append(ids, track.ID)
		newViolators = append(newViolators, track)
	}
	if len(ids) == 0 {
		return violated, newViolators
	}
	return violated.With(ids...), newViolators
}
