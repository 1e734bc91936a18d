package violation

import (
	"encoding/json"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/zone"
)

var testZone = zone.Polygon{image.Pt(0, 100), image.Pt(200, 100), image.Pt(200, 200), image.Pt(0, 200)}

// vehicle builds confirmed fresh track whose anchor is at (x, y)
func vehicle(id, x, y int) mot.Track {
	return mot.Track{
		ID:        id,
		Box:       image.Rect(x-20, y-40, x+20, y),
		Confirmed: true,
		Hits:      3,
	}
}

func red() Light { return Light{Label: LabelRed} }

func TestLightCategories(t *testing.T) {
	for _, label := range []string{LabelRed, LabelRedLeft, LabelYellow} {
		assert.Equal(t, Stop, Light{Label: label}.Category(), label)
	}
	for _, label := range []string{LabelGreen, LabelGreenLeft, LabelUnknown, ""} {
		assert.Equal(t, Go, Light{Label: label}.Category(), label)
	}
	assert.Equal(t, LabelRedLeft, LightLabel(1))
	assert.Equal(t, LabelUnknown, LightLabel(42))
	assert.False(t, UnknownLight.IsStop())
}

func TestVehicleClassName(t *testing.T) {
	assert.Equal(t, "Car", VehicleClassName(0))
	assert.Equal(t, "Motorcycle", VehicleClassName(3))
	assert.Equal(t, UnknownVehicleClass, VehicleClassName(7))
}

func TestAnchor(t *testing.T) {
	assert.Equal(t, image.Pt(30, 50), Anchor(image.Rect(10, 20, 50, 50)))
}

func TestEvaluateMarksVehicleInZone(t *testing.T) {
	tracks := []mot.Track{vehicle(1, 50, 150), vehicle(2, 50, 50)}
	updated, newViolators := Evaluate(tracks, red(), testZone, NewSet())
	require.Len(t, newViolators, 1)
	assert.Equal(t, 1, newViolators[0].ID)
	assert.True(t, updated.Contains(1))
	assert.False(t, updated.Contains(2))
}

func TestEvaluateGoLightLeavesSetUntouched(t *testing.T) {
	violated := NewSet(5)
	tracks := []mot.Track{vehicle(1, 50, 150), vehicle(2, 60, 160)}
	for _, label := range []string{LabelGreen, LabelGreenLeft, LabelUnknown} {
		updated, newViolators := Evaluate(tracks, Light{Label: label}, testZone, violated)
		assert.Empty(t, newViolators)
		assert.Equal(t, violated, updated)
		assert.Equal(t, violated.Version(), updated.Version())
	}
}

func TestEvaluateNeverReportsTwice(t *testing.T) {
	tracks := []mot.Track{vehicle(7, 50, 150)}
	violated, first := Evaluate(tracks, red(), testZone, NewSet())
	require.Len(t, first, 1)
	version := violated.Version()
	for i := 0; i < 3; i++ {
		var again []mot.Track
		violated, again = Evaluate(tracks, red(), testZone, violated)
		assert.Empty(t, again)
	}
	assert.Equal(t, version, violated.Version())
	assert.Equal(t, []int{7}, violated.IDs())
}

func TestEvaluateSkipsUnconfirmedAndStale(t *testing.T) {
	unconfirmed := vehicle(1, 50, 150)
	unconfirmed.Confirmed = false
	stale := vehicle(2, 60, 150)
	stale.FramesSinceUpdate = 2
	missedOnce := vehicle(3, 70, 150)
	missedOnce.FramesSinceUpdate = 1

	updated, newViolators := Evaluate([]mot.Track{unconfirmed, stale, missedOnce}, red(), testZone, NewSet())
	require.Len(t, newViolators, 1)
	assert.Equal(t, 3, newViolators[0].ID)
	assert.Equal(t, []int{3}, updated.IDs())
}

func TestEvaluateBoundaryAnchorCounts(t *testing.T) {
	// Anchor exactly on the zone's top edge
	_, newViolators := Evaluate([]mot.Track{vehicle(1, 100, 100)}, red(), testZone, NewSet())
	assert.Len(t, newViolators, 1)
}

func TestEvaluateSeveralInOneFrame(t *testing.T) {
	tracks := []mot.Track{vehicle(4, 20, 150), vehicle(2, 80, 150), vehicle(9, 150, 150)}
	previous := NewSet(100)
	updated, newViolators := Evaluate(tracks, Light{Label: LabelYellow}, testZone, previous)
	require.Len(t, newViolators, 3)
	assert.Equal(t, []int{4, 2, 9}, []int{newViolators[0].ID, newViolators[1].ID, newViolators[2].ID})
	assert.Equal(t, []int{2, 4, 9, 100}, updated.IDs())
	assert.Equal(t, previous.Version()+1, updated.Version())
	// Previous value is not aliased
	assert.Equal(t, []int{100}, previous.IDs())
}

func TestEvaluateDuplicateTrackInSnapshot(t *testing.T) {
	tracks := []mot.Track{vehicle(1, 50, 150), vehicle(1, 52, 150)}
	updated, newViolators := Evaluate(tracks, red(), testZone, NewSet())
	assert.Len(t, newViolators, 1)
	assert.Equal(t, 1, updated.Len())
}

func TestSetWith(t *testing.T) {
	empty := NewSet()
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, uint64(0), empty.Version())

	one := empty.With(3)
	assert.True(t, one.Contains(3))
	assert.False(t, empty.Contains(3))
	assert.Equal(t, uint64(1), one.Version())

	same := one.With(3)
	assert.Equal(t, one.Version(), same.Version())
}

func TestEventJSON(t *testing.T) {
	event := Event{
		Timestamp:    time.Date(2025, 7, 19, 14, 3, 7, 0, time.Local),
		TrackID:      8,
		VehicleClass: "Bus",
		ClipFilename: "violation_id_8_20250719_140307.mp4",
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Timestamp":"2025-07-19 14:03:07","Vehicle ID":"8","Vehicle Class":"Bus","Clip Filename":"violation_id_8_20250719_140307.mp4"}`, string(data))

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, event.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, event.TrackID, decoded.TrackID)
	assert.Equal(t, event.ClipFilename, decoded.ClipFilename)
}
