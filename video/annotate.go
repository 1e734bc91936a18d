package video

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/LdDl/redlight-go/pipeline"
	"github.com/LdDl/redlight-go/violation"
	"github.com/LdDl/redlight-go/zone"
)

var (
	colorZone  = color.RGBA{255, 255, 0, 0}
	colorGo    = color.RGBA{0, 255, 0, 0}
	colorStop  = color.RGBA{255, 0, 0, 0}
	zoneAlpha  = 0.3
	lightPoint = image.Pt(50, 50)
)

// Annotator draws zone, light state and tracks
type Annotator struct{}

// Annotate implements pipeline.Annotator
func (Annotator) Annotate(frame gocv.Mat, overlay pipeline.Overlay) error {
	if frame.Empty() {
		return errors.New("empty frame")
	}
	if len(overlay.Zone) >= zone.MinVertices {
		drawZone(&frame, overlay.Zone)
	}

	lightColor := colorGo
	if overlay.Light.IsStop() {
		lightColor = colorStop
	}
	gocv.PutText(&frame, "Light: "+overlay.Light.Label, lightPoint, gocv.FontHersheySimplex, 1.2, lightColor, 3)

	for _, track := range overlay.Tracks {
		if !violation.Eligible(track) {
			continue
		}
		violated := overlay.Violated.Contains(track.ID)
		boxColor := colorGo
		if violated {
			boxColor = colorStop
		}
		gocv.Rectangle(&frame, track.Box, boxColor, 2)
		if violated {
			gocv.PutText(&frame, "VIOLATION", image.Pt(track.Box.Min.X, track.Box.Min.Y-60), gocv.FontHersheySimplex, 0.9, colorStop, 2)
		}
		gocv.PutText(&frame, TrackLabel(track.ClassID, track.ID), image.Pt(track.Box.Min.X, track.Box.Min.Y-10), gocv.FontHersheySimplex, 0.7, boxColor, 2)
	}
	return nil
}

// drawZone blends filled polygon into frame and outlines it
func drawZone(frame *gocv.Mat, poly zone.Polygon) {
	pts := gocv.NewPointsVectorFromPoints([][]image.Point{poly})
	defer pts.Close()

	layer := frame.Clone()
	defer layer.Close()
	gocv.FillPoly(&layer, pts, colorZone)
	gocv.AddWeighted(layer, zoneAlpha, *frame, 1-zoneAlpha, 0, frame)
	gocv.Polylines(frame, pts, true, colorZone, 2)
}

// TrackLabel is the caption drawn above a vehicle
func TrackLabel(classID, trackID int) string {
	return fmt.Sprintf("%s ID:%d", violation.VehicleClassName(classID), trackID)
}
