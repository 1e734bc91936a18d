package mot

import (
	"image"
	"math"
)

// Rectangle is an axis-aligned box in floating point pixel coordinates
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// NewRect creates rectangle from top-left corner and size
func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// NewRectFrom converts integer image rectangle
func NewRectFrom(rect image.Rectangle) Rectangle {
	rect = rect.Canon()
	return Rectangle{
		X:      float64(rect.Min.X),
		Y:      float64(rect.Min.Y),
		Width:  float64(rect.Dx()),
		Height: float64(rect.Dy()),
	}
}

// Center returns rectangle's center
func (rect Rectangle) Center() Point {
	return Point{
		X: rect.X + rect.Width/2.0,
		Y: rect.Y + rect.Height/2.0,
	}
}

// Image rounds rectangle to integer pixel grid (x1, y1, x2, y2)
func (rect Rectangle) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(rect.X)),
		int(math.Round(rect.Y)),
		int(math.Round(rect.X+rect.Width)),
		int(math.Round(rect.Y+rect.Height)),
	)
}

// Point is a 2-D point in floating point pixel coordinates
type Point struct {
	X float64
	Y float64
}

// NewPoint creates point
func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Hypot(p1.X-p2.X, p1.Y-p2.Y)
}
