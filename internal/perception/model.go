// Package perception turns a pixel-space target detection and a range
// reading into bearings and a body-frame target position.
package perception

import (
	"math"

	"github.com/golang/geo/r3"
)

// Calibration constants of the head camera. The detector reports pixel
// offsets that are converted to angles against these reference scales;
// they come from the sensor calibration and must not be retuned here.
const (
	HorizontalPixelScale = 133.0
	VerticalPixelScale   = 100.0
)

// Default camera geometry of the blimp's head camera, in degrees.
const (
	DefaultTiltDegrees   = 30.0
	DefaultHorizontalFOV = 69.0
	DefaultVerticalFOV   = 55.0
)

// DefaultOrientationOffset is DefaultTiltDegrees in radians. It goes through
// Radians so a tilt read from a config file converts to the same bits.
var DefaultOrientationOffset = Radians(DefaultTiltDegrees)

// Radians converts an angle in degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Pixel is a (row, col) position in an image.
type Pixel struct {
	Row float64 `json:"row"`
	Col float64 `json:"col"`
}

// Size is an image resolution (height, width) in pixels. The zero Size is
// the target-lost sentinel.
type Size struct {
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
}

// IsZero reports whether s is the (0,0) sentinel.
func (s Size) IsZero() bool {
	return s.Height == 0 && s.Width == 0
}

// Model holds the latest sensor readings and the bearings derived from them.
//
// A Model is not safe for concurrent use. Transports write into an Inbox and
// the control loop applies it to the Model between ticks.
type Model struct {
	// OrientationOffset is the camera tilt relative to the body (radians).
	OrientationOffset float64
	// HorizontalFOV and VerticalFOV are the camera fields of view (degrees).
	HorizontalFOV float64
	VerticalFOV   float64

	ImageSize   Size
	TargetPixel Pixel
	Range       float64

	BearingHorizontal float64
	BearingVertical   float64
}

// NewModel creates a Model for a camera with the given tilt and fields of
// view. Until the first observation arrives the image size is the
// target-lost sentinel.
func NewModel(orientationOffset, horizontalFOV, verticalFOV float64) Model {
	return Model{
		OrientationOffset: orientationOffset,
		HorizontalFOV:     horizontalFOV,
		VerticalFOV:       verticalFOV,
	}
}

// UpdateObservation stores a detection verbatim.
func (m *Model) UpdateObservation(pixel Pixel, size Size) {
	m.TargetPixel = pixel
	m.ImageSize = size
}

// UpdateRange stores a range reading verbatim.
func (m *Model) UpdateRange(r float64) {
	m.Range = r
}

// RecomputeBearings derives both bearings from the current pixel, image size
// and fields of view. With the sentinel image size the result is well
// defined but meaningless; callers branch on TargetLost.
func (m *Model) RecomputeBearings() {
	m.BearingHorizontal, m.BearingVertical = Bearings(m.TargetPixel, m.ImageSize, m.HorizontalFOV, m.VerticalFOV)
}

// TargetLost reports whether no target is currently tracked. The detector
// publishes zeros for both the pixel and the image size when it loses the
// target, so either being (0,0) counts as lost.
func (m *Model) TargetLost() bool {
	return m.ImageSize.IsZero() || (m.TargetPixel.Row == 0 && m.TargetPixel.Col == 0)
}

// TargetPosition triangulates the target from the current range and bearings.
func (m *Model) TargetPosition() r3.Vector {
	return Triangulate(m.Range, m.BearingHorizontal, m.BearingVertical)
}

// Bearings converts a pixel position into horizontal and vertical angles off
// the image centre, in radians.
func Bearings(pixel Pixel, size Size, horizontalFOV, verticalFOV float64) (horizontal, vertical float64) {
	horizontal = (pixel.Col - size.Width/2) / HorizontalPixelScale * horizontalFOV * math.Pi / 180
	vertical = (pixel.Row - size.Height/2) / VerticalPixelScale * verticalFOV * math.Pi / 180
	return horizontal, vertical
}

// Triangulate returns the body-frame position of a target seen at the given
// range and bearings: x forward, y left, z up.
func Triangulate(rng, bearingHorizontal, bearingVertical float64) r3.Vector {
	return r3.Vector{
		X: rng * math.Cos(bearingVertical) * math.Cos(bearingHorizontal),
		Y: -rng * math.Cos(bearingVertical) * math.Sin(bearingHorizontal),
		Z: -rng * math.Sin(bearingVertical) * math.Cos(bearingHorizontal),
	}
}
