package control

import (
	"math"

	"github.com/golang/geo/r3"
)

// Feedback gains of the error-dynamics law. Position error decays with
// PositionGain, velocity error with VelocityGain.
const (
	PositionGain = 1.0
	VelocityGain = 2.0
)

// DefaultCameraOffset is the forward distance from the body origin to the
// camera (m).
const DefaultCameraOffset = 0.3

// PoseView is a read-only view of the quantities that define the desired and
// estimated relative pose. Diagnostics consume a PoseView so they cannot
// reach the controller's mutable state.
type PoseView interface {
	TargetPosition() r3.Vector
	Tilt() float64
	BearingHorizontal() float64
	StandoffDistance() float64
	CameraOffset() float64
}

// poseSnapshot is a value copy taken at the start of a diagnostic.
type poseSnapshot struct {
	target   r3.Vector
	tilt     float64
	bearingH float64
	standoff float64
	offset   float64
}

func (p poseSnapshot) TargetPosition() r3.Vector  { return p.target }
func (p poseSnapshot) Tilt() float64              { return p.tilt }
func (p poseSnapshot) BearingHorizontal() float64 { return p.bearingH }
func (p poseSnapshot) StandoffDistance() float64  { return p.standoff }
func (p poseSnapshot) CameraOffset() float64      { return p.offset }

// boresightFrame expresses a body-frame point in the tilted camera frame used
// by both the desired pose and the estimated pose.
func boresightFrame(p r3.Vector, tilt, offset float64) r3.Vector {
	cos, sin := math.Cos(tilt), math.Sin(tilt)
	return r3.Vector{
		X: -p.X*cos + offset - p.Z*sin,
		Y: -p.Y,
		Z: -p.Z*cos + p.X*sin,
	}
}

// DesiredPose returns w: the stand-off point in the camera frame, with the
// heading target in the fourth slot.
//
// w and RelativePose are positions, yet the law feeds them into slots that a
// textbook feedback linearization reserves for the state. The formula is kept
// as flown.
func DesiredPose(v PoseView) [4]float64 {
	b := boresightFrame(r3.Vector{X: v.StandoffDistance()}, v.Tilt(), v.CameraOffset())
	return [4]float64{b.X, b.Y, b.Z, -v.BearingHorizontal()}
}

// RelativePose returns Xint: the estimated target position in the camera
// frame. The heading slot is always zero.
func RelativePose(v PoseView) [4]float64 {
	b := boresightFrame(v.TargetPosition(), v.Tilt(), v.CameraOffset())
	return [4]float64{b.X, b.Y, b.Z, 0}
}

// TrackingError is the Euclidean distance between the desired and estimated
// pose over the three positional components.
func TrackingError(v PoseView) float64 {
	w := DesiredPose(v)
	pos := RelativePose(v)
	var sq float64
	for i := 0; i < 3; i++ {
		d := w[i] - pos[i]
		sq += d * d
	}
	return math.Sqrt(sq)
}
