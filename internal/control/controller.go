// Package control implements the blimp's velocity model and the
// feedback-linearization law that holds it at a stand-off distance from a
// visually tracked target.
package control

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/standoff/internal/perception"
)

// ErrSingularControlMatrix is returned by ComputeCommand when the actuation
// matrix cannot be inverted. The previous command is kept.
var ErrSingularControlMatrix = errors.New("singular control matrix")

// Config is the fixed configuration of a Controller.
type Config struct {
	Dynamics Dynamics

	// OrientationOffset is the camera tilt (radians).
	OrientationOffset float64
	// HorizontalFOV and VerticalFOV are the camera fields of view (degrees).
	HorizontalFOV float64
	VerticalFOV   float64

	// StandoffDistance is the distance to hold from the target along the
	// boresight (m).
	StandoffDistance float64
	// CameraOffset is the forward offset of the camera from the body
	// origin (m).
	CameraOffset float64
}

// DefaultConfig returns the configuration flown on the test blimp.
func DefaultConfig() Config {
	return Config{
		Dynamics:          DefaultDynamics(),
		OrientationOffset: perception.DefaultOrientationOffset,
		HorizontalFOV:     perception.DefaultHorizontalFOV,
		VerticalFOV:       perception.DefaultVerticalFOV,
		StandoffDistance:  0.5,
		CameraOffset:      DefaultCameraOffset,
	}
}

// Terms are the intermediate vectors of the last control-law evaluation,
// kept for tracing.
type Terms struct {
	X    [4]float64 `json:"x"`
	B    [4]float64 `json:"b"`
	W    [4]float64 `json:"w"`
	Xint [4]float64 `json:"xint"`
	V    [4]float64 `json:"v"`
}

// Controller owns the perception model and the vehicle state. It is driven
// from a single goroutine, one tick at a time.
type Controller struct {
	// Perception is written only between ticks, by applying an Inbox.
	Perception perception.Model

	dynamics  Dynamics
	actuation *mat.Dense
	standoff  float64
	offset    float64

	targetPosition r3.Vector
	yaw            float64
	state          State
	commands       Command
	mode           Mode
	terms          Terms

	history ErrorHistory
}

// New creates a Controller at rest with a zero command.
func New(cfg Config) *Controller {
	return &Controller{
		Perception: perception.NewModel(cfg.OrientationOffset, cfg.HorizontalFOV, cfg.VerticalFOV),
		dynamics:   cfg.Dynamics,
		actuation:  cfg.Dynamics.ActuationMatrix(),
		standoff:   cfg.StandoffDistance,
		offset:     cfg.CameraOffset,
		mode:       ModeTargetLost,
	}
}

// IntegrateStep advances the velocity state by dt with forward Euler, using
// the command computed on the previous tick, then refreshes the bearings and
// the target position.
func (c *Controller) IntegrateStep(dt float64) {
	var force mat.VecDense
	u := c.commands.Channels()
	force.MulVec(c.actuation, mat.NewVecDense(4, u[:]))

	r := c.dynamics.Residual(c.state)
	s := c.state.vector()
	for i := range s {
		s[i] += (force.AtVec(i) + r[i]) * dt
	}
	c.state = stateFromVector(s)
	c.yaw += c.state.YawRate * dt

	c.Perception.RecomputeBearings()
	c.targetPosition = c.Perception.TargetPosition()
}

// View returns a read-only snapshot of the pose inputs.
func (c *Controller) View() PoseView {
	return poseSnapshot{
		target:   c.targetPosition,
		tilt:     c.Perception.OrientationOffset,
		bearingH: c.Perception.BearingHorizontal,
		standoff: c.standoff,
		offset:   c.offset,
	}
}

// RecordTrackingError appends the current tracking error to the history and
// returns it. It does not affect the command.
func (c *Controller) RecordTrackingError() float64 {
	e := TrackingError(c.View())
	if math.IsNaN(e) {
		e = math.Inf(1)
	}
	c.history.append(e)
	return e
}

// ComputeCommand selects the mode from the target-lost sentinel and computes
// the next command. On ErrSingularControlMatrix the previous command is held.
func (c *Controller) ComputeCommand() (Mode, error) {
	if c.Perception.TargetLost() {
		c.mode = ModeTargetLost
		c.commands = FallbackCommand
		return c.mode, nil
	}
	c.mode = ModeTargetAcquired

	view := c.View()
	t := Terms{
		X:    c.state.vector(),
		B:    c.dynamics.Residual(c.state),
		W:    DesiredPose(view),
		Xint: RelativePose(view),
	}
	// Desired pose is static: its first and second derivatives are zero.
	var dw, ddw [4]float64
	var rhs [4]float64
	for i := range t.V {
		t.V[i] = PositionGain*(t.W[i]-t.Xint[i]) + VelocityGain*(dw[i]-t.X[i]) + ddw[i]
		rhs[i] = t.V[i] - t.B[i]
	}
	c.terms = t

	u, err := solve(c.actuation, rhs)
	if err != nil {
		return c.mode, err
	}
	c.commands = commandFromVector(u)
	return c.mode, nil
}

// Degrade forces the target-lost fallback. The loop calls it when a tick
// fails part way through.
func (c *Controller) Degrade() {
	c.mode = ModeTargetLost
	c.commands = FallbackCommand
}

func solve(a *mat.Dense, rhs [4]float64) ([4]float64, error) {
	var x mat.VecDense
	if err := x.SolveVec(a, mat.NewVecDense(4, rhs[:])); err != nil {
		return [4]float64{}, fmt.Errorf("%w: %v", ErrSingularControlMatrix, err)
	}
	var out [4]float64
	for i := range out {
		out[i] = x.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return [4]float64{}, fmt.Errorf("%w: non-finite solution", ErrSingularControlMatrix)
		}
	}
	return out, nil
}

// State returns the current velocity state.
func (c *Controller) State() State { return c.state }

// Yaw returns the integrated heading (radians).
func (c *Controller) Yaw() float64 { return c.yaw }

// Commands returns the command held for emission and for the next
// integration step.
func (c *Controller) Commands() Command { return c.commands }

// Mode returns the mode selected on the last ComputeCommand.
func (c *Controller) Mode() Mode { return c.mode }

// TargetPosition returns the body-frame target estimate from the last
// integration step.
func (c *Controller) TargetPosition() r3.Vector { return c.targetPosition }

// Terms returns the control-law vectors of the last acquired-mode tick.
func (c *Controller) Terms() Terms { return c.terms }

// History returns the tracking-error history.
func (c *Controller) History() *ErrorHistory { return &c.history }

// StandoffDistance returns the configured stand-off distance.
func (c *Controller) StandoffDistance() float64 { return c.standoff }
