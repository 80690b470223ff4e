package control

import (
	"gonum.org/v1/gonum/mat"
)

// Dynamics holds the constant parameters of the blimp's first-order velocity
// model. Drag coefficients are linear per axis.
type Dynamics struct {
	DragForward  float64 `json:"drag_forward"`
	DragLateral  float64 `json:"drag_lateral"`
	DragVertical float64 `json:"drag_vertical"`
	DragYaw      float64 `json:"drag_yaw"`

	Mass       float64 `json:"mass"`
	YawInertia float64 `json:"yaw_inertia"`
	// ArmLength is the vertical distance between the top and bottom lateral
	// thrusters.
	ArmLength float64 `json:"arm_length"`

	GainForward  float64 `json:"gain_forward"`
	GainTop      float64 `json:"gain_top"`
	GainBottom   float64 `json:"gain_bottom"`
	GainVertical float64 `json:"gain_vertical"`
}

// DefaultDynamics returns the parameters identified for the test blimp.
func DefaultDynamics() Dynamics {
	return Dynamics{
		DragForward:  0.5,
		DragLateral:  0.5,
		DragVertical: 0.5,
		DragYaw:      0.5,
		Mass:         0.6,
		YawInertia:   0.5,
		ArmLength:    0.5,
		GainForward:  1,
		GainTop:      1,
		GainBottom:   1,
		GainVertical: 1,
	}
}

// yawLever is the yaw acceleration produced per unit lateral thrust.
func (d Dynamics) yawLever() float64 {
	return d.Mass * d.ArmLength / (2 * d.YawInertia)
}

// ActuationMatrix maps a command vector (forward, top, bottom, vertical) to
// generalized accelerations (forward, lateral, vertical, yaw).
//
// The two lateral thrusters share the lateral and yaw rows: their difference
// translates the hull sideways, their sum turns it.
func (d Dynamics) ActuationMatrix() *mat.Dense {
	lever := d.yawLever()
	return mat.NewDense(4, 4, []float64{
		d.GainForward, 0, 0, 0,
		0, d.GainTop, -d.GainBottom, 0,
		0, 0, 0, d.GainVertical,
		0, lever * d.GainTop, lever * d.GainBottom, 0,
	})
}

// Residual returns the uncommanded part of the state derivative at s: linear
// drag on every axis plus the coupling between surge, sway and yaw rate.
// IntegrateStep and ComputeCommand both use it. The flown controller's law
// carried the opposite signs on the yaw-rate cross terms from its integrator;
// here the law inverts the same model it integrates.
func (d Dynamics) Residual(s State) [4]float64 {
	return [4]float64{
		-d.DragForward/d.Mass*s.Forward + s.YawRate*s.Lateral,
		-d.DragLateral/d.Mass*s.Lateral - s.YawRate*s.Forward,
		-d.DragVertical / d.Mass * s.Vertical,
		-d.DragYaw / d.YawInertia * s.YawRate,
	}
}
