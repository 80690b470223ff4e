package pipeline

import "math"

// Finite returns a copy of r that JSON can encode. Every NaN or infinite
// number is replaced by zero and its field name is listed in NonFinite.
func (r TickReport) Finite() TickReport {
	out := r
	out.NonFinite = nil
	fix := func(name string, v *float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = 0
			out.NonFinite = append(out.NonFinite, name)
		}
	}

	fix("command.forward", &out.Command.Forward)
	fix("command.top", &out.Command.Top)
	fix("command.bottom", &out.Command.Bottom)
	fix("command.vertical", &out.Command.Vertical)
	fix("state.forward", &out.State.Forward)
	fix("state.lateral", &out.State.Lateral)
	fix("state.vertical", &out.State.Vertical)
	fix("state.yaw_rate", &out.State.YawRate)
	fix("yaw", &out.Yaw)
	fix("range", &out.Range)
	fix("bearing_horizontal", &out.BearingHorizontal)
	fix("bearing_vertical", &out.BearingVertical)
	fix("target_position.x", &out.TargetPosition.X)
	fix("target_position.y", &out.TargetPosition.Y)
	fix("target_position.z", &out.TargetPosition.Z)
	fix("tracking_error", &out.TrackingError)
	for i := range out.Terms.V {
		fix("terms.x", &out.Terms.X[i])
		fix("terms.b", &out.Terms.B[i])
		fix("terms.w", &out.Terms.W[i])
		fix("terms.xint", &out.Terms.Xint[i])
		fix("terms.v", &out.Terms.V[i])
	}
	return out
}
