package control

import (
	"fmt"
	"strings"
)

// State is the controllable velocity state of the vehicle in the body frame.
type State struct {
	Forward  float64 `json:"forward"`
	Lateral  float64 `json:"lateral"`
	Vertical float64 `json:"vertical"`
	YawRate  float64 `json:"yaw_rate"`
}

func (s State) vector() [4]float64 {
	return [4]float64{s.Forward, s.Lateral, s.Vertical, s.YawRate}
}

func stateFromVector(v [4]float64) State {
	return State{Forward: v[0], Lateral: v[1], Vertical: v[2], YawRate: v[3]}
}

// Command is one set of actuator outputs, in emission order.
type Command struct {
	Forward  float64 `json:"forward"`
	Top      float64 `json:"top"`
	Bottom   float64 `json:"bottom"`
	Vertical float64 `json:"vertical"`
}

// FallbackCommand is emitted while no target is tracked. Both lateral
// thrusters push the same way, which turns the hull in place to search.
var FallbackCommand = Command{Forward: 0, Top: 1, Bottom: 1, Vertical: 0}

// Channels returns the four outputs in emission order.
func (c Command) Channels() [4]float64 {
	return [4]float64{c.Forward, c.Top, c.Bottom, c.Vertical}
}

func commandFromVector(v [4]float64) Command {
	return Command{Forward: v[0], Top: v[1], Bottom: v[2], Vertical: v[3]}
}

// Mode selects which control law produced a command.
type Mode int

const (
	ModeTargetLost Mode = iota
	ModeTargetAcquired
)

func (m Mode) String() string {
	switch m {
	case ModeTargetLost:
		return "TARGET_LOST"
	case ModeTargetAcquired:
		return "TARGET_ACQUIRED"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "TARGET_LOST":
		*m = ModeTargetLost
	case "TARGET_ACQUIRED":
		*m = ModeTargetAcquired
	default:
		return fmt.Errorf("unknown mode %q", string(b))
	}
	return nil
}
