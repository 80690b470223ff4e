package serialmux

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/standoff/internal/control"
)

// Actuator writes each command to the serial link as four thruster lines.
type Actuator struct {
	mux Link
}

func NewActuator(mux Link) *Actuator {
	return &Actuator{mux: mux}
}

// Emit sends the four lines in a single write so they are never interleaved
// with debug commands. It writes even when ctx is done: the idle command on
// shutdown must reach the thrusters.
func (a *Actuator) Emit(_ context.Context, cmd control.Command) error {
	if err := a.mux.SendCommand(strings.Join(FormatCommand(cmd), "\n")); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}
