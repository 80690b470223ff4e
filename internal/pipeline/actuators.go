package pipeline

import (
	"context"
	"errors"

	"github.com/banshee-data/standoff/internal/control"
)

// MultiActuator emits every command to each of its actuators in order. One
// failing output does not stop the others.
type MultiActuator []Actuator

func (m MultiActuator) Emit(ctx context.Context, cmd control.Command) error {
	var errs []error
	for _, a := range m {
		if err := a.Emit(ctx, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
