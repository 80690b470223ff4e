package serialmux

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/banshee-data/standoff/internal/monitoring"
)

// NewRealSerialMux opens the serial device at path with opts.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	opts, err := opts.Normalise()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	monitoring.Logf("opened serial port %s (%s)", path, opts)

	return NewSerialMux[serial.Port](port), nil
}
