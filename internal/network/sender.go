package network

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/banshee-data/standoff/internal/control"
	"github.com/banshee-data/standoff/internal/serialmux"
)

// UDPActuator sends each command as one datagram of four thruster lines.
type UDPActuator struct {
	conn *net.UDPConn
}

// NewUDPActuator dials addr. An empty addr yields an actuator that drops
// every command.
func NewUDPActuator(addr string) (*UDPActuator, error) {
	if addr == "" {
		return &UDPActuator{}, nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve actuator address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial actuator: %w", err)
	}
	return &UDPActuator{conn: conn}, nil
}

// Emit sends cmd regardless of ctx so the shutdown idle command is delivered.
func (a *UDPActuator) Emit(_ context.Context, cmd control.Command) error {
	if a == nil || a.conn == nil {
		return nil
	}
	payload := strings.Join(serialmux.FormatCommand(cmd), "\n") + "\n"
	if _, err := a.conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// Close releases the socket.
func (a *UDPActuator) Close() error {
	if a == nil || a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
