// Package network carries sensor lines and actuator commands over UDP, and
// replays captured sensor traffic from pcap files.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/standoff/internal/monitoring"
)

// LineHandler consumes one protocol line, e.g. "dist_head 1.25".
type LineHandler func(line string) error

// Stats counts listener traffic.
type Stats struct {
	Packets  uint64 `json:"packets"`
	Lines    uint64 `json:"lines"`
	Rejected uint64 `json:"rejected"`
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Handler     LineHandler
}

// UDPListener receives datagrams holding one or more newline-separated
// sensor lines and hands each line to its handler.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	handler     LineHandler
	conn        *net.UDPConn

	packets  atomic.Uint64
	lines    atomic.Uint64
	rejected atomic.Uint64
}

func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		handler:     config.Handler,
	}
}

// Listen binds the socket. Start calls it when it has not been called.
func (l *UDPListener) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Warnf("failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	l.conn = conn
	monitoring.Logf("UDP sensor listener bound to %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start serves until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.conn == nil {
		if err := l.Listen(); err != nil {
			return err
		}
	}
	conn := l.conn
	defer conn.Close()

	go l.logStats(ctx)

	buffer := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// The deadline bounds how long cancellation can go unnoticed.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		if err := l.HandlePacket(buffer[:n]); err != nil {
			monitoring.Logf("error handling packet from %v: %v", addr, err)
		}
	}
}

// HandlePacket splits a datagram into lines and dispatches them. The first
// handler error is returned after every line has been tried.
func (l *UDPListener) HandlePacket(packet []byte) error {
	l.packets.Add(1)
	var first error
	for _, line := range strings.Split(string(packet), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		l.lines.Add(1)
		if l.handler == nil {
			continue
		}
		if err := l.handler(line); err != nil {
			l.rejected.Add(1)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Stats returns a snapshot of the counters.
func (l *UDPListener) Stats() Stats {
	return Stats{
		Packets:  l.packets.Load(),
		Lines:    l.lines.Load(),
		Rejected: l.rejected.Load(),
	}
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := l.Stats()
			monitoring.Logf("UDP sensor stats: packets=%d lines=%d rejected=%d", s.Packets, s.Lines, s.Rejected)
		}
	}
}
