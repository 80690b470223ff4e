// Package serialmux multiplexes the blimp's serial link: sensor lines read
// from the microcontroller fan out to any number of subscribers, and
// actuator commands from one writer are serialised onto the port.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// subscriberBuffer is how many lines a slow subscriber may lag before lines
// are dropped for it.
const subscriberBuffer = 64

// Link is the serial link as the rest of the program sees it. The real,
// mock and disabled muxes implement it.
type Link interface {
	// Subscribe returns an ID and a channel that receives every line read
	// from the port.
	Subscribe() (string, chan string)
	// Unsubscribe closes and removes the channel with the given ID.
	Unsubscribe(string)
	// SendCommand writes one newline-terminated line to the port.
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port closes.
	Monitor(context.Context) error
	// Close closes every subscriber channel and the port.
	Close() error
	// Stats reports traffic counters since the link was opened.
	Stats() LinkStats

	// AttachAdminRoutes registers debug endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// LinkStats counts traffic over a Link.
type LinkStats struct {
	Subscribers  int    `json:"subscribers"`
	LinesRead    uint64 `json:"lines_read"`
	LinesDropped uint64 `json:"lines_dropped"`
	CommandsSent uint64 `json:"commands_sent"`
	LastCommand  string `json:"last_command,omitempty"`
}

// SerialMux fans lines read from a single serial port out to subscribers.
type SerialMux[T SerialPorter] struct {
	port T

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool

	writeMu     sync.Mutex
	lastCommand string

	linesRead    atomic.Uint64
	linesDropped atomic.Uint64
	commandsSent atomic.Uint64
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port: port,
		subs: make(map[string]chan string),
	}
}

// randomID returns 8 random bytes, hex encoded.
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subs[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *SerialMux[T]) SendCommand(command string) error {
	line := command
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	s.commandsSent.Add(1)
	s.lastCommand = strings.TrimSpace(command)
	return nil
}

// broadcast delivers line to every subscriber without blocking. It reports
// false once the mux has been closed.
func (s *SerialMux[T]) broadcast(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.linesRead.Add(1)
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			s.linesDropped.Add(1)
		}
	}
	return true
}

// Monitor reads lines from the port and broadcasts them. The blocking read
// runs on its own goroutine so cancellation is observed between lines.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !s.broadcast(line) {
				return nil
			}
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) Stats() LinkStats {
	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()

	s.writeMu.Lock()
	last := s.lastCommand
	s.writeMu.Unlock()

	return LinkStats{
		Subscribers:  n,
		LinesRead:    s.linesRead.Load(),
		LinesDropped: s.linesDropped.Load(),
		CommandsSent: s.commandsSent.Load(),
		LastCommand:  last,
	}
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}
