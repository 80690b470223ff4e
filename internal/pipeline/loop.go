// Package pipeline runs the fixed-rate control loop: it drains the sensor
// inbox, advances the controller, emits the command and fans the tick out to
// diagnostic sinks.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/standoff/internal/control"
	"github.com/banshee-data/standoff/internal/monitoring"
	"github.com/banshee-data/standoff/internal/perception"
	"github.com/banshee-data/standoff/internal/timeutil"
)

// DefaultRate is the tick frequency of the flown controller (Hz).
const DefaultRate = 10.0

// Actuator delivers one command to the thrusters.
type Actuator interface {
	Emit(ctx context.Context, cmd control.Command) error
}

// Sink receives every tick report after the command has been emitted. Sinks
// run on the loop goroutine and must not block.
type Sink interface {
	Observe(ctx context.Context, r TickReport)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, r TickReport)

func (f SinkFunc) Observe(ctx context.Context, r TickReport) { f(ctx, r) }

// TickReport is the trace of one tick.
type TickReport struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`

	Mode    control.Mode    `json:"mode"`
	Command control.Command `json:"command"`
	State   control.State   `json:"state"`
	Yaw     float64         `json:"yaw"`

	TargetPixel       perception.Pixel `json:"target_pixel"`
	ImageSize         perception.Size  `json:"image_size"`
	Range             float64          `json:"range"`
	BearingHorizontal float64          `json:"bearing_horizontal"`
	BearingVertical   float64          `json:"bearing_vertical"`
	TargetPosition    r3.Vector        `json:"target_position"`

	TrackingError float64       `json:"tracking_error"`
	Terms         control.Terms `json:"terms"`

	// Err is set when the tick held its previous command or degraded.
	Err string `json:"error,omitempty"`
	// NonFinite names the fields Finite zeroed for export.
	NonFinite []string `json:"non_finite,omitempty"`
}

// Config tunes a Loop. Zero values select defaults.
type Config struct {
	// Rate is the tick frequency in Hz. The integration step is 1/Rate.
	Rate float64
	// TraceEvery logs a trace line every N ticks. Zero disables tracing.
	TraceEvery int
	Clock      timeutil.Clock
}

// Loop owns the Controller and is the only goroutine that mutates it.
type Loop struct {
	ctrl     *control.Controller
	inbox    *perception.Inbox
	actuator Actuator
	sinks    []Sink

	clock      timeutil.Clock
	period     time.Duration
	dt         float64
	traceEvery uint64

	seq uint64

	mu      sync.RWMutex
	last    TickReport
	hasLast bool

	// preTick runs at the start of every tick; tests use it to inject faults.
	preTick func()
}

// New creates a Loop. A nil inbox or actuator is allowed.
func New(ctrl *control.Controller, inbox *perception.Inbox, actuator Actuator, cfg Config) *Loop {
	rate := cfg.Rate
	if rate <= 0 {
		rate = DefaultRate
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	traceEvery := uint64(0)
	if cfg.TraceEvery > 0 {
		traceEvery = uint64(cfg.TraceEvery)
	}
	return &Loop{
		ctrl:       ctrl,
		inbox:      inbox,
		actuator:   actuator,
		clock:      clock,
		period:     time.Duration(float64(time.Second) / rate),
		dt:         1 / rate,
		traceEvery: traceEvery,
	}
}

// AddSink registers s. It must be called before Run.
func (l *Loop) AddSink(s Sink) {
	l.sinks = append(l.sinks, s)
}

// DT returns the integration step in seconds.
func (l *Loop) DT() float64 { return l.dt }

// Period returns the tick period.
func (l *Loop) Period() time.Duration { return l.period }

// History returns the controller's tracking-error history. It is safe to
// read from any goroutine.
func (l *Loop) History() *control.ErrorHistory { return l.ctrl.History() }

// Last returns the most recent tick report.
func (l *Loop) Last() (TickReport, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last, l.hasLast
}

// Run ticks at the configured rate until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.period)
	defer ticker.Stop()

	monitoring.Logf("control loop started at %.1f Hz (dt=%.3fs)", 1/l.dt, l.dt)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("control loop stopping after %d ticks", l.seq)
			return ctx.Err()
		case now := <-ticker.C():
			l.Step(ctx, now)
		}
	}
}

// Step runs a single tick at time now. Failures never propagate: the report
// records them and the loop carries on.
func (l *Loop) Step(ctx context.Context, now time.Time) TickReport {
	l.seq++
	r := l.tick(now)

	if l.actuator != nil {
		if err := l.actuator.Emit(ctx, r.Command); err != nil {
			monitoring.Warnf("tick %d: emit failed: %v", r.Seq, err)
			r.Err = joinErr(r.Err, fmt.Sprintf("emit: %v", err))
		}
	}

	l.mu.Lock()
	l.last = r
	l.hasLast = true
	l.mu.Unlock()

	for _, s := range l.sinks {
		s.Observe(ctx, r)
	}

	if l.traceEvery > 0 && r.Seq%l.traceEvery == 0 {
		l.trace(r)
	}
	return r
}

func (l *Loop) tick(now time.Time) (r TickReport) {
	r.Seq = l.seq
	r.Time = now

	defer func() {
		if p := recover(); p != nil {
			monitoring.Logf("tick %d panicked, falling back to search: %v", r.Seq, p)
			l.ctrl.Degrade()
			r.Mode = control.ModeTargetLost
			r.Command = control.FallbackCommand
			r.Err = fmt.Sprintf("panic: %v", p)
		}
	}()

	if l.preTick != nil {
		l.preTick()
	}
	if l.inbox != nil {
		l.inbox.ApplyTo(&l.ctrl.Perception)
	}

	r.TrackingError = l.ctrl.RecordTrackingError()
	l.ctrl.IntegrateStep(l.dt)

	mode, err := l.ctrl.ComputeCommand()
	if err != nil {
		monitoring.Warnf("tick %d: holding previous command: %v", r.Seq, err)
		r.Err = err.Error()
	}

	p := &l.ctrl.Perception
	r.Mode = mode
	r.Command = l.ctrl.Commands()
	r.State = l.ctrl.State()
	r.Yaw = l.ctrl.Yaw()
	r.TargetPixel = p.TargetPixel
	r.ImageSize = p.ImageSize
	r.Range = p.Range
	r.BearingHorizontal = p.BearingHorizontal
	r.BearingVertical = p.BearingVertical
	r.TargetPosition = l.ctrl.TargetPosition()
	if mode == control.ModeTargetAcquired {
		r.Terms = l.ctrl.Terms()
	}
	return r
}

func (l *Loop) trace(r TickReport) {
	c := r.Command
	monitoring.Logf("tick %d %s bh=%.3f bv=%.3f range=%.3f pixel=(%.0f,%.0f) err=%.3f w=%.3f xint=%.3f cmd=[%.3f %.3f %.3f %.3f]",
		r.Seq, r.Mode, r.BearingHorizontal, r.BearingVertical, r.Range,
		r.TargetPixel.Row, r.TargetPixel.Col, r.TrackingError,
		r.Terms.W, r.Terms.Xint, c.Forward, c.Top, c.Bottom, c.Vertical)
}

func joinErr(a, b string) string {
	if a == "" {
		return b
	}
	return strings.Join([]string{a, b}, "; ")
}
