package perception

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidSensorReading is returned when a reading is rejected. The prior
// value is kept.
var ErrInvalidSensorReading = errors.New("invalid sensor reading")

// Observation is one bundled detection from the target tracker.
type Observation struct {
	Pixel Pixel `json:"pixel"`
	Size  Size  `json:"size"`
}

// Inbox buffers sensor updates that arrive on transport goroutines until the
// control loop applies them to a Model. An observation is stored as one
// value, so a tick sees the pixel and image size together or not at all.
type Inbox struct {
	mu sync.Mutex

	obs    Observation
	hasObs bool
	rng    float64
	hasRng bool

	seq      uint64
	rejected uint64
}

// NewInbox returns an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

// UpdateObservation queues a detection. Negative or non-finite sizes and
// pixels outside a non-sentinel image are rejected.
func (in *Inbox) UpdateObservation(obs Observation) error {
	if err := ValidateObservation(obs); err != nil {
		in.reject()
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.obs = obs
	in.hasObs = true
	in.seq++
	return nil
}

// UpdateRange queues a range reading. NaN, infinite and negative ranges are
// rejected.
func (in *Inbox) UpdateRange(r float64) error {
	if err := ValidateRange(r); err != nil {
		in.reject()
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.rng = r
	in.hasRng = true
	in.seq++
	return nil
}

// ApplyTo moves any pending updates into m and reports whether anything was
// applied.
func (in *Inbox) ApplyTo(m *Model) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	applied := false
	if in.hasObs {
		m.UpdateObservation(in.obs.Pixel, in.obs.Size)
		in.hasObs = false
		applied = true
	}
	if in.hasRng {
		m.UpdateRange(in.rng)
		in.hasRng = false
		applied = true
	}
	return applied
}

// Stats returns the number of accepted and rejected updates so far.
func (in *Inbox) Stats() (accepted, rejected uint64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.seq, in.rejected
}

func (in *Inbox) reject() {
	in.mu.Lock()
	in.rejected++
	in.mu.Unlock()
}

// ValidateRange reports whether UpdateRange would accept r.
func ValidateRange(r float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return fmt.Errorf("%w: range %v", ErrInvalidSensorReading, r)
	}
	return nil
}

// ValidateObservation reports whether UpdateObservation would accept obs.
func ValidateObservation(obs Observation) error {
	for _, v := range []float64{obs.Pixel.Row, obs.Pixel.Col, obs.Size.Height, obs.Size.Width} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite observation %+v", ErrInvalidSensorReading, obs)
		}
	}
	if obs.Size.Height < 0 || obs.Size.Width < 0 {
		return fmt.Errorf("%w: negative image size %+v", ErrInvalidSensorReading, obs.Size)
	}
	if obs.Size.IsZero() {
		return nil
	}
	if obs.Pixel.Row < 0 || obs.Pixel.Row > obs.Size.Height ||
		obs.Pixel.Col < 0 || obs.Pixel.Col > obs.Size.Width {
		return fmt.Errorf("%w: pixel %+v outside image %+v", ErrInvalidSensorReading, obs.Pixel, obs.Size)
	}
	return nil
}
