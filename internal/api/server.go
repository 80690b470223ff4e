// Package api serves the controller's HTTP interface: status, the
// tracking-error history, manual sensor injection and diagnostic charts.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/standoff/internal/control"
	"github.com/banshee-data/standoff/internal/db"
	"github.com/banshee-data/standoff/internal/diagnostics"
	"github.com/banshee-data/standoff/internal/httputil"
	"github.com/banshee-data/standoff/internal/monitoring"
	"github.com/banshee-data/standoff/internal/perception"
	"github.com/banshee-data/standoff/internal/pipeline"
	"github.com/banshee-data/standoff/internal/version"
)

// maxBodyBytes caps POST bodies.
const maxBodyBytes = 4096

// Loop is the view of the control loop the API reads.
type Loop interface {
	Last() (pipeline.TickReport, bool)
	History() *control.ErrorHistory
	DT() float64
}

// RunStore lists recorded runs.
type RunStore interface {
	Runs(ctx context.Context) ([]db.Run, error)
}

// Options configure a Server. Inbox and Runs may be nil.
type Options struct {
	Loop       Loop
	Inbox      *perception.Inbox
	Runs       RunStore
	Controller control.Config
	RateHz     float64
	RunID      string
	Started    time.Time
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}
	return &Server{opts: opts}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/tracking_error", s.showTrackingError)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/observation", s.postObservation)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/debug/chart", s.showChart)
	mux.HandleFunc("/debug/error.png", s.showPlot)
	return mux
}

// InboxStats counts accepted and rejected sensor updates.
type InboxStats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// Status is the body of GET /api/status.
type Status struct {
	Version string               `json:"version"`
	RunID   string               `json:"run_id,omitempty"`
	Uptime  string               `json:"uptime"`
	Mode    control.Mode         `json:"mode"`
	Ticks   uint64               `json:"ticks"`
	Inbox   *InboxStats          `json:"inbox,omitempty"`
	Last    *pipeline.TickReport `json:"last,omitempty"`
}

func (s *Server) inboxStats() *InboxStats {
	if s.opts.Inbox == nil {
		return nil
	}
	accepted, rejected := s.opts.Inbox.Stats()
	return &InboxStats{Accepted: accepted, Rejected: rejected}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := Status{
		Version: version.String(),
		RunID:   s.opts.RunID,
		Uptime:  time.Since(s.opts.Started).Round(time.Second).String(),
		Mode:    control.ModeTargetLost,
		Inbox:   s.inboxStats(),
	}
	if last, ok := s.opts.Loop.Last(); ok {
		finite := last.Finite()
		st.Mode = last.Mode
		st.Ticks = last.Seq
		st.Last = &finite
	}
	httputil.WriteJSONOK(w, st)
}

// TrackingErrorResponse is the body of GET /api/tracking_error. Samples that
// are not finite are encoded as null.
type TrackingErrorResponse struct {
	DT      float64    `json:"dt"`
	Start   int        `json:"start"`
	Samples []*float64 `json:"samples"`
}

func (s *Server) showTrackingError(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	start := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "invalid 'since' parameter")
			return
		}
		start = n
	}

	samples := s.opts.Loop.History().Since(start)
	out := TrackingErrorResponse{DT: s.opts.Loop.DT(), Start: start, Samples: make([]*float64, len(samples))}
	for i := range samples {
		if !math.IsNaN(samples[i]) && !math.IsInf(samples[i], 0) {
			out.Samples[i] = &samples[i]
		}
	}
	httputil.WriteJSONOK(w, out)
}

type cameraConfig struct {
	OrientationOffset float64 `json:"orientation_offset"`
	HorizontalFOV     float64 `json:"horizontal_fov"`
	VerticalFOV       float64 `json:"vertical_fov"`
	CameraOffset      float64 `json:"camera_offset"`
}

// ConfigResponse is the body of GET /api/config.
type ConfigResponse struct {
	StandoffDistance float64          `json:"standoff_distance"`
	TickRate         float64          `json:"tick_rate"`
	Camera           cameraConfig     `json:"camera"`
	Dynamics         control.Dynamics `json:"dynamics"`
	PositionGain     float64          `json:"position_gain"`
	VelocityGain     float64          `json:"velocity_gain"`
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	c := s.opts.Controller
	httputil.WriteJSONOK(w, ConfigResponse{
		StandoffDistance: c.StandoffDistance,
		TickRate:         s.opts.RateHz,
		Camera: cameraConfig{
			OrientationOffset: c.OrientationOffset,
			HorizontalFOV:     c.HorizontalFOV,
			VerticalFOV:       c.VerticalFOV,
			CameraOffset:      c.CameraOffset,
		},
		Dynamics:     c.Dynamics,
		PositionGain: control.PositionGain,
		VelocityGain: control.VelocityGain,
	})
}

// ObservationRequest is the body of POST /api/observation. Pixel and Size
// must be given together; Range may be sent alone or alongside them.
type ObservationRequest struct {
	Pixel *perception.Pixel `json:"pixel,omitempty"`
	Size  *perception.Size  `json:"size,omitempty"`
	Range *float64          `json:"range,omitempty"`
}

func (s *Server) postObservation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Inbox == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "sensor injection disabled")
		return
	}

	var req ObservationRequest
	if err := httputil.DecodeJSON(r, maxBodyBytes, &req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if (req.Pixel == nil) != (req.Size == nil) {
		httputil.BadRequest(w, "pixel and size must be sent together")
		return
	}
	if req.Pixel == nil && req.Range == nil {
		httputil.BadRequest(w, "nothing to update")
		return
	}

	// Validate everything before queueing anything, so a rejected request
	// leaves the inbox untouched.
	var obs perception.Observation
	if req.Pixel != nil {
		obs = perception.Observation{Pixel: *req.Pixel, Size: *req.Size}
		if err := perception.ValidateObservation(obs); err != nil {
			s.rejectObservation(w, err)
			return
		}
	}
	if req.Range != nil {
		if err := perception.ValidateRange(*req.Range); err != nil {
			s.rejectObservation(w, err)
			return
		}
	}

	if req.Pixel != nil {
		if err := s.opts.Inbox.UpdateObservation(obs); err != nil {
			s.rejectObservation(w, err)
			return
		}
	}
	if req.Range != nil {
		if err := s.opts.Inbox.UpdateRange(*req.Range); err != nil {
			s.rejectObservation(w, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusAccepted, s.inboxStats())
}

func (s *Server) rejectObservation(w http.ResponseWriter, err error) {
	monitoring.Warnf("api: rejected observation: %v", err)
	if errors.Is(err, perception.ErrInvalidSensorReading) {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Runs == nil {
		httputil.NotFound(w, "flight log disabled")
		return
	}
	runs, err := s.opts.Runs.Runs(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	opts := diagnostics.ChartOptions{Subtitle: s.opts.RunID}
	if v := r.URL.Query().Get("threshold"); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil || th < 0 || math.IsInf(th, 0) {
			httputil.BadRequest(w, "invalid 'threshold' parameter")
			return
		}
		opts.Threshold = th
	}

	var buf bytes.Buffer
	if err := diagnostics.RenderChart(&buf, s.opts.Loop.History().Samples(), s.opts.Loop.DT(), opts); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var buf bytes.Buffer
	if err := diagnostics.WritePlot(&buf, s.opts.Loop.History().Samples(), s.opts.Loop.DT()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
