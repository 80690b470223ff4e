package api

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/standoff/internal/control"
	"github.com/banshee-data/standoff/internal/db"
	"github.com/banshee-data/standoff/internal/monitoring"
	"github.com/banshee-data/standoff/internal/perception"
	"github.com/banshee-data/standoff/internal/pipeline"
	"github.com/banshee-data/standoff/internal/testutil"
)

var epoch = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func quietLogs(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

type fixture struct {
	loop   *pipeline.Loop
	inbox  *perception.Inbox
	server *Server
	mux    *http.ServeMux
}

func newFixture(t *testing.T, runs RunStore) *fixture {
	t.Helper()
	quietLogs(t)
	inbox := perception.NewInbox()
	cfg := control.DefaultConfig()
	loop := pipeline.New(control.New(cfg), inbox, nil, pipeline.Config{})
	s := NewServer(Options{
		Loop:       loop,
		Inbox:      inbox,
		Runs:       runs,
		Controller: cfg,
		RateHz:     pipeline.DefaultRate,
		RunID:      "run-1",
	})
	return &fixture{loop: loop, inbox: inbox, server: s, mux: s.ServeMux()}
}

func (f *fixture) step(n int) {
	for i := 0; i < n; i++ {
		f.loop.Step(context.Background(), epoch.Add(time.Duration(i)*100*time.Millisecond))
	}
}

func TestStatus_BeforeFirstTick(t *testing.T) {
	f := newFixture(t, nil)

	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/status", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var st Status
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, control.ModeTargetLost, st.Mode)
	assert.Zero(t, st.Ticks)
	assert.Nil(t, st.Last)
	assert.Equal(t, "run-1", st.RunID)
	assert.Contains(t, st.Version, "standoff")
	require.NotNil(t, st.Inbox)
}

func TestStatus_ReportsLastTick(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.inbox.UpdateObservation(perception.Observation{
		Pixel: perception.Pixel{Row: 240, Col: 320},
		Size:  perception.Size{Height: 480, Width: 640},
	}))
	require.NoError(t, f.inbox.UpdateRange(2))
	f.step(3)

	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/status", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var st Status
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, control.ModeTargetAcquired, st.Mode)
	assert.Equal(t, uint64(3), st.Ticks)
	require.NotNil(t, st.Last)
	assert.Equal(t, 2.0, st.Last.Range)
	assert.Equal(t, InboxStats{Accepted: 2}, *st.Inbox)
}

func TestTrackingError(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.inbox.UpdateObservation(perception.Observation{
		Pixel: perception.Pixel{Row: 240, Col: 320},
		Size:  perception.Size{Height: 480, Width: 640},
	}))
	require.NoError(t, f.inbox.UpdateRange(2))
	f.step(2)

	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/tracking_error", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got TrackingErrorResponse
	testutil.DecodeJSON(t, rec, &got)
	assert.InDelta(t, 0.1, got.DT, 1e-12)
	require.Len(t, got.Samples, 2)
	assert.InDelta(t, 0.5, *got.Samples[0], 1e-12)
	assert.InDelta(t, 1.5, *got.Samples[1], 1e-12)

	rec = testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/tracking_error?since=1", ""))
	testutil.DecodeJSON(t, rec, &got)
	assert.Equal(t, 1, got.Start)
	assert.Len(t, got.Samples, 1)

	rec = testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/tracking_error?since=-2", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestTrackingError_NonFiniteIsNull(t *testing.T) {
	quietLogs(t)
	cfg := control.DefaultConfig()
	ctrl := control.New(cfg)
	// A NaN camera tilt makes every pose estimate NaN; the history records +Inf.
	ctrl.Perception.OrientationOffset = math.NaN()
	loop := pipeline.New(ctrl, nil, nil, pipeline.Config{})
	loop.Step(context.Background(), epoch)

	mux := NewServer(Options{Loop: loop, Controller: cfg}).ServeMux()
	rec := testutil.Serve(mux, testutil.NewJSONRequest(http.MethodGet, "/api/tracking_error", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"samples":[null]`)

	rec = testutil.Serve(mux, testutil.NewJSONRequest(http.MethodGet, "/api/status", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"tracking_error"`)
	assert.Contains(t, rec.Body.String(), `"non_finite"`)
}

func TestConfig(t *testing.T) {
	f := newFixture(t, nil)
	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/config", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got ConfigResponse
	testutil.DecodeJSON(t, rec, &got)
	assert.Equal(t, 0.5, got.StandoffDistance)
	assert.Equal(t, 10.0, got.TickRate)
	assert.Equal(t, control.DefaultDynamics(), got.Dynamics)
	assert.Equal(t, 69.0, got.Camera.HorizontalFOV)
	assert.Equal(t, 1.0, got.PositionGain)
	assert.Equal(t, 2.0, got.VelocityGain)
}

func TestObservation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		accepted uint64
	}{
		{"observation and range", `{"pixel":{"row":10,"col":20},"size":{"height":480,"width":640},"range":1.5}`, http.StatusAccepted, 2},
		{"range only", `{"range":0.75}`, http.StatusAccepted, 1},
		{"target lost sentinel", `{"pixel":{"row":0,"col":0},"size":{"height":0,"width":0}}`, http.StatusAccepted, 1},
		{"negative range", `{"range":-1}`, http.StatusBadRequest, 0},
		{"pixel outside image", `{"pixel":{"row":900,"col":20},"size":{"height":480,"width":640},"range":1}`, http.StatusBadRequest, 0},
		{"pixel without size", `{"pixel":{"row":10,"col":20}}`, http.StatusBadRequest, 0},
		{"empty", `{}`, http.StatusBadRequest, 0},
		{"unknown field", `{"speed":3}`, http.StatusBadRequest, 0},
		{"bad json", `{"range":`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodPost, "/api/observation", tt.body))
			testutil.AssertStatusCode(t, rec.Code, tt.status)

			accepted, rejected := f.inbox.Stats()
			assert.Equal(t, tt.accepted, accepted)
			assert.Zero(t, rejected, "rejected requests never reach the inbox")
		})
	}
}

func TestObservation_ReachesController(t *testing.T) {
	f := newFixture(t, nil)
	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodPost, "/api/observation",
		`{"pixel":{"row":240,"col":320},"size":{"height":480,"width":640},"range":2}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)

	f.step(1)
	last, ok := f.loop.Last()
	require.True(t, ok)
	assert.Equal(t, control.ModeTargetAcquired, last.Mode)
	assert.Equal(t, 2.0, last.Range)
}

func TestObservation_DisabledWithoutInbox(t *testing.T) {
	quietLogs(t)
	loop := pipeline.New(control.New(control.DefaultConfig()), nil, nil, pipeline.Config{})
	mux := NewServer(Options{Loop: loop}).ServeMux()
	rec := testutil.Serve(mux, testutil.NewJSONRequest(http.MethodPost, "/api/observation", `{"range":1}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

type stubRuns struct {
	runs []db.Run
	err  error
}

func (s stubRuns) Runs(context.Context) ([]db.Run, error) { return s.runs, s.err }

func TestRuns(t *testing.T) {
	f := newFixture(t, nil)
	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/runs", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	f = newFixture(t, stubRuns{})
	rec = testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/runs", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	f = newFixture(t, stubRuns{runs: []db.Run{{ID: "abc", RateHz: 10, Ticks: 4}}})
	rec = testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/runs", ""))
	var runs []db.Run
	testutil.DecodeJSON(t, rec, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "abc", runs[0].ID)

	f = newFixture(t, stubRuns{err: errors.New("disk full")})
	rec = testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/runs", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, stubRuns{})
	for _, path := range []string{"/api/status", "/api/tracking_error", "/api/config", "/api/runs", "/debug/chart", "/debug/error.png"} {
		rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodPost, path, "{}"))
		testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
	}
	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/api/observation", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestChart(t *testing.T) {
	f := newFixture(t, nil)
	f.step(3)

	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/debug/chart?threshold=0.2", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")

	rec = testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/debug/chart?threshold=abc", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestPlot(t *testing.T) {
	f := newFixture(t, nil)
	f.step(5)

	rec := testutil.Serve(f.mux, testutil.NewJSONRequest(http.MethodGet, "/debug/error.png", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	assert.NoError(t, err)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := testutil.Serve(h, testutil.NewJSONRequest(http.MethodGet, "/api/status?x=1", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	assert.Contains(t, buf.String(), colorBoldRed+"418"+colorReset)
	assert.Contains(t, buf.String(), "GET "+colorCyan+"/api/status?x=1"+colorReset)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(http.StatusOK))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(http.StatusNotModified))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(http.StatusInternalServerError))
	assert.Equal(t, "101", statusCodeColor(http.StatusSwitchingProtocols))
}
