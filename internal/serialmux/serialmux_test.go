package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest makes the request look local so tsweb.AllowDebugAccess
// lets it through.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}
	return ""
}

func TestSerialMux_SubscribeUniqueIDs(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()

	if id1 == "" || id2 == "" || id1 == id2 {
		t.Errorf("expected two distinct non-empty IDs, got %q and %q", id1, id2)
	}
	if ch1 == nil || ch2 == nil {
		t.Fatal("Subscribe returned nil channel")
	}
	if n := mux.Stats().Subscribers; n != 2 {
		t.Errorf("expected 2 subscribers, got %d", n)
	}
}

func TestSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
	// unknown IDs are ignored
	mux.Unsubscribe("missing")
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData("dist_head 1.25\r\n\npos_target 240 320 480 640\n")

	for _, ch := range []chan string{ch1, ch2} {
		if got := receive(t, ch); got != "dist_head 1.25" {
			t.Errorf("first line = %q", got)
		}
		if got := receive(t, ch); got != "pos_target 240 320 480 640" {
			t.Errorf("second line = %q", got)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not stop")
	}
}

func TestSerialMux_MonitorReturnsOnPortClose(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	port.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor() = %v, want nil at EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return at EOF")
	}
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("forward_prop 0.0000"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if err := mux.SendCommand("alt_prop 0.0000\n"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got, want := port.Written(), "forward_prop 0.0000\nalt_prop 0.0000\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestSerialMux_SendCommandErrors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	port.WriteError = errors.New("device unplugged")
	if err := mux.SendCommand("x"); err == nil || !strings.Contains(err.Error(), "unplugged") {
		t.Errorf("expected write error, got %v", err)
	}

	port.ShortWrite = true
	if err := mux.SendCommand("x"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed on short write, got %v", err)
	}
}

func TestSerialMux_CloseClosesSubscribersAndPort(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		form           url.Values
		expectedStatus int
	}{
		{"valid POST", http.MethodPost, url.Values{"command": {"forward_prop 0"}}, http.StatusOK},
		{"empty command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
		{"missing command", http.MethodPost, url.Values{}, http.StatusBadRequest},
		{"GET not allowed", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d (body %q)", w.Code, tt.expectedStatus, w.Body.String())
			}
		})
	}

	if got := port.Written(); got != "forward_prop 0\n" {
		t.Errorf("written = %q", got)
	}
}

func TestAttachAdminRoutes_TailStreamsLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /debug/tail: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); line != ": ping\n" {
		t.Fatalf("expected ping, got %q", line)
	}

	// The ping is flushed after subscribing, so the next line reaches us.
	port.AddReadData("dist_head 0.75\n")
	reader.ReadString('\n') // blank line after the ping
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if line != "data: dist_head 0.75\n" {
		t.Errorf("event = %q", line)
	}
}

func TestSerialMux_StatsCountTraffic(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, fast := mux.Subscribe()
	_, slow := mux.Subscribe()

	for i := 0; i < subscriberBuffer+3; i++ {
		mux.broadcast("dist_head 1")
		<-fast
	}
	if err := mux.SendCommand("alt_prop 0.2500"); err != nil {
		t.Fatal(err)
	}

	got := mux.Stats()
	want := LinkStats{
		Subscribers:  2,
		LinesRead:    subscriberBuffer + 3,
		LinesDropped: 3,
		CommandsSent: 1,
		LastCommand:  "alt_prop 0.2500",
	}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if len(slow) != subscriberBuffer {
		t.Errorf("slow subscriber holds %d lines, want %d", len(slow), subscriberBuffer)
	}
}

func TestSerialMux_SubscribeAfterClose(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	if err := mux.Close(); err != nil {
		t.Fatal(err)
	}
	_, ch := mux.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("subscribe after Close should return a closed channel")
	}
	if mux.broadcast("dist_head 1") {
		t.Error("broadcast after Close should report false")
	}
}

func TestAttachAdminRoutes_LinkStats(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	if err := mux.SendCommand("forward_prop 0.1000"); err != nil {
		t.Fatal(err)
	}
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/link-stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats LinkStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.CommandsSent != 1 || stats.LastCommand != "forward_prop 0.1000" {
		t.Errorf("stats = %+v", stats)
	}
}
