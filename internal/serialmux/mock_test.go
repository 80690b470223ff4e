package serialmux

import (
	"context"
	"testing"
	"time"
)

func TestNewMockSerialMux_ReplaysFixtureLines(t *testing.T) {
	mux, port := NewMockSerialMux([]string{"dist_head 1.0", "pos_target 240 320 480 640\n"}, time.Millisecond)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	want := []string{"dist_head 1.0", "pos_target 240 320 480 640", "dist_head 1.0"}
	for i, w := range want {
		if got := receive(t, ch); got != w {
			t.Errorf("line %d = %q, want %q", i, got, w)
		}
	}

	if err := mux.SendCommand("alt_prop 0.0000"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got := port.Written(); got != "alt_prop 0.0000\n" {
		t.Errorf("written = %q", got)
	}

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := mux.SendCommand("x"); err == nil {
		t.Error("expected write to closed mock port to fail")
	}
}
