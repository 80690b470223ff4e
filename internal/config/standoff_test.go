package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/standoff/internal/control"
	"github.com/banshee-data/standoff/internal/perception"
	"github.com/banshee-data/standoff/internal/serialmux"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptyConfigUsesFlownDefaults(t *testing.T) {
	cfg := EmptyConfig()

	if diff := cmp.Diff(control.DefaultConfig(), cfg.ControllerConfig()); diff != "" {
		t.Errorf("ControllerConfig() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 10.0, cfg.GetTickRate())
	assert.Equal(t, 10, cfg.GetTraceEvery())
	assert.Equal(t, serialmux.DefaultBaudRate, cfg.GetSerialOptions().BaudRate)
	assert.Equal(t, time.Minute, cfg.GetUDPStatsInterval())
	assert.Equal(t, "localhost:50051", cfg.GetTelemetryListen())
	assert.Empty(t, cfg.GetSerialPort())
	assert.Empty(t, cfg.GetUDPListen())
	assert.Empty(t, cfg.GetUDPActuator())
	assert.Equal(t, "standoff.db", cfg.GetDBPath())
	assert.Equal(t, "figures", cfg.GetFiguresDir())
}

func TestDefaultsFileMatchesCode(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	if diff := cmp.Diff(EmptyConfig().ControllerConfig(), cfg.ControllerConfig()); diff != "" {
		t.Errorf("defaults file drifted from code (-code +file):\n%s", diff)
	}
	assert.Equal(t, EmptyConfig().LoopConfig(), cfg.LoopConfig())
	assert.Equal(t, EmptyConfig().GetUDPStatsInterval(), cfg.GetUDPStatsInterval())
}

func TestOrientationOffset_DegreesInFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "tilt.json", `{"orientation_offset_deg": 30}`))
	require.NoError(t, err)
	assert.Equal(t, math.Float64bits(perception.DefaultOrientationOffset), math.Float64bits(cfg.GetOrientationOffset()),
		"30 degrees in a file must convert to the code default exactly")

	cfg, err = LoadConfig(writeConfig(t, "steep.json", `{"orientation_offset_deg": -45}`))
	require.NoError(t, err)
	assert.InDelta(t, -math.Pi/4, cfg.GetOrientationOffset(), 1e-15)
	assert.InDelta(t, -math.Pi/4, cfg.ControllerConfig().OrientationOffset, 1e-15)
}

func TestLoadConfig_PartialOverrides(t *testing.T) {
	path := writeConfig(t, "blimp.json", `{
  "standoff_distance": 1.5,
  "tick_rate": 20,
  "dynamics": {"mass": 0.8, "gain_forward": 2},
  "serial_port": "/dev/ttyACM0",
  "serial": {"baud_rate": 57600},
  "udp_stats_interval": "30s"
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	cc := cfg.ControllerConfig()
	assert.Equal(t, 1.5, cc.StandoffDistance)
	assert.Equal(t, 0.8, cc.Dynamics.Mass)
	assert.Equal(t, 2.0, cc.Dynamics.GainForward)
	assert.Equal(t, control.DefaultDynamics().DragYaw, cc.Dynamics.DragYaw, "unset dynamics keep defaults")
	assert.Equal(t, control.DefaultCameraOffset, cc.CameraOffset)

	lc := cfg.LoopConfig()
	assert.Equal(t, 20.0, lc.Rate)
	assert.Nil(t, lc.Clock)

	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialPort())
	assert.Equal(t, 57600, cfg.GetSerialOptions().BaudRate)
	assert.Equal(t, 30*time.Second, cfg.GetUDPStatsInterval())

	lis := cfg.UDPListenerConfig(nil)
	assert.Equal(t, 30*time.Second, lis.LogInterval)
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "cfg.json", `{"tick_rate": }`, "failed to parse"},
		{"zero rate", "cfg.json", `{"tick_rate": 0}`, "tick_rate"},
		{"zero mass", "cfg.json", `{"dynamics": {"mass": 0}}`, "dynamics.mass"},
		{"negative inertia", "cfg.json", `{"dynamics": {"yaw_inertia": -1}}`, "dynamics.yaw_inertia"},
		{"fov too wide", "cfg.json", `{"horizontal_fov": 180}`, "horizontal_fov"},
		{"fov zero", "cfg.json", `{"vertical_fov": 0}`, "vertical_fov"},
		{"tilt past vertical", "cfg.json", `{"orientation_offset_deg": 120}`, "orientation_offset_deg"},
		{"negative standoff", "cfg.json", `{"standoff_distance": -0.5}`, "standoff_distance"},
		{"negative trace", "cfg.json", `{"trace_every": -1}`, "trace_every"},
		{"bad duration", "cfg.json", `{"udp_stats_interval": "soon"}`, "udp_stats_interval"},
		{"bad parity", "cfg.json", `{"serial": {"parity": "X"}}`, "serial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_TooLarge(t *testing.T) {
	body := `{"serial_port": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate_NonFinite(t *testing.T) {
	inf := math.Inf(1)
	cfg := &StandoffConfig{CameraOffset: &inf}
	assert.Error(t, cfg.Validate())
}
