package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/standoff/internal/control"
	"github.com/banshee-data/standoff/internal/network"
	"github.com/banshee-data/standoff/internal/perception"
	"github.com/banshee-data/standoff/internal/pipeline"
	"github.com/banshee-data/standoff/internal/serialmux"
	"github.com/banshee-data/standoff/internal/telemetry"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/standoff.defaults.json"

// StandoffConfig is the root configuration of the controller process. Every
// field is optional: the Get* methods supply the flown defaults for anything
// the file leaves out, so partial configs are safe.
type StandoffConfig struct {
	// Camera geometry, angles in degrees.
	OrientationOffsetDeg *float64 `json:"orientation_offset_deg,omitempty"`
	HorizontalFOV        *float64 `json:"horizontal_fov,omitempty"`
	VerticalFOV          *float64 `json:"vertical_fov,omitempty"`
	CameraOffset         *float64 `json:"camera_offset,omitempty"`

	StandoffDistance *float64 `json:"standoff_distance,omitempty"`

	// Dynamics. Unset fields keep the identified values.
	Dynamics *DynamicsConfig `json:"dynamics,omitempty"`

	// Loop
	TickRate   *float64 `json:"tick_rate,omitempty"` // Hz
	TraceEvery *int     `json:"trace_every,omitempty"`

	// Transports
	SerialPort      *string                `json:"serial_port,omitempty"`
	Serial          *serialmux.PortOptions `json:"serial,omitempty"`
	UDPListen       *string                `json:"udp_listen,omitempty"`
	UDPActuator     *string                `json:"udp_actuator,omitempty"`
	UDPStatsEvery   *string                `json:"udp_stats_interval,omitempty"` // duration string like "1m"
	TelemetryListen *string                `json:"telemetry_listen,omitempty"`
	HTTPListen      *string                `json:"http_listen,omitempty"`

	// Outputs
	DBPath     *string `json:"db_path,omitempty"`
	FiguresDir *string `json:"figures_dir,omitempty"`
}

// DynamicsConfig overrides individual parameters of control.Dynamics.
type DynamicsConfig struct {
	DragForward  *float64 `json:"drag_forward,omitempty"`
	DragLateral  *float64 `json:"drag_lateral,omitempty"`
	DragVertical *float64 `json:"drag_vertical,omitempty"`
	DragYaw      *float64 `json:"drag_yaw,omitempty"`
	Mass         *float64 `json:"mass,omitempty"`
	YawInertia   *float64 `json:"yaw_inertia,omitempty"`
	ArmLength    *float64 `json:"arm_length,omitempty"`
	GainForward  *float64 `json:"gain_forward,omitempty"`
	GainTop      *float64 `json:"gain_top,omitempty"`
	GainBottom   *float64 `json:"gain_bottom,omitempty"`
	GainVertical *float64 `json:"gain_vertical,omitempty"`
}

// EmptyConfig returns a StandoffConfig with all fields unset.
func EmptyConfig() *StandoffConfig {
	return &StandoffConfig{}
}

// LoadConfig loads a StandoffConfig from a JSON file.
// The file must have a .json extension and be under 1 MiB.
func LoadConfig(path string) (*StandoffConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values can drive a controller.
func (c *StandoffConfig) Validate() error {
	for name, v := range map[string]*float64{
		"orientation_offset_deg": c.OrientationOffsetDeg,
		"camera_offset":          c.CameraOffset,
		"standoff_distance":      c.StandoffDistance,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be finite, got %v", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"horizontal_fov": c.HorizontalFOV,
		"vertical_fov":   c.VerticalFOV,
	} {
		if v != nil && !(*v > 0 && *v < 180) {
			return fmt.Errorf("%s must be in (0, 180) degrees, got %v", name, *v)
		}
	}

	if c.OrientationOffsetDeg != nil && math.Abs(*c.OrientationOffsetDeg) > 90 {
		return fmt.Errorf("orientation_offset_deg must be in [-90, 90], got %v", *c.OrientationOffsetDeg)
	}
	if c.StandoffDistance != nil && *c.StandoffDistance < 0 {
		return fmt.Errorf("standoff_distance must be non-negative, got %v", *c.StandoffDistance)
	}
	if c.TickRate != nil && !(*c.TickRate > 0) {
		return fmt.Errorf("tick_rate must be positive, got %v", *c.TickRate)
	}
	if c.TraceEvery != nil && *c.TraceEvery < 0 {
		return fmt.Errorf("trace_every must be non-negative, got %d", *c.TraceEvery)
	}

	if d := c.Dynamics; d != nil {
		if d.Mass != nil && !(*d.Mass > 0) {
			return fmt.Errorf("dynamics.mass must be positive, got %v", *d.Mass)
		}
		if d.YawInertia != nil && !(*d.YawInertia > 0) {
			return fmt.Errorf("dynamics.yaw_inertia must be positive, got %v", *d.YawInertia)
		}
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	if c.UDPStatsEvery != nil && *c.UDPStatsEvery != "" {
		if _, err := time.ParseDuration(*c.UDPStatsEvery); err != nil {
			return fmt.Errorf("invalid udp_stats_interval '%s': %w", *c.UDPStatsEvery, err)
		}
	}
	return nil
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// GetOrientationOffset returns the camera tilt in radians. The file gives
// it in degrees.
func (c *StandoffConfig) GetOrientationOffset() float64 {
	return perception.Radians(getFloat(c.OrientationOffsetDeg, perception.DefaultTiltDegrees))
}

func (c *StandoffConfig) GetHorizontalFOV() float64 {
	return getFloat(c.HorizontalFOV, perception.DefaultHorizontalFOV)
}

func (c *StandoffConfig) GetVerticalFOV() float64 {
	return getFloat(c.VerticalFOV, perception.DefaultVerticalFOV)
}

func (c *StandoffConfig) GetCameraOffset() float64 {
	return getFloat(c.CameraOffset, control.DefaultCameraOffset)
}

// GetStandoffDistance returns the distance to hold from the target (m).
func (c *StandoffConfig) GetStandoffDistance() float64 {
	return getFloat(c.StandoffDistance, control.DefaultConfig().StandoffDistance)
}

// GetDynamics returns the identified dynamics with any overrides applied.
func (c *StandoffConfig) GetDynamics() control.Dynamics {
	d := control.DefaultDynamics()
	o := c.Dynamics
	if o == nil {
		return d
	}
	d.DragForward = getFloat(o.DragForward, d.DragForward)
	d.DragLateral = getFloat(o.DragLateral, d.DragLateral)
	d.DragVertical = getFloat(o.DragVertical, d.DragVertical)
	d.DragYaw = getFloat(o.DragYaw, d.DragYaw)
	d.Mass = getFloat(o.Mass, d.Mass)
	d.YawInertia = getFloat(o.YawInertia, d.YawInertia)
	d.ArmLength = getFloat(o.ArmLength, d.ArmLength)
	d.GainForward = getFloat(o.GainForward, d.GainForward)
	d.GainTop = getFloat(o.GainTop, d.GainTop)
	d.GainBottom = getFloat(o.GainBottom, d.GainBottom)
	d.GainVertical = getFloat(o.GainVertical, d.GainVertical)
	return d
}

// GetTickRate returns the control loop frequency in Hz.
func (c *StandoffConfig) GetTickRate() float64 {
	return getFloat(c.TickRate, pipeline.DefaultRate)
}

// GetTraceEvery returns how many ticks pass between trace lines.
func (c *StandoffConfig) GetTraceEvery() int {
	if c.TraceEvery == nil {
		return 10
	}
	return *c.TraceEvery
}

// GetSerialPort returns the serial device path. Empty disables serial.
func (c *StandoffConfig) GetSerialPort() string {
	return getString(c.SerialPort, "")
}

func (c *StandoffConfig) GetSerialOptions() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate}
	}
	return *c.Serial
}

// GetUDPListen returns the sensor datagram address. Empty disables it.
func (c *StandoffConfig) GetUDPListen() string {
	return getString(c.UDPListen, "")
}

// GetUDPActuator returns the command datagram destination. Empty disables it.
func (c *StandoffConfig) GetUDPActuator() string {
	return getString(c.UDPActuator, "")
}

// GetUDPStatsInterval parses and returns the UDP statistics log interval.
func (c *StandoffConfig) GetUDPStatsInterval() time.Duration {
	if c.UDPStatsEvery == nil || *c.UDPStatsEvery == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(*c.UDPStatsEvery)
	if err != nil {
		return time.Minute
	}
	return d
}

func (c *StandoffConfig) GetTelemetryListen() string {
	return getString(c.TelemetryListen, telemetry.DefaultConfig().ListenAddr)
}

func (c *StandoffConfig) GetHTTPListen() string {
	return getString(c.HTTPListen, "localhost:8080")
}

// GetDBPath returns the flight log path. Empty disables the flight log.
func (c *StandoffConfig) GetDBPath() string {
	return getString(c.DBPath, "standoff.db")
}

func (c *StandoffConfig) GetFiguresDir() string {
	return getString(c.FiguresDir, "figures")
}

// ControllerConfig builds the control.Config described by c.
func (c *StandoffConfig) ControllerConfig() control.Config {
	return control.Config{
		Dynamics:          c.GetDynamics(),
		OrientationOffset: c.GetOrientationOffset(),
		HorizontalFOV:     c.GetHorizontalFOV(),
		VerticalFOV:       c.GetVerticalFOV(),
		StandoffDistance:  c.GetStandoffDistance(),
		CameraOffset:      c.GetCameraOffset(),
	}
}

// LoopConfig builds the pipeline.Config described by c. The clock is left
// for the caller to choose.
func (c *StandoffConfig) LoopConfig() pipeline.Config {
	return pipeline.Config{
		Rate:       c.GetTickRate(),
		TraceEvery: c.GetTraceEvery(),
	}
}

// UDPListenerConfig builds a listener config for handler.
func (c *StandoffConfig) UDPListenerConfig(handler network.LineHandler) network.UDPListenerConfig {
	return network.UDPListenerConfig{
		Address:     c.GetUDPListen(),
		LogInterval: c.GetUDPStatsInterval(),
		Handler:     handler,
	}
}
