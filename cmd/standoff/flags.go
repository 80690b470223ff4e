package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/banshee-data/standoff/internal/config"
)

var (
	configFile     = flag.String("config", "", "Path to a JSON config file (see "+config.DefaultConfigPath+")")
	envFile        = flag.String("env-file", ".env", "Optional .env file whose STANDOFF_* variables seed flag defaults")
	devMode        = flag.Bool("dev", false, "Fly against fixture lines instead of a serial port")
	fixturesFile   = flag.String("fixtures", "fixtures.txt", "Fixture lines replayed in dev mode")
	listen         = flag.String("listen", "", "HTTP listen address (overrides config)")
	port           = flag.String("port", "", "Serial port to use (overrides config; ignored in dev mode)")
	udpListen      = flag.String("udp-listen", "", "UDP address for sensor lines (overrides config)")
	udpActuator    = flag.String("udp-actuator", "", "UDP destination for thruster commands (overrides config)")
	telemetryAddr  = flag.String("telemetry-listen", "", "gRPC telemetry listen address (overrides config)")
	noTelemetry    = flag.Bool("no-telemetry", false, "Disable the gRPC telemetry stream")
	dbPath         = flag.String("db", "", "Flight log database path (overrides config)")
	noDB           = flag.Bool("no-db", false, "Disable the flight log")
	figuresDir     = flag.String("figures", "", "Directory for the error plot written on exit (overrides config)")
	traceEvery     = flag.Int("trace-every", -1, "Log a trace line every N ticks; 0 disables (overrides config)")
	replayFile     = flag.String("replay", "", "Replay UDP sensor datagrams from a PCAP file")
	replayPort     = flag.Int("replay-port", 0, "Only replay datagrams to this UDP port (0 = all)")
	replayRealtime = flag.Bool("replay-realtime", false, "Pace the replay by capture timestamps")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// envPrefix namespaces environment overrides: -udp-listen reads
// STANDOFF_UDP_LISTEN.
const envPrefix = "STANDOFF_"

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnv sets every flag not given on the command line from its STANDOFF_*
// variable, if present.
func applyEnv(fs *flag.FlagSet, lookup func(string) (string, bool)) error {
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if explicit[f.Name] || firstErr != nil {
			return
		}
		if v, ok := lookup(envName(f.Name)); ok {
			if err := fs.Set(f.Name, v); err != nil {
				firstErr = fmt.Errorf("invalid %s=%q: %w", envName(f.Name), v, err)
			}
		}
	})
	return firstErr
}

// loadEnvFile loads path into the process environment when it exists.
// Variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// loadConfig reads the config file, if any, and applies command-line
// overrides.
func loadConfig() (*config.StandoffConfig, error) {
	cfg := config.EmptyConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg)
	return cfg, cfg.Validate()
}

func applyOverrides(cfg *config.StandoffConfig) {
	override := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	override(&cfg.HTTPListen, *listen)
	override(&cfg.SerialPort, *port)
	override(&cfg.UDPListen, *udpListen)
	override(&cfg.UDPActuator, *udpActuator)
	override(&cfg.TelemetryListen, *telemetryAddr)
	override(&cfg.DBPath, *dbPath)
	override(&cfg.FiguresDir, *figuresDir)
	if *traceEvery >= 0 {
		n := *traceEvery
		cfg.TraceEvery = &n
	}
	empty := ""
	if *noTelemetry {
		cfg.TelemetryListen = &empty
	}
	if *noDB {
		cfg.DBPath = &empty
	}
}
