package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/standoff/internal/api"
	"github.com/banshee-data/standoff/internal/control"
	"github.com/banshee-data/standoff/internal/db"
	"github.com/banshee-data/standoff/internal/diagnostics"
	"github.com/banshee-data/standoff/internal/network"
	"github.com/banshee-data/standoff/internal/perception"
	"github.com/banshee-data/standoff/internal/pipeline"
	"github.com/banshee-data/standoff/internal/security"
	"github.com/banshee-data/standoff/internal/serialmux"
	"github.com/banshee-data/standoff/internal/telemetry"
	"github.com/banshee-data/standoff/internal/version"
)

// fixtureInterval paces fixture lines in dev mode.
const fixtureInterval = 100 * time.Millisecond

func main() {
	flag.Parse()
	if err := loadEnvFile(*envFile); err != nil {
		log.Fatalf("failed to load %s: %v", *envFile, err)
	}
	if err := applyEnv(flag.CommandLine, os.LookupEnv); err != nil {
		log.Fatal(err)
	}

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Controller and loop
	controllerConfig := cfg.ControllerConfig()
	ctrl := control.New(controllerConfig)
	inbox := perception.NewInbox()

	// Serial link: sensor lines in, thruster commands out
	var link serialmux.Link
	switch {
	case *devMode:
		lines, err := readFixtures(*fixturesFile)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		link, _ = serialmux.NewMockSerialMux(lines, fixtureInterval)
		log.Printf("dev mode: replaying %d fixture lines from %s", len(lines), *fixturesFile)
	case cfg.GetSerialPort() != "":
		link, err = serialmux.NewRealSerialMux(cfg.GetSerialPort(), cfg.GetSerialOptions())
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
	default:
		link = serialmux.NewDisabledSerialMux()
		log.Printf("serial link disabled")
	}
	defer link.Close()

	actuators := pipeline.MultiActuator{serialmux.NewActuator(link)}
	if addr := cfg.GetUDPActuator(); addr != "" {
		udpOut, err := network.NewUDPActuator(addr)
		if err != nil {
			log.Fatalf("failed to create UDP actuator: %v", err)
		}
		defer udpOut.Close()
		actuators = append(actuators, udpOut)
		log.Printf("sending thruster commands to udp://%s", addr)
	}

	loopConfig := cfg.LoopConfig()
	loop := pipeline.New(ctrl, inbox, actuators, loopConfig)

	// Flight log
	var (
		flightLog *db.DB
		recorder  *db.Recorder
		runID     string
	)
	if path := cfg.GetDBPath(); path != "" {
		flightLog, err = db.NewDB(path)
		if err != nil {
			log.Fatalf("failed to open flight log: %v", err)
		}
		defer flightLog.Close()

		runID, err = flightLog.StartRun(ctx, db.RunInfo{
			RateHz:    loopConfig.Rate,
			StandoffM: controllerConfig.StandoffDistance,
			Version:   version.Version,
			Config:    cfg,
		})
		if err != nil {
			log.Fatalf("failed to start run: %v", err)
		}
		recorder = db.NewRecorder(flightLog, runID)
		loop.AddSink(recorder)
		log.Printf("recording run %s to %s", runID, path)
	}

	// Telemetry
	if addr := cfg.GetTelemetryListen(); addr != "" {
		tcfg := telemetry.DefaultConfig()
		tcfg.ListenAddr = addr
		publisher := telemetry.NewPublisher(tcfg)
		if err := publisher.Start(); err != nil {
			log.Fatalf("failed to start telemetry: %v", err)
		}
		defer publisher.Stop()
		loop.AddSink(publisher)
	}

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serialmux.Consume(ctx, link, inbox)
		log.Print("serial consumer terminated")
	}()

	// UDP sensor input, live and replayed
	handleLine := func(line string) error { return serialmux.HandleEvent(inbox, line) }
	if cfg.GetUDPListen() != "" || *replayFile != "" {
		listener := network.NewUDPListener(cfg.UDPListenerConfig(handleLine))

		if cfg.GetUDPListen() != "" {
			if err := listener.Listen(); err != nil {
				log.Fatalf("failed to listen for UDP sensor lines: %v", err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := listener.Start(ctx); err != nil && err != context.Canceled {
					log.Printf("UDP listener stopped: %v", err)
				}
			}()
		}

		if *replayFile != "" {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := network.ReplayPCAP(ctx, *replayFile, listener, network.ReplayOptions{
					UDPPort:  *replayPort,
					Realtime: *replayRealtime,
				})
				if err != nil && err != context.Canceled {
					log.Printf("PCAP replay failed after %d datagrams: %v", n, err)
				}
			}()
		}
	}

	// Flight log writer runs until the loop has stopped so the final ticks
	// are kept.
	recCtx, stopRecorder := context.WithCancel(context.Background())
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		if recorder != nil {
			recorder.Run(recCtx)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Options{
			Loop:       loop,
			Inbox:      inbox,
			Runs:       runStore(flightLog),
			Controller: controllerConfig,
			RateHz:     loopConfig.Rate,
			RunID:      runID,
		}).ServeMux()

		link.AttachAdminRoutes(mux)
		if flightLog != nil {
			if err := flightLog.AttachAdminRoutes(mux); err != nil {
				log.Printf("flight log admin routes unavailable: %v", err)
			}
		}

		server := &http.Server{
			Addr:    cfg.GetHTTPListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP API listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	// The control loop owns the controller and runs on this goroutine.
	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("control loop stopped: %v", err)
	}

	// Leave the thrusters idle rather than holding the last command.
	emitCtx, cancelEmit := context.WithTimeout(context.Background(), time.Second)
	if err := actuators.Emit(emitCtx, control.Command{}); err != nil {
		log.Printf("failed to send stop command: %v", err)
	}
	cancelEmit()

	name := "error.png"
	if runID != "" {
		name = security.SanitizeFilename("error-" + runID + ".png")
	}
	if path, err := diagnostics.SavePlot(cfg.GetFiguresDir(), name, loop.History().Samples(), loop.DT()); err != nil {
		log.Printf("failed to save error plot: %v", err)
	} else {
		log.Printf("saved error plot to %s", path)
	}

	stopRecorder()
	<-recDone
	if flightLog != nil {
		if err := flightLog.EndRun(context.Background(), runID, time.Now()); err != nil {
			log.Printf("failed to close run %s: %v", runID, err)
		}
		if recorder.Dropped() > 0 {
			log.Printf("flight log dropped %d tick(s)", recorder.Dropped())
		}
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// runStore avoids handing the API a typed nil.
func runStore(d *db.DB) api.RunStore {
	if d == nil {
		return nil
	}
	return d
}

// readFixtures returns the non-blank lines of path.
func readFixtures(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" && !strings.HasPrefix(l, "#") {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s has no fixture lines", path)
	}
	return lines, nil
}
