// Package telemetry streams tick reports to ground-station clients over
// gRPC.
package telemetry

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/standoff/internal/monitoring"
	"github.com/banshee-data/standoff/internal/pipeline"
)

// Config configures a Publisher.
type Config struct {
	// ListenAddr is the TCP address of the gRPC server, e.g. "localhost:50051".
	ListenAddr string
	// MaxClients caps concurrent StreamTicks calls. Zero means 5.
	MaxClients int
}

// DefaultConfig returns the configuration used when telemetry is enabled
// without overrides.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		MaxClients: 5,
	}
}

// clientBuffer is how many ticks a slow client may lag before ticks are
// dropped for it.
const clientBuffer = 32

type clientStream struct {
	id     string
	tickCh chan pipeline.TickReport
	doneCh chan struct{}
}

// Publisher is a pipeline.Sink that serves the telemetry service.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	latestMu  sync.RWMutex
	latest    pipeline.TickReport
	hasLatest bool

	published atomic.Uint64
	dropped   atomic.Uint64

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewPublisher(cfg Config) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[string]*clientStream),
	}
}

// Start binds the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the telemetry service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterTelemetryServer(p.server, p)
	p.running.Store(true)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[Telemetry] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[Telemetry] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.Swap(false) {
		return
	}

	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()

	p.server.GracefulStop()
	p.wg.Wait()
	monitoring.Logf("[Telemetry] gRPC server stopped (published=%d dropped=%d)", p.published.Load(), p.dropped.Load())
}

// Observe implements pipeline.Sink. It never blocks the control loop.
func (p *Publisher) Observe(_ context.Context, r pipeline.TickReport) {
	p.latestMu.Lock()
	p.latest = r
	p.hasLatest = true
	p.latestMu.Unlock()

	p.published.Add(1)
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		select {
		case c.tickCh <- r:
		default:
			p.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected streams.
func (p *Publisher) Clients() int {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	return len(p.clients)
}

func (p *Publisher) Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	p.latestMu.RLock()
	r, ok := p.latest, p.hasLatest
	p.latestMu.RUnlock()
	if !ok {
		return nil, status.Error(codes.NotFound, "no tick yet")
	}
	s, err := ReportToStruct(r)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func (p *Publisher) StreamTicks(_ *emptypb.Empty, stream Telemetry_StreamTicksServer) error {
	client, err := p.addClient()
	if err != nil {
		return err
	}
	defer p.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.doneCh:
			return nil
		case r := <-client.tickCh:
			s, err := ReportToStruct(r)
			if err != nil {
				monitoring.Logf("[Telemetry] skipping tick %d: %v", r.Seq, err)
				continue
			}
			if err := stream.Send(s); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) addClient() (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if !p.running.Load() {
		return nil, status.Error(codes.Unavailable, "publisher stopped")
	}
	if len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "at most %d telemetry clients", p.config.MaxClients)
	}
	c := &clientStream{
		id:     uuid.New().String(),
		tickCh: make(chan pipeline.TickReport, clientBuffer),
		doneCh: make(chan struct{}),
	}
	p.clients[c.id] = c
	monitoring.Logf("[Telemetry] client connected: %s (total: %d)", c.id, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if c, ok := p.clients[id]; ok {
		close(c.doneCh)
		delete(p.clients, id)
		monitoring.Logf("[Telemetry] client disconnected: %s (remaining: %d)", id, len(p.clients))
	}
}
