package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// EngineService is the health service name reported for the engine.
const EngineService = "alertr.engine"

// HealthServer exposes the standard gRPC health service. The engine
// service is SERVING while the engine loop runs.
type HealthServer struct {
	logger zerolog.Logger
	addr   string
	engine EngineStatus
	health *health.Server
	server *grpc.Server
	lis    net.Listener
}

func NewHealthServer(engine EngineStatus, logger zerolog.Logger, addr string) *HealthServer {
	h := &HealthServer{
		logger: logger.With().Str("component", "grpc_health").Logger(),
		addr:   addr,
		engine: engine,
		health: health.NewServer(),
		server: grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus(EngineService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Listen binds the listener so the bound address is known before Serve.
func (h *HealthServer) Listen() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	h.lis = lis
	return nil
}

// Addr returns the bound address after Listen.
func (h *HealthServer) Addr() string {
	if h.lis == nil {
		return h.addr
	}
	return h.lis.Addr().String()
}

// Serve blocks serving health checks and refreshes the engine status
// until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context) error {
	if h.lis == nil {
		if err := h.Listen(); err != nil {
			return err
		}
	}
	go h.watch(ctx)
	go func() {
		<-ctx.Done()
		h.health.Shutdown()
		h.server.GracefulStop()
	}()

	h.logger.Info().Str("address", h.Addr()).Msg("Starting gRPC health server")
	return h.server.Serve(h.lis)
}

func (h *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_NOT_SERVING
	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if h.engine.Snapshot().Running {
			status = healthpb.HealthCheckResponse_SERVING
		}
		if status != last {
			h.health.SetServingStatus(EngineService, status)
			h.logger.Debug().Str("status", status.String()).Msg("Engine health changed")
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
