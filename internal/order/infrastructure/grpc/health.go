package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name probes ask about besides the empty overall name.
const ServiceName = "scrap.order.v1.OrderService"

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer reports SERVING while the backing store answers pings.
type HealthServer struct {
	log      *slog.Logger
	store    Pinger
	interval time.Duration
	health   *health.Server
}

func NewHealthServer(log *slog.Logger, store Pinger, interval time.Duration) *HealthServer {
	return &HealthServer{
		log:      log,
		store:    store,
		interval: interval,
		health:   health.NewServer(),
	}
}

// Check pings once and publishes the result.
func (h *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.store.Ping(pingCtx); err != nil {
		h.log.Warn("store ping failed", "err", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return status
}

// Watch re-checks every interval until ctx is done, then marks everything
// NOT_SERVING so in-flight probes drain.
func (h *HealthServer) Watch(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-t.C:
			h.Check(ctx)
		}
	}
}

func Run(addr string, hs *HealthServer) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs.health)
	go func() {
		if err := gs.Serve(lis); err != nil {
			hs.log.Error("grpc server stopped", "err", err)
		}
	}()
	return gs, nil
}
