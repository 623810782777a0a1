package telemetry

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/GriffinCanCode/huetrack/internal/pipeline"
	"github.com/GriffinCanCode/huetrack/internal/trace"
)

// Health mirrors pipeline state into the gRPC health service: ServiceName
// is SERVING only while a session is Running.
type Health struct {
	pipeline.NopObserver
	srv *health.Server
}

// NewHealth starts NOT_SERVING.
func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) StateChanged(_ string, _, to pipeline.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if to == pipeline.Running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(ServiceName, status)
}

// Shutdown marks every service NOT_SERVING and ends open watches.
func (h *Health) Shutdown() { h.srv.Shutdown() }

// NewGRPCServer registers health and reflection behind the trace
// interceptors.
func NewGRPCServer(h *Health) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	healthpb.RegisterHealthServer(srv, h.srv)
	reflection.Register(srv)
	return srv
}
