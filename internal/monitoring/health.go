package monitoring

import (
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC service name reported for the camera device.
const HealthService = "camera.control.Device"

// Health publishes device readiness through the standard gRPC health
// checking protocol. The overall server status ("") follows the device.
type Health struct {
	server *health.Server

	mu      sync.Mutex
	serving bool
	closed  bool
}

// NewHealth creates a Health reporter that starts out NOT_SERVING.
func NewHealth() *Health {
	h := &Health{server: health.NewServer()}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.server.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to a gRPC server.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// SetServing updates the reported status. Transitions are logged once.
func (h *Health) SetServing(serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.serving == serving {
		return
	}
	h.serving = serving

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(HealthService, status)
	Logf("health: device %s", status)
}

// Serving reports the last status set.
func (h *Health) Serving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serving
}

// Shutdown marks every service NOT_SERVING permanently.
func (h *Health) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.serving = false
	h.server.Shutdown()
}

// Server exposes the underlying health server for direct checks.
func (h *Health) Server() healthpb.HealthServer {
	return h.server
}
