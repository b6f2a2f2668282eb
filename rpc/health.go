package rpc

import (
	"net"

	"github.com/wfunc/bingoserver/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes the standard gRPC health protocol. It reports
// NOT_SERVING once the change feed is gone.
type HealthServer struct {
	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
}

func NewHealthServer(addr string) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	return &HealthServer{listener: listener, grpc: server, health: hs}, nil
}

func (h *HealthServer) Addr() string {
	return h.listener.Addr().String()
}

func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
}

// Start blocks serving gRPC until Stop.
func (h *HealthServer) Start() {
	logger.Log.Infof("Health server listening on %s", h.Addr())
	if err := h.grpc.Serve(h.listener); err != nil {
		logger.Log.Errorf("Health server stopped: %v", err)
	}
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
