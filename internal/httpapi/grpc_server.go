package httpapi

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"quorum.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer exposes readiness over the standard gRPC health protocol so
// orchestrators can probe without speaking HTTP.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
}

// NewHealthServer creates the gRPC health service wrapper.
func NewHealthServer(r readinessChecker) *HealthServer {
	return &HealthServer{readiness: r}
}

// Check evaluates readiness for the probe request.
func (s *HealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// Watch reports the current status once and then holds the stream open until
// the client goes away. Status flapping is not tracked.
func (s *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, ws grpc_health_v1.Health_WatchServer) error {
	resp, err := s.Check(ws.Context(), req)
	if err != nil {
		return err
	}
	if err := ws.Send(resp); err != nil {
		return status.Errorf(codes.Unavailable, "send health status: %v", err)
	}
	<-ws.Context().Done()
	return ws.Context().Err()
}
