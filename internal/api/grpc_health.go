package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/v1"
)

// GrpcHealthServer exposes grpc.health.v1 for orchestrators that health-check over gRPC.
type GrpcHealthServer struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
}

// NewGrpcHealthServer listens on addr. The overall status and the named
// service start as SERVING.
func NewGrpcHealthServer(addr, service string) (*GrpcHealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if service != "" {
		hs.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	}

	return &GrpcHealthServer{srv: srv, health: hs, lis: lis}, nil
}

// Addr returns the bound listener address.
func (s *GrpcHealthServer) Addr() string {
	return s.lis.Addr().String()
}

// Serve blocks until Stop is called.
func (s *GrpcHealthServer) Serve() error {
	slog.Info("gRPC health server listening", "addr", s.Addr())
	if err := s.srv.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *GrpcHealthServer) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
