package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/NizariMohamed/chatting/pkg/log"
)

// ServiceName is the health check name of the messaging core.
const ServiceName = "chatting.Delivery"

// Server exposes the standard gRPC health service for the process.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

func NewServer(logger zerolog.Logger) *Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{grpc: s, health: hs}
}

// Listen opens addr and serves until Stop. It blocks.
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop. It blocks.
func (s *Server) Serve(lis net.Listener) error {
	l := log.L()
	l.Info().Str("address", lis.Addr().String()).Msg("grpc server listening")
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop reports NOT_SERVING to health checkers and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
