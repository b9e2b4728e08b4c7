// Package daemon exposes the gRPC surface of the playcore daemon: the
// standard health service, reporting SERVING while new playback sessions
// are accepted.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name of the session manager. The
// empty name reports the same status for the server as a whole.
const ServiceName = "playcore.v1.Sessions"

// Readiness reports whether new sessions can be served.
type Readiness interface {
	Accepting() bool
}

// Config holds gRPC server configuration.
type Config struct {
	ListenAddr string
	// PollInterval is how often readiness is re-evaluated.
	PollInterval time.Duration
}

// Server serves the gRPC health service.
type Server struct {
	logger     *slog.Logger
	config     *Config
	readiness  Readiness
	grpcServer *grpc.Server
	health     *health.Server

	mu      sync.Mutex
	serving bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewServer creates a new gRPC server.
func NewServer(logger *slog.Logger, cfg *Config, readiness Readiness) *Server {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:    logger.With(slog.String("component", "grpc")),
		config:    cfg,
		readiness: readiness,
		health:    health.NewServer(),
	}
	s.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(s.unaryInterceptor),
		grpc.StreamInterceptor(s.streamInterceptor),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Start listens on the configured address and serves in the background
// until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}
	s.logger.Info("starting gRPC server", slog.String("address", listener.Addr().String()))

	go func() {
		if err := s.Serve(ctx, listener); err != nil {
			s.logger.Error("gRPC server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Serve serves on listener until Stop is called. Health statuses follow
// the readiness source while serving.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.update()
	go s.watch(watchCtx, done)

	err := s.grpcServer.Serve(listener)
	cancel()
	if err == grpc.ErrServerStopped {
		return nil
	}
	return err
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
// In-flight calls are cut off when ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	// Shutdown keeps later updates from flipping statuses back.
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}

func (s *Server) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.update()
		}
	}
}

func (s *Server) update() {
	serving := s.readiness != nil && s.readiness.Accepting()

	s.mu.Lock()
	changed := serving != s.serving
	s.serving = serving
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.setStatus(status)
	if changed {
		s.logger.Info("health status changed", slog.String("status", status.String()))
	}
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// unaryInterceptor adds logging to unary RPCs.
func (s *Server) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)

	if err != nil {
		s.logger.Debug("gRPC call failed",
			slog.String("method", info.FullMethod),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("gRPC call completed",
			slog.String("method", info.FullMethod),
			slog.Duration("duration", duration),
		)
	}

	return resp, err
}

// streamInterceptor adds logging to streaming RPCs such as health watches.
func (s *Server) streamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)

	if err != nil {
		s.logger.Debug("gRPC stream ended with error",
			slog.String("method", info.FullMethod),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("gRPC stream ended",
			slog.String("method", info.FullMethod),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return err
}
