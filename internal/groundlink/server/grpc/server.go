package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/autopeer-io/groundlink/internal/groundlink/bus"
	"github.com/autopeer-io/groundlink/internal/link/connection"
	mw "github.com/autopeer-io/groundlink/internal/pkg/middleware/grpc"
	"github.com/autopeer-io/groundlink/pkg/log"
	"github.com/autopeer-io/groundlink/pkg/options"
)

// LinkService is the health service name that turns SERVING once the
// parameter sync finished. The empty name reports the process itself.
const LinkService = "groundlink.Link"

type Server struct {
	server  *grpc.Server
	health  *health.Server
	options *options.GrpcOptions
	logger  log.Logger
}

// NewServer builds the server. initial is the phase at construction time.
func NewServer(opts *options.GrpcOptions, initial connection.Phase, logger log.Logger) *Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(mw.UnaryServerTimeout(opts.Timeout)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s) // Enable grpc_cli support

	srv := &Server{
		server:  s,
		health:  hs,
		options: opts,
		logger:  log.OrStd(logger).WithName("grpc"),
	}
	srv.setPhase(initial)
	return srv
}

func (s *Server) Name() string { return "grpc" }

// Run serves until ctx is done. Phase events from sub drive the link
// service status.
func (s *Server) Run(ctx context.Context, sub bus.Subscription) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis, sub)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener, sub bus.Subscription) error {
	s.logger.Info("Starting gRPC Server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	for {
		select {
		case err := <-errCh:
			return err
		case msg, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if ev, ok := msg.(bus.PhaseEvent); ok {
				s.setPhase(ev.To)
			}
		case <-ctx.Done():
			s.health.Shutdown()
			s.server.GracefulStop()
			return nil
		}
	}
}

func (s *Server) setPhase(p connection.Phase) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if p == connection.PhaseIdle {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(LinkService, status)
	s.logger.Debug("Health status updated", "phase", p, "status", status.String())
}
