package grpc

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
	"github.com/clippy-oss/homie/marketplace-chat/internal/realtime"
)

// ChatServiceName is the health service name tracking the realtime connection.
const ChatServiceName = "marketplace.chat"

type ServerConfig struct {
	Address string
}

type Server struct {
	server  *grpc.Server
	health  *health.Server
	states  realtime.StateSource
	stopObs func()
	config  ServerConfig
	log     zerolog.Logger
}

func NewServer(states realtime.StateSource, config ServerConfig) *Server {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(),
			RecoveryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			StreamLoggingInterceptor(),
			StreamRecoveryInterceptor(),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	s := &Server{
		server: server,
		health: hs,
		states: states,
		config: config,
		log:    logger.Module("grpc"),
	}
	s.stopObs = states.OnStateChange(s.onStateChange)
	return s
}

func (s *Server) onStateChange(state realtime.ConnState, _ realtime.Session) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == realtime.Connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ChatServiceName, status)
	s.log.Debug().Str("state", state.String()).Str("health", status.String()).Msg("health updated")
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("address", lis.Addr().String()).Msg("gRPC server listening")
	return s.server.Serve(lis)
}

func (s *Server) Stop() {
	s.stopObs()
	s.health.Shutdown()
	s.server.GracefulStop()
}
