package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/Dhoini/Billing-microservice/internal/interceptors"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// ServiceName - имя сервиса в grpc.health.v1
const ServiceName = "billing.v1.BillingService"

// Pinger - проверка доступности базы
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server gRPC сервер со стандартным health-сервисом
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	db         Pinger
	log        *logger.Logger
	listener   net.Listener

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer создает новый gRPC сервер
func NewServer(db Pinger, log *logger.Logger) *Server {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     time.Minute * 5,
		MaxConnectionAge:      time.Hour,
		MaxConnectionAgeGrace: time.Minute * 5,
		Time:                  time.Minute * 2,
		Timeout:               time.Second * 20,
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(kaParams),
		grpc.ChainUnaryInterceptor(interceptors.NewLoggingInterceptor(log).Unary()),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	// reflection для grpcurl
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		db:         db,
		log:        log.With("component", "grpc"),
		stopCh:     make(chan struct{}),
	}
}

// CheckHealth выставляет статус по доступности базы
func (s *Server) CheckHealth(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if s.db != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.log.Warnw("Database health check failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return st
}

// WatchHealth периодически обновляет статус до Stop
func (s *Server) WatchHealth(interval time.Duration) {
	s.CheckHealth(context.Background())
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.CheckHealth(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Serve обслуживает уже открытый listener
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	if err := s.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Start запускает gRPC сервер
func (s *Server) Start(port string) error {
	addr := ":" + port
	s.log.Infow("Starting gRPC server", "addr", addr)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Stop останавливает gRPC сервер
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.log.Infow("Stopping gRPC server")
		close(s.stopCh)
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	})
}
