package infrastructure

import (
	"fmt"
	"net"
	"strings"

	"github.com/krobus00/price-stream-service/internal/config"
	"github.com/krobus00/price-stream-service/internal/constant"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the standard health service so orchestrators can probe
// the broadcaster over gRPC. Services start NOT_SERVING.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
}

func NewGRPCServer(addr string, services ...string) (*GRPCServer, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("grpc address is required")
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", addr, err)
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	for _, service := range append([]string{""}, services...) {
		healthServer.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	if config.Env != nil && config.Env.Env == constant.DevelopmentEnvironment {
		reflection.Register(server)
	}

	return &GRPCServer{
		server:   server,
		health:   healthServer,
		listener: lis,
	}, nil
}

func (g *GRPCServer) Addr() string {
	return g.listener.Addr().String()
}

func (g *GRPCServer) Start() error {
	logrus.WithField("addr", g.Addr()).Info("grpc server starting")
	return g.server.Serve(g.listener)
}

func (g *GRPCServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(service, status)
}

func (g *GRPCServer) Shutdown() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
