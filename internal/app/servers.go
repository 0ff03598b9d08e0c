package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/shopsaga/internal/api/httpapi"
	"github.com/vladislavdragonenkov/shopsaga/internal/health"
	"github.com/vladislavdragonenkov/shopsaga/internal/version"
)

const (
	healthProbeInterval = 10 * time.Second
	grpcStopTimeout     = 5 * time.Second
)

func (c *components) apiServer() *http.Server {
	router := httpapi.NewRouter(httpapi.Deps{
		Orders:       c.orchestrator,
		Payments:     c.processor,
		OrderRepo:    c.storage.orders,
		Timeline:     c.storage.timeline,
		Catalog:      c.storage.products,
		Reservations: c.reservations,
		Logger:       c.logger.WithField("component", "http-api"),
	})
	return &http.Server{
		Addr:              c.cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: c.cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      c.cfg.HTTP.WriteTimeout,
	}
}

// opsHandler отдаёт метрики Prometheus, health checks и версию сборки.
func opsHandler(checks *health.Handler, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", checks)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", checks.ReadinessHandler)
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(version.Get())
	})
	return mux
}

// newGRPCServer поднимает gRPC health и reflection с метриками go-grpc-prometheus.
func newGRPCServer(registerer prometheus.Registerer, logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

// syncGRPCHealth переносит итог HTTP health checks в gRPC health до отмены ctx.
func syncGRPCHealth(ctx context.Context, checks *health.Handler, server *grpchealth.Server) {
	update := func() {
		overall, _ := checks.Run(ctx)
		status := healthpb.HealthCheckResponse_SERVING
		if overall == health.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		server.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			server.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}

func serveHTTP(srv *http.Server, logger *log.Entry) error {
	logger.WithField("addr", srv.Addr).Info("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}

func serveGRPC(server *grpc.Server, addr string, logger *log.Entry) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.WithField("addr", addr).Info("grpc health server listening")
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.Warn("grpc graceful stop timed out, forcing")
		server.Stop()
	}
}

func newOpsServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
}
