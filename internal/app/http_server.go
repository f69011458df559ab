package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/health"
)

const httpShutdownTimeout = 5 * time.Second

// opsRoutes — служебные маршруты: метрики Prometheus и health-пробы.
func opsRoutes(registry *health.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /healthz", registry)
	mux.HandleFunc("GET /livez", health.Live)
	mux.HandleFunc("GET /readyz", registry.Ready)
	return mux
}

// startMetricsServer слушает addr до отмены ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, registry *health.Registry) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           opsRoutes(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger = logger.WithField("addr", addr)

	go func() {
		logger.Info("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	context.AfterFunc(ctx, func() { stopHTTP(srv, httpShutdownTimeout, logger) })

	return srv
}

// stopHTTP дожидается активных запросов не дольше timeout.
func stopHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
