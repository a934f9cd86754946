package bdapp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AdminConfig holds optional configuration for the admin server.
type AdminConfig struct {
	HealthHandler func(http.ResponseWriter, *http.Request)
}

// AdminParams holds the dependencies for creating the admin server.
type AdminParams struct {
	fx.In

	Env        Environment
	Service    *Service
	Metrics    *Metrics
	Logger     *zap.Logger
	TracerProv trace.TracerProvider
	Propagator propagation.TextMapPropagator
}

// Admin is the HTTP server for operating the service. It serves the metrics on /metrics, the names of the loaded
// units on /units and the health check on the path from BD_HEALTH_PATH.
type Admin struct {
	srv  *http.Server
	logs *zap.Logger
	ln   net.Listener
}

// NewAdminServer creates the admin server with all routes configured.
func NewAdminServer(params AdminParams, cfg AdminConfig) *Admin {
	svc := params.Service

	healthPath := params.Env.healthPath()
	healthHandler := cfg.HealthHandler
	if healthHandler == nil {
		healthHandler = func(w http.ResponseWriter, _ *http.Request) {
			if !svc.Running() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(params.Metrics.Registry, promhttp.HandlerOpts{
		Registry: params.Metrics.Registry,
	}))
	mux.HandleFunc("/units", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Units()); err != nil {
			params.Logger.Debug("failed to encode units", zap.Error(err))
		}
	})

	// Probes and scrapes are not traced to avoid noisy orphan traces.
	handler := withTracing(params.TracerProv, params.Propagator, params.Env.serviceName(),
		healthPath, "/metrics")(mux)

	return &Admin{
		srv:  &http.Server{Addr: params.Env.adminAddr(), Handler: handler, ReadHeaderTimeout: adminReadHeaderTimeout},
		logs: params.Logger,
	}
}

// Addr returns the address the admin server listens on, nil before it started.
func (a *Admin) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// startAdminHook registers lifecycle hooks for the admin server.
func startAdminHook(lc fx.Lifecycle, admin *Admin) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var listen net.ListenConfig
			ln, err := listen.Listen(ctx, "tcp", admin.srv.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen on %q", admin.srv.Addr)
			}
			admin.ln = ln

			admin.logs.Info("starting admin server", zap.Stringer("addr", ln.Addr()))
			go func() {
				if err := admin.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					admin.logs.Error("admin server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			admin.logs.Info("stopping admin server")
			return admin.srv.Shutdown(ctx)
		},
	})
}
