// Package api exposes the platform's read-only query surface over HTTP.
// Every endpoint serves snapshots; nothing here mutates pipeline state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	otelobs "github.com/kartik-sc/os-el---system-monitoring-application/pkg/observability/otel"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/config"
)

const serviceName = "hostmon-api"

type Server struct {
	cfg    config.APIConfig
	logger *zap.Logger
	deps   Deps
	router *mux.Router
}

// Deps collects the read surfaces the API serves from.
type Deps struct {
	Processor Processor
	Anomalies AnomalySource
	Trends    TrendSource
	Bus       BusMetrics
}

func NewServer(cfg config.APIConfig, deps Deps, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, logger: logger, deps: deps}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/metrics", s.handleMetricKeys).Methods(http.MethodGet)
	v1.HandleFunc("/metrics/{key}/history", s.handleMetricHistory).Methods(http.MethodGet)
	v1.HandleFunc("/metrics/{key}/latest", s.handleMetricLatest).Methods(http.MethodGet)
	v1.HandleFunc("/anomalies", s.handleAnomalies).Methods(http.MethodGet)
	v1.HandleFunc("/trends", s.handleTrends).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

// Handler returns the fully wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return otelobs.WrapHTTPHandler(serviceName, otelobs.AccessLog(s.logger)(s.router))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("api server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
