package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NodeStatus is reported on /ready
type NodeStatus struct {
	NodeID         string `json:"node_id"`
	ViewID         int64  `json:"view_id"`
	Members        int    `json:"members"`
	CurrentVersion string `json:"current_version"`
	PendingCommits int    `json:"pending_commits"`
}

// StatusSource reports the node status and whether it can serve reads
type StatusSource interface {
	Status() (NodeStatus, error)
}

// StatusFunc adapts a function to StatusSource
type StatusFunc func() (NodeStatus, error)

// Status implements StatusSource
func (f StatusFunc) Status() (NodeStatus, error) {
	return f()
}

// KeyReader reads the latest committed value of a key
type KeyReader interface {
	ReadLatest(ctx context.Context, key string) (*model.VersionedEntry, error)
}

// MetricsServer serves Prometheus metrics and health probes via HTTP
type MetricsServer struct {
	httpServer *http.Server
	status     StatusSource
	reader     KeyReader
	logger     *zap.Logger
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
	Path string
}

// NewMetricsServer creates a new metrics server exposing gatherer. When
// reader is not nil, /debug/read serves single-key reads.
func NewMetricsServer(cfg *MetricsServerConfig, gatherer prometheus.Gatherer, status StatusSource, reader KeyReader, logger *zap.Logger) *MetricsServer {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		status: status,
		reader: reader,
		logger: logger,
	}

	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", ms.healthHandler)
	mux.HandleFunc("/ready", ms.readyHandler)
	if reader != nil {
		mux.HandleFunc("/debug/read", ms.readHandler)
	}

	return ms
}

// Handler returns the HTTP handler
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the metrics server
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

func (s *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

func (s *MetricsServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status, err := s.status.Status()
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "not_ready",
			"reason": err.Error(),
			"node":   status,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
		"node":      status,
	})
}

func (s *MetricsServer) readHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	key := r.URL.Query().Get("key")
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"key is required"}`)
		return
	}

	entry, err := s.reader.ReadLatest(r.Context(), key)
	if err != nil {
		s.logger.Warn("Debug read failed", zap.String("key", key), zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"key": key, "error": err.Error()})
		return
	}

	body := map[string]interface{}{"key": key, "found": !entry.IsAbsent()}
	if !entry.IsAbsent() {
		body["value"] = string(entry.Value)
	}
	if entry != nil && entry.CreationVersion != nil {
		body["version"] = entry.CreationVersion.String()
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
