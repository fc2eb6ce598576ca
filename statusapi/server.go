// Package statusapi serves the read-only HTTP status endpoints and the
// Prometheus metrics handler. It is optional and intended for loopback or
// trusted-network binds; it exposes pool state, never control.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lathiat/poolmon/logger"
	"github.com/lathiat/poolmon/monitor"
)

// Server represents the HTTP status server
type Server struct {
	addr        string
	metricsPath string
	monitor     *monitor.Monitor
	server      *http.Server
}

// ServerOptions holds configuration options for the HTTP status server
type ServerOptions struct {
	Addr        string
	MetricsPath string
}

// New creates a new HTTP status server
func New(mon *monitor.Monitor, options ServerOptions) (*Server, error) {
	if options.Addr == "" {
		return nil, fmt.Errorf("listen address is required for the status server")
	}
	if mon == nil {
		return nil, fmt.Errorf("monitor is required for the status server")
	}

	metricsPath := options.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	return &Server{
		addr:        options.Addr,
		metricsPath: metricsPath,
		monitor:     mon,
	}, nil
}

// Start runs the status server until ctx is cancelled, reporting a
// startup or serve failure on errChan.
func Start(ctx context.Context, mon *monitor.Monitor, options ServerOptions, errChan chan error) {
	server, err := New(mon, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create status server: %w", err)
		return
	}

	logger.Info("StatusAPI: listening", "addr", options.Addr, "metrics_path", server.metricsPath)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("status server failed: %w", err)
	}
}

// start initializes and starts the HTTP server
func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("StatusAPI: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("StatusAPI: error during shutdown", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)

	// Full paths on the root router: under a /api/v1 subrouter a method
	// mismatch on one route is cleared as soon as a sibling's inherited
	// prefix matcher matches, and rejected methods answer 404 instead
	// of 405.
	router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/api/v1/hosts", s.handleHosts).Methods("GET")

	router.Handle(s.metricsPath, promhttp.Handler()).Methods("GET")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("StatusAPI: request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("StatusAPI: error encoding JSON response", "error", err)
	}
}

// Response types

type StatusResponse struct {
	LastCycle            time.Time `json:"last_cycle"`
	CycleDurationSeconds float64   `json:"cycle_duration_seconds"`
	TotalHosts           int       `json:"total_hosts"`
	HealthyHosts         int       `json:"healthy_hosts"`
	LastError            string    `json:"last_error,omitempty"`
}

type HostResponse struct {
	Address       string    `json:"address"`
	Weight        int       `json:"weight"`
	ActiveClients int       `json:"active_clients"`
	Healthy       bool      `json:"healthy"`
	LastChecked   time.Time `json:"last_checked"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Status()
	s.writeJSON(w, http.StatusOK, StatusResponse{
		LastCycle:            st.LastCycle,
		CycleDurationSeconds: st.CycleDuration.Seconds(),
		TotalHosts:           st.TotalHosts,
		HealthyHosts:         st.HealthyHosts,
		LastError:            st.LastError,
	})
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Status()
	hosts := make([]HostResponse, 0, len(st.Hosts))
	for _, h := range st.Hosts {
		hosts = append(hosts, HostResponse{
			Address:       h.Address,
			Weight:        h.Weight,
			ActiveClients: h.ActiveClients,
			Healthy:       h.Healthy,
			LastChecked:   h.LastChecked,
		})
	}
	s.writeJSON(w, http.StatusOK, hosts)
}
