package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/aggregate"
	"github.com/TadashiJei/OrbitYield/internal/config"
	"github.com/TadashiJei/OrbitYield/internal/export"
	"github.com/TadashiJei/OrbitYield/internal/metrics"
	"github.com/TadashiJei/OrbitYield/internal/model"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server runs the discovery loop and the ops endpoints
type Server struct {
	config config.Config
	deps   *dependencies
	server *http.Server

	mu        sync.RWMutex
	summaries map[string]aggregate.Summary
	top       map[string][]model.YieldOpportunity
	lastRun   time.Time
}

// NewServer creates a server around wired dependencies
func NewServer(cfg config.Config, deps *dependencies) *Server {
	return &Server{
		config:    cfg,
		deps:      deps,
		summaries: make(map[string]aggregate.Summary),
		top:       make(map[string][]model.YieldOpportunity),
	}
}

// routes registers the ops endpoints
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/circuit", s.handleCircuitStatus)
	return mux
}

// Start runs discovery and the HTTP server until SIGINT or SIGTERM
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.discoveryLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.deps.exporter.Run(ctx)
	}()

	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	wg.Wait()

	logrus.Info("Server stopped")
}

func (s *Server) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.DiscoveryInterval)
	defer ticker.Stop()

	for {
		s.runDiscovery(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runDiscovery scans every connected chain once and publishes per-chain summaries
func (s *Server) runDiscovery(ctx context.Context) {
	for _, chainID := range s.deps.provider.Chains() {
		if ctx.Err() != nil {
			return
		}

		opps := s.deps.registry.DiscoverAll(ctx, chainID)
		summary := aggregate.Summarize(chainID, opps)

		metrics.AverageAPY.WithLabelValues(chainID, "weighted").Set(summary.WeightedAPY)
		metrics.AverageAPY.WithLabelValues(chainID, "median").Set(summary.MedianAPY)

		s.mu.Lock()
		s.summaries[chainID] = summary
		s.top[chainID] = aggregate.TopByAPY(opps, 5)
		s.lastRun = time.Now().UTC()
		s.mu.Unlock()

		if err := s.deps.exporter.Publish(ctx, export.Snapshot{
			ChainID:       chainID,
			Summary:       summary,
			Opportunities: opps,
			DiscoveredAt:  time.Now().UTC(),
		}); err != nil {
			logrus.Warnf("Snapshot export for chain %s failed: %v", chainID, err)
		}

		logrus.WithFields(logrus.Fields{
			"chain":        chainID,
			"count":        summary.Count,
			"weighted_apy": summary.WeightedAPY,
			"tvl_usd":      summary.TVLUSD.StringFixed(0),
		}).Info("Discovery cycle complete")
	}
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports adapters, chains and the latest discovery summaries
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	adapters := []string{}
	for _, a := range s.deps.registry.Adapters() {
		adapters = append(adapters, a.Name())
	}

	s.mu.RLock()
	summaries := make(map[string]aggregate.Summary, len(s.summaries))
	for k, v := range s.summaries {
		summaries[k] = v
	}
	top := make(map[string][]model.YieldOpportunity, len(s.top))
	for k, v := range s.top {
		top[k] = v
	}
	lastRun := s.lastRun
	s.mu.RUnlock()

	status := map[string]interface{}{
		"status":    "operational",
		"uptime":    time.Since(startTime).String(),
		"version":   version,
		"adapters":  adapters,
		"chains":    s.deps.provider.Chains(),
		"summaries": summaries,
		"top":       top,
		"export":    s.deps.exporter.Status(),
	}
	if !lastRun.IsZero() {
		status["last_discovery"] = lastRun.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, status)
}

// handleCircuitStatus shows feed breaker states; POST ?action=reset closes them
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if r.URL.Query().Get("action") != "reset" {
			errorResponse(w, http.StatusBadRequest, "unknown action")
			return
		}
		for _, b := range s.deps.breakers {
			b.Reset()
		}
	}

	states := make(map[string]string, len(s.deps.breakers))
	for _, b := range s.deps.breakers {
		states[b.Name()] = b.GetState().String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": states})
}
