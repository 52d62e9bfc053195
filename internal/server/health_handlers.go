package server

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	GraphStore string         `json:"graphStore"`
	History    string         `json:"history"`
	Details    map[string]any `json:"details,omitempty"`
}

// handleHealthCheck pings the graph store and the history cache.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := &HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		GraphStore: "ok",
		History:    "ok",
		Details:    make(map[string]any),
	}

	if err := s.graphStore.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.GraphStore = "error"
		health.Details["graph_store_error"] = err.Error()
	}

	if err := s.history.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.History = "error"
		health.Details["history_error"] = err.Error()
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, health)
}
