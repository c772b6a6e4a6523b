package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/meshlink/internal/connection"
	"github.com/rickgao/meshlink/internal/journal"
)

type statsSource interface {
	Stats() connection.ManagerStats
}

// createHealthHandler creates the HTTP handler for health checks.
// jw may be nil when the journal is disabled.
func createHealthHandler(m statsSource, jw *journal.Writer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := m.Stats()

		health := struct {
			Status  string                  `json:"status"`
			Session connection.ManagerStats `json:"session"`
			Journal *journal.WriterStats    `json:"journal,omitempty"`
		}{
			Status:  "healthy",
			Session: stats,
		}

		switch stats.State {
		case connection.StateConnected:
		case connection.StateFailed:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		if jw != nil {
			js := jw.Stats()
			health.Journal = &js
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
