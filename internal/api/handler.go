// Package api provides HTTP handlers for the pairing API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/linklocal/pairgate/internal/config"
	"github.com/linklocal/pairgate/internal/pairing"
	"github.com/linklocal/pairgate/internal/store"
)

// Handler provides common handler dependencies.
type Handler struct {
	orch     *pairing.Orchestrator
	registry *store.Registry
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(orch *pairing.Orchestrator, registry *store.Registry, cfg *config.Config) *Handler {
	return &Handler{
		orch:     orch,
		registry: registry,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
