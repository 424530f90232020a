package httpserver

import (
	"net/http"
)

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version,omitempty"`
	Providers []string `json:"providers"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Providers: s.registry.IDs(),
	})
}
