package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/jobrunner/vicinus/internal/application"
	"github.com/jobrunner/vicinus/internal/domain"
)

// ChatRequest is the body of POST /api/chat. Query is accepted as an alias
// for Message; Message wins when both are set.
type ChatRequest struct {
	Message string `json:"message"`
	Query   string `json:"query,omitempty"`
}

// Text returns the question carried by the request.
func (r ChatRequest) Text() string {
	if m := strings.TrimSpace(r.Message); m != "" {
		return m
	}
	return strings.TrimSpace(r.Query)
}

// handleChat answers a natural-language question. Pipeline failures are
// reported inside the response body with status 200.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	message := req.Text()
	if message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	s.writeJSON(w, http.StatusOK, s.chat.HandleQuery(r.Context(), message))
}

// handleListLayers returns the current catalog.
func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	layers := s.catalog.ListLayers(r.Context())
	if layers == nil {
		layers = []domain.Layer{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"layers": layers,
		"count":  len(layers),
	})
}

// handleGetLayer returns a single layer, resolved ignoring case.
func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	layer, err := s.catalog.GetLayer(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrLayerNotFound) {
			s.writeError(w, http.StatusNotFound, "Layer not found")
			return
		}
		s.logger.Error("get layer failed", "layer", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to get layer")
		return
	}

	s.writeJSON(w, http.StatusOK, layer)
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]any{
		"status":          boolToStatus(details.Healthy),
		"ready":           details.Ready,
		"layers_loaded":   details.LayersLoaded,
		"catalog_version": details.CatalogVersion,
		"components":      details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := openAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
