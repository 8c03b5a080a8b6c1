package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hallamshaw/lumen-core/internal/bus"
	"github.com/hallamshaw/lumen-core/internal/state"
)

// routeRequest is the request body for creating or updating a route.
type routeRequest struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Target     string          `json:"target"`
	Event      string          `json:"event"`
	Conditions []bus.Condition `json:"conditions,omitempty"`
	Merge      map[string]any  `json:"merge,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
}

// toRoute converts the request into a bus route. Enabled defaults to
// true when omitted; a disabled route must say so explicitly.
func (req routeRequest) toRoute() bus.Route {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return bus.Route{
		ID:         req.ID,
		Source:     req.Source,
		Target:     req.Target,
		Event:      req.Event,
		Conditions: req.Conditions,
		Merge:      req.Merge,
		Enabled:    enabled,
	}
}

// handleListRoutes returns all registered routes.
func (s *Server) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := s.bus.ListRoutes()
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": routes,
		"count":  len(routes),
	})
}

// handleCreateRoute registers a new route and persists it.
func (s *Server) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	route := req.toRoute()

	// AddRoute is an upsert, so the conflict check and the insert must
	// happen under one lock or two concurrent creates for the same ID
	// both succeed.
	s.routesMu.Lock()
	defer s.routesMu.Unlock()

	if _, exists := s.bus.GetRoute(route.ID); exists {
		writeError(w, http.StatusConflict, ErrCodeConflict, "route already exists: "+route.ID)
		return
	}

	if err := s.applyRoute(r, route); err != nil {
		s.writeRouteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, route)
}

// handleGetRoute returns one route by ID.
func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	route, ok := s.bus.GetRoute(id)
	if !ok {
		writeNotFound(w, "route not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// handleUpdateRoute replaces an existing route. The path ID wins over
// any ID in the body.
func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.routesMu.Lock()
	defer s.routesMu.Unlock()

	if _, ok := s.bus.GetRoute(id); !ok {
		writeNotFound(w, "route not found: "+id)
		return
	}

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.ID = id

	route := req.toRoute()
	if err := s.applyRoute(r, route); err != nil {
		s.writeRouteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, route)
}

// handleDeleteRoute removes a route from the bus and the store.
func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.routesMu.Lock()
	defer s.routesMu.Unlock()

	if !s.bus.RemoveRoute(id) {
		writeNotFound(w, "route not found: "+id)
		return
	}

	if s.repo != nil {
		if err := s.repo.DeleteRoute(r.Context(), id); err != nil && !errors.Is(err, state.ErrRouteNotFound) {
			s.logger.Error("route delete not persisted", "route_id", id, "error", err)
			writeInternalError(w, "route removed but not persisted")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// applyRoute registers the route on the bus and writes it through to
// the store. A persistence failure rolls the bus change back so the
// running table never diverges from the store.
func (s *Server) applyRoute(r *http.Request, route bus.Route) error {
	if err := s.bus.AddRoute(route); err != nil {
		return err
	}

	if s.repo != nil {
		if err := s.repo.SaveRoute(r.Context(), route); err != nil {
			s.bus.RemoveRoute(route.ID)
			s.logger.Error("route not persisted", "route_id", route.ID, "error", err)
			return errPersistence
		}
	}
	return nil
}

// errPersistence marks a store write failure inside applyRoute.
var errPersistence = errors.New("api: route persistence failed")

func (s *Server) writeRouteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bus.ErrInvalidRoute), errors.Is(err, bus.ErrInvalidOperator):
		writeValidationError(w, err.Error())
	case errors.Is(err, errPersistence):
		writeInternalError(w, "failed to persist route")
	default:
		writeInternalError(w, err.Error())
	}
}
