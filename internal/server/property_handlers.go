package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"songmap/internal/database"
)

// handleAddProperty sets a property on every node or every edge
func (s *Server) handleAddProperty(w http.ResponseWriter, r *http.Request) {
	var req propertyRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	target := database.PropertyTarget(chi.URLParam(r, "target"))
	updated, err := s.properties.Add(r.Context(), target, req.Key, req.Type, req.Value)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"updated": updated, "success": true})
}

// handleRemoveProperty drops a property from every node or every edge
func (s *Server) handleRemoveProperty(w http.ResponseWriter, r *http.Request) {
	target := database.PropertyTarget(chi.URLParam(r, "target"))
	updated, err := s.properties.Remove(r.Context(), target, chi.URLParam(r, "key"))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"updated": updated, "success": true})
}
