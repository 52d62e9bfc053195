package server

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/listening"
	"songmap/internal/namespace"
	"songmap/pkg/models"
)

// graphRequest resolves the caller and {graphID}. It writes the error
// response itself and reports false on failure.
func (s *Server) graphRequest(w http.ResponseWriter, r *http.Request) (userID, graphID int64, ok bool) {
	graphID, verr := graphIDParam(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return 0, 0, false
	}
	return sessionFrom(r).UserID, graphID, true
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := s.namespaces.List(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	if graphs == nil {
		graphs = []models.Graph{}
	}
	s.respondJSON(w, http.StatusOK, graphs)
}

// handleCreateGraph creates an empty or template-seeded graph. A failed
// template copy still returns the created graph, with a warning.
func (s *Server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	var req createGraphRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	graph, err := s.namespaces.Create(r.Context(), sessionFrom(r).UserID,
		models.GraphKind(req.Type), sanitizeInput(req.Name))
	var partial *namespace.PartialCloneError
	switch {
	case errors.As(err, &partial):
		// The graph exists but is incomplete; return it so the caller can
		// repair or delete it.
		status := apperr.HTTPStatus(apperr.KindOf(err))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"graph_id":    partial.Graph.ID,
			"status_code": status,
		}).Error("Graph created but template copy failed")
		s.respondJSON(w, status, map[string]any{
			"error":   "graph created but the template copy failed: " + apperr.Message(err),
			"code":    status,
			"kind":    apperr.KindOf(err),
			"graph":   partial.Graph,
			"success": false,
		})
		return
	case err != nil:
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]any{"graph": graph, "success": true})
}

func (s *Server) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	userID, graphID, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	if err := s.namespaces.Delete(r.Context(), userID, graphID); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGraphData(w http.ResponseWriter, r *http.Request) {
	userID, graphID, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	data, err := s.namespaces.GraphData(r.Context(), userID, graphID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, graphID, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	entries, err := s.listening.History(r.Context(), userID, graphID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

// handleListen records a listen; newChain starts a fresh chain instead of
// linking to the previous song
func (s *Server) handleListen(newChain bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, graphID, ok := s.graphRequest(w, r)
		if !ok {
			return
		}
		var req listenRequest
		if !s.decodeAndValidate(w, r, &req) {
			return
		}

		song, err := s.listening.AddSong(r.Context(), listening.Listen{
			UserID:        userID,
			GraphID:       graphID,
			Name:          sanitizeInput(req.Name),
			Artist:        sanitizeInput(req.Artist),
			ForceNewChain: newChain,
			IsRandom:      req.IsRandom,
			IsFullPlay:    req.IsFullPlay,
			IsSkip:        req.IsSkip,
		})
		if err != nil {
			s.respondWithAppError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"song": song, "success": true})
	}
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	userID, graphID, ok := s.graphRequest(w, r)
	if !ok {
		return
	}

	currentID, verr := positiveID(r.URL.Query().Get("currentId"), "currentId", true)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	previousID, verr := optionalIDQuery(r, "previousId")
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	var previous *int64
	if previousID > 0 {
		previous = &previousID
	}

	recs, err := s.listening.Recommend(r.Context(), userID, graphID, currentID, previous)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.ScoredSong{}
	}
	s.respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleQueryNode(w http.ResponseWriter, r *http.Request) {
	userID, graphID, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	id, verr := optionalIDQuery(r, "id")
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	q := r.URL.Query()
	result, err := s.listening.QueryNode(r.Context(), userID, graphID, listening.NodeQuery{
		ID:     id,
		Name:   sanitizeInput(q.Get("name")),
		Artist: sanitizeInput(q.Get("artist")),
		Detail: boolQuery(r, "detail"),
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	userID, graphID, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	deleted, err := s.listening.DeleteNode(r.Context(), userID, graphID, sanitizeInput(r.URL.Query().Get("name")))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "success": true})
}

func (s *Server) handleQueryEdge(w http.ResponseWriter, r *http.Request) {
	userID, graphID, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	id, verr := optionalIDQuery(r, "id")
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	q := r.URL.Query()
	result, err := s.listening.QueryEdge(r.Context(), userID, graphID, listening.EdgeQuery{
		ID:       id,
		FromName: sanitizeInput(q.Get("from")),
		ToName:   sanitizeInput(q.Get("to")),
		Detail:   boolQuery(r, "detail"),
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	userID, graphID, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	deleted, err := s.listening.DeleteConnection(r.Context(), userID, graphID,
		sanitizeInput(q.Get("from")), sanitizeInput(q.Get("to")))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "success": true})
}
