package server

import (
	"net/http"
	"time"

	"songmap/pkg/models"
)

// loginResponse is returned by a successful login
type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
	Success   bool      `json:"success"`
}

// handleRegister creates an account
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := s.auth.Register(r.Context(), sanitizeInput(req.Username), req.Password)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, struct {
		User    *models.User `json:"user"`
		Success bool         `json:"success"`
	}{User: user, Success: true})
}

// handleLogin opens a session and returns its token, also as a cookie
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	session, err := s.auth.Login(r.Context(), sanitizeInput(req.Username), req.Password)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.auth.Sessions().SetSessionCookie(w, session)
	s.respondJSON(w, http.StatusOK, loginResponse{
		Token:     session.Token,
		Username:  session.Username,
		ExpiresAt: session.ExpiresAt,
		Success:   true,
	})
}

// handleLogout invalidates the caller's session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(r)
	s.auth.Sessions().ClearSessionCookie(w)
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
