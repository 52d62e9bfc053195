package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/config"
	"songmap/pkg/models"
)

// DefaultAdminUsername is the account created on first start
const DefaultAdminUsername = "admin"

// Service provides registration, login and session lookup
type Service struct {
	users    *UserStore
	sessions *SessionManager
	logger   *logrus.Logger
}

// NewService creates a new authentication service
func NewService(cfg *config.AuthConfig, repo UserRepository, logger *logrus.Logger) *Service {
	duration := time.Duration(cfg.SessionHours) * time.Hour
	return &Service{
		users:    NewUserStore(repo, cfg.AvatarURL),
		sessions: NewSessionManager(duration, cfg.CookieName),
		logger:   logger,
	}
}

// Register creates a new account
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.RegisterUser(ctx, username, password)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("User registered")
	return user, nil
}

// EnsureAdmin creates the default admin account on first start and prints
// its generated password to stdout
func (s *Service) EnsureAdmin(ctx context.Context) error {
	password, created, err := s.users.EnsureAdmin(ctx, DefaultAdminUsername)
	if err != nil {
		return fmt.Errorf("failed to ensure admin account: %w", err)
	}
	if !created {
		return nil
	}

	s.logger.WithField("username", DefaultAdminUsername).Warn("Created default admin account")
	fmt.Printf("\n"+
		"=====================================\n"+
		"DEFAULT ADMIN USER CREATED\n"+
		"=====================================\n"+
		"Username: %s\n"+
		"Password: %s\n"+
		"=====================================\n"+
		"Store this password now, it is not shown again\n\n", DefaultAdminUsername, password)
	return nil
}

// Login authenticates a user and opens a session
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		s.logger.WithField("username", username).Warn("Failed login attempt")
		return nil, err
	}

	session := s.sessions.CreateSession(user.ID, user.Username, user.Role)
	s.logger.WithField("user_id", user.ID).Info("User logged in")
	return session, nil
}

// Authenticate resolves the session attached to r
func (s *Service) Authenticate(r *http.Request) (*Session, error) {
	token := s.sessions.TokenFromRequest(r)
	if token == "" {
		return nil, apperr.Unauthorized("authentication required")
	}
	session, ok := s.sessions.GetSession(token)
	if !ok {
		return nil, apperr.Unauthorized("session expired or invalid")
	}

	// The account may have been removed or its role changed since login
	user, err := s.users.GetUser(r.Context(), session.UserID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		s.sessions.DeleteSession(token)
		s.logger.WithField("user_id", session.UserID).Warn("Dropped session of missing user")
		return nil, apperr.Unauthorized("session expired or invalid")
	}
	if err != nil {
		return nil, err
	}

	current := *session
	current.Username = user.Username
	current.Role = user.Role
	return &current, nil
}

// Logout invalidates the session attached to r, if any
func (s *Service) Logout(r *http.Request) {
	if token := s.sessions.TokenFromRequest(r); token != "" {
		s.sessions.DeleteSession(token)
	}
}

// Sessions returns the session manager (for cookie handling)
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// Close stops background session cleanup
func (s *Service) Close() {
	s.sessions.Stop()
}
