package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session represents an active user session
type Session struct {
	Token     string
	UserID    int64
	Username  string
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionManager keeps sessions in memory, keyed by an opaque token
type SessionManager struct {
	sessions   map[string]*Session
	mutex      sync.RWMutex
	duration   time.Duration
	cookieName string
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewSessionManager creates a session manager and starts its cleanup loop
func NewSessionManager(duration time.Duration, cookieName string) *SessionManager {
	sm := &SessionManager{
		sessions:   make(map[string]*Session),
		duration:   duration,
		cookieName: cookieName,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go sm.cleanupExpiredSessions(time.Hour)

	return sm
}

// CreateSession creates a new session for the user
func (sm *SessionManager) CreateSession(userID int64, username, role string) *Session {
	now := sm.now()
	session := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.duration),
	}

	sm.mutex.Lock()
	sm.sessions[session.Token] = session
	sm.mutex.Unlock()

	return session
}

// GetSession retrieves a live session by token
func (sm *SessionManager) GetSession(token string) (*Session, bool) {
	sm.mutex.RLock()
	session, exists := sm.sessions[token]
	sm.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if sm.now().After(session.ExpiresAt) {
		sm.DeleteSession(token)
		return nil, false
	}

	return session, true
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(token string) {
	sm.mutex.Lock()
	delete(sm.sessions, token)
	sm.mutex.Unlock()
}

// SetSessionCookie sets the session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    session.Token,
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
}

// ClearSessionCookie removes the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
}

// TokenFromRequest extracts the session token from the Authorization header,
// with or without a "Bearer " prefix, falling back to the session cookie.
func (sm *SessionManager) TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > 7 && (header[:7] == "Bearer " || header[:7] == "bearer ") {
			return header[7:]
		}
		return header
	}
	if cookie, err := r.Cookie(sm.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// IsAdmin reports whether the session belongs to an administrator
func (s *Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// Stop ends the cleanup loop
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stop) })
}

func (sm *SessionManager) cleanupExpiredSessions(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			sm.removeExpired()
		}
	}
}

func (sm *SessionManager) removeExpired() int {
	now := sm.now()
	removed := 0

	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	for token, session := range sm.sessions {
		if now.After(session.ExpiresAt) {
			delete(sm.sessions, token)
			removed++
		}
	}
	return removed
}
