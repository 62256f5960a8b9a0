package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/auth"
	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/session"
)

type sessionKey struct{}

// SessionManager attaches a reconciled *session.Session to every request.
//
// It runs after auth.SessionCookie. A request whose cookie names a live
// session gets that session; anything else (no cookie, forged or expired
// token, session swept or lost in a restart) gets a new guest session.
// The cookie is reissued on every response so its expiry slides.
type SessionManager struct {
	registry   *session.Registry
	reconciler *session.Reconciler
	tokens     *auth.TokenService
	logger     *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(
	registry *session.Registry,
	reconciler *session.Reconciler,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *SessionManager {
	return &SessionManager{
		registry:   registry,
		reconciler: reconciler,
		tokens:     tokens,
		logger:     logger.With(slog.String("component", "sessions")),
	}
}

// Middleware resolves and reconciles the request's session.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.resolve(r)

		if err := m.reconciler.Reconcile(r.Context(), s); err != nil {
			writeError(w, m.logger, err)
			return
		}
		if err := auth.SetSessionCookie(w, r, m.tokens, s.ID); err != nil {
			writeError(w, m.logger, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, s)))
	})
}

// Replace swaps old for next in the registry and points the cookie at next.
func (m *SessionManager) Replace(w http.ResponseWriter, r *http.Request, old, next *session.Session) error {
	m.registry.Delete(old.ID)
	m.registry.Put(next)
	return auth.SetSessionCookie(w, r, m.tokens, next.ID)
}

func (m *SessionManager) resolve(r *http.Request) *session.Session {
	if id, ok := auth.SessionIDFromContext(r.Context()); ok {
		if s, found := m.registry.Get(id); found {
			return s
		}
		m.logger.Debug("unknown session id, starting a guest session", slog.String("sessionID", id))
	}

	s := m.reconciler.NewGuest()
	m.registry.Put(s)
	return s
}

// sessionFrom returns the session attached by SessionManager.Middleware.
func sessionFrom(r *http.Request) *session.Session {
	s, _ := r.Context().Value(sessionKey{}).(*session.Session)
	return s
}

// requireUser returns the signed-in user of the request's session.
func requireUser(r *http.Request) (*model.User, error) {
	s := sessionFrom(r)
	if s == nil || s.IsGuest() {
		return nil, apperror.Forbidden("Sign in to continue.")
	}
	return s.User(), nil
}
