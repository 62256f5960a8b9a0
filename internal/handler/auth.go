package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/service"
	"github.com/sakif/gemix-chat/internal/session"
)

// AuthHandler serves account routes.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignUp / HandleSignIn → check credentials, then move the
//     session from guest to the user (guest messages are dropped)
//   - HandleLogout → replace the session with a fresh guest session
//   - HandleMe, HandleUpdateProfile, HandleChangePassword → the signed-in
//     user's own account
type AuthHandler struct {
	accounts   *service.AuthService
	reconciler *session.Reconciler
	sessions   *SessionManager
	logger     *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(
	accounts *service.AuthService,
	reconciler *session.Reconciler,
	sessions *SessionManager,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts:   accounts,
		reconciler: reconciler,
		sessions:   sessions,
		logger:     logger.With(slog.String("component", "auth_handler")),
	}
}

// AccountResponse is returned by every account route.
type AccountResponse struct {
	User        *model.User `json:"user"`
	DisplayName string      `json:"displayName,omitempty"` // greeting name; empty for guests
	Guest       bool        `json:"guest"`
	ThreadID    string      `json:"threadId"`
}

func accountOf(s *session.Session) AccountResponse {
	u := s.User()
	resp := AccountResponse{User: u, Guest: u == nil, ThreadID: s.ThreadID()}
	if u != nil {
		resp.DisplayName = u.DisplayName()
	}
	return resp
}

// HandleSignUp creates an account and signs the session in.
//
// HTTP: POST /api/auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var in service.SignUpInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.SignUp(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	s := sessionFrom(r)
	if err := h.reconciler.SignIn(r.Context(), s, user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountOf(s))
}

type signInRequest struct {
	Identifier string `json:"identifier"` // username or email
	Password   string `json:"password"`
}

// HandleSignIn checks credentials and signs the session in.
//
// HTTP: POST /api/auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.SignIn(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	s := sessionFrom(r)
	if err := h.reconciler.SignIn(r.Context(), s, user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accountOf(s))
}

// HandleLogout discards the session and starts a new guest session.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	old := sessionFrom(r)
	next := h.reconciler.Logout(old)
	if err := h.sessions.Replace(w, r, old, next); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accountOf(next))
}

// HandleMe returns the session's user, or guest: true.
//
// The session keeps the user loaded at sign-in. It is re-read here so a
// profile changed from another session shows up on the next page load.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if user := s.User(); user != nil {
		fresh, err := h.accounts.GetUser(r.Context(), user.ID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		s.SetUser(fresh)
	}
	writeJSON(w, http.StatusOK, accountOf(s))
}

type profileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// HandleUpdateProfile sets the user's first and last name.
//
// HTTP: PUT /api/me/profile
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	updated, err := h.accounts.UpdateProfile(r.Context(), user.ID, req.FirstName, req.LastName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	s := sessionFrom(r)
	s.SetUser(updated)
	writeJSON(w, http.StatusOK, accountOf(s))
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// HandleChangePassword replaces the user's password.
//
// HTTP: PUT /api/me/password
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
