package auth

import (
	"context"
	"net/http"
	"time"
)

// CookieName is the name of the cookie carrying the session token.
const CookieName = "session"

// contextKey is unexported so only this package can read or write the
// session id stored in a request context.
type contextKey string

const sessionIDKey contextKey = "sessionID"

// SessionCookie extracts the session id from a valid "session" cookie and
// stores it in the request context. A missing, expired or forged cookie is
// not an error here: the request continues without an id and the handler
// layer starts a new guest session for it.
func SessionCookie(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := extractSessionID(r, tokens); err == nil {
				r = r.WithContext(WithSessionID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSessionID returns a copy of ctx carrying the session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the id placed by SessionCookie.
// Returns ("", false) when the request carried no valid cookie.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// SetSessionCookie issues a fresh token for sessionID and writes it as an
// HttpOnly cookie. Calling it on every response slides the expiry forward.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, tokens *TokenService, sessionID string) error {
	token, err := tokens.Generate(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(tokens.TTL()),
		MaxAge:   int(tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func extractSessionID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
