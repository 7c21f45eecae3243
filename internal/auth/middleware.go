package auth

import (
	"context"
	"net/http"

	"github.com/getsentry/sentry-go"

	"citizen-portal/internal/observability"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthContext is the hydrated identity of a request: the session owner and
// the session it rode in on.
type AuthContext struct {
	User    User
	Session Session
}

// NewContext attaches a request identity to the context.
func NewContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// FromContext returns the request identity, or nil for anonymous requests.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey).(*AuthContext)
	return auth
}

// Hydrate resolves the session cookie before routing. An unresolvable token
// leaves the request anonymous and clears the stale cookie; it is never an
// error. Storage failures degrade to anonymous as well, with the cause
// logged and captured.
func Hydrate(sessions *SessionManager, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, session, err := sessions.Resolve(r.Context(), cookie.Value)
		if err != nil {
			sentry.CaptureException(err)
			logger.Error("session_hydration_failed", map[string]any{
				"error":      err.Error(),
				"request_id": observability.RequestID(r.Context()),
			})
			next.ServeHTTP(w, r)
			return
		}
		if user == nil {
			clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		ctx := NewContext(r.Context(), &AuthContext{User: *user, Session: *session})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects anonymous requests with a generic 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "Sesi tidak valid atau sudah berakhir. Silakan login kembali.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and authenticated
// non-admin requests with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).User.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "Akses khusus admin.")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
