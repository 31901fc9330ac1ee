package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmcleod/arbor/session"
	"github.com/jmcleod/arbor/users"
)

type contextKey int

const identityKey contextKey = iota

// AuthMiddleware rejects requests without a valid session cookie and stores
// the session identity on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := a.sessions.Get(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, ErrAuthentication.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// requireAdmin must run after AuthMiddleware. It loads the session user and
// rejects non-administrators with 403.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFromContext(r.Context())
		rec, err := a.users.Get(r.Context(), id.UserID)
		if errors.Is(err, users.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, ErrAuthentication.Error())
			return
		}
		if err != nil {
			a.writeInternalError(w, r, "failed to load account", err)
			return
		}
		if !rec.IsAdmin {
			a.audit.logEvent(AuditAdminDenied, r, rec.ID)
			writeError(w, http.StatusForbidden, ErrAuthorization.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withIdentity(ctx context.Context, id session.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func identityFromContext(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey).(session.Identity)
	return id, ok
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
