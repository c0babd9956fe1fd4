package api

import (
	"context"
	"net/http"
	"net/url"

	"btplive/internal/models"
	"btplive/internal/ws"
)

type userKey struct{}

// UserFromContext returns the user set by RequireAuth.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userKey{}).(models.User)
	return user, ok
}

func (a *API) getToken(r *http.Request) string {
	if token := ws.BearerToken(r); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated user in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.auth.GetUser(a.getToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

// RequireSameOrigin rejects browser requests whose Origin does not match the
// host. Requests without an Origin header (non-browser clients) pass.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next(w, r)
			return
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host != r.Host {
			writeError(w, http.StatusForbidden, "Cross-origin request rejected")
			return
		}
		next(w, r)
	}
}
