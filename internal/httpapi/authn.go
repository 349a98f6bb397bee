package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"quorum.org/internal/auth"
)

const (
	authHeader   = "Authorization"
	bearerScheme = "Bearer "
)

// withAdminAuth guards the operator surface. The meeting contract itself is
// public; participant credentials travel in request bodies and are checked
// by the repository, not here.
func (a *API) withAdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/admin/") {
			next.ServeHTTP(w, r)
			return
		}
		if !auth.Enabled() {
			writeError(w, r, http.StatusServiceUnavailable, "operator surface disabled")
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithOperator(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !auth.HasRole(r.Context(), "admin") {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
