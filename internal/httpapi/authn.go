package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	apiKeyHeader = "X-API-Key"
)

const sessionEmailKey ctxKey = "session_email"

// requireAPIKey guards the admin surface. With no key configured the
// surface is closed, not open.
func (a *API) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey == "" {
			writeError(w, r, http.StatusForbidden, "admin API disabled")
			return
		}
		supplied := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(a.apiKey)) != 1 {
			writeError(w, r, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSession guards employee self-service endpoints with a bearer
// session token.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.sessions == nil {
			writeError(w, r, http.StatusForbidden, "sessions disabled")
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		email, err := a.sessions.Validate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), sessionEmailKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(sessionEmailKey).(string)
	return email
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
