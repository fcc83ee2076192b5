package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"userdir.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authedHandler receives the validated caller explicitly.
type authedHandler func(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity)

// authenticated validates the bearer token before calling next.
func (a *API) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		actor, err := a.auth.Validate(r.Context(), token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		next(w, r, actor)
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", fmt.Errorf("%w: invalid authorization scheme", auth.ErrMissingToken)
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", auth.ErrMissingToken
	}
	return token, nil
}
