package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"userdir.org/internal/auth"
	"userdir.org/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// writeAuthError maps auth error kinds onto status codes. Credential and
// session failures get fixed messages so nothing internal leaks.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrStore):
		obs.Error("store_failure", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: "))
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		unauthorized(w, r, "invalid email or password")
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, r, http.StatusForbidden, "account disabled")
	case errors.Is(err, auth.ErrMissingToken):
		unauthorized(w, r, "missing token")
	case errors.Is(err, auth.ErrInvalidSession):
		unauthorized(w, r, "invalid or expired session")
	case errors.Is(err, auth.ErrSelfModificationDenied):
		writeError(w, r, http.StatusForbidden, "cannot delete or deactivate own account")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		obs.Error("unhandled_error", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="userdir"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}
