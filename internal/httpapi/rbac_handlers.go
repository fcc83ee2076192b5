package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"userdir.org/internal/auth"
)

type grantPermissionRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	roles, err := a.dir.ListRoles(r.Context(), actor)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}

// handleRoleSubtree routes /v1/roles/{name}/permissions.
func (a *API) handleRoleSubtree(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	roleName, err := url.PathUnescape(parts[0])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid role name")
		return
	}
	var req grantPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.dir.GrantPermission(r.Context(), actor, roleName, req.Resource, req.Action)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":       roleName,
		"permission": perm,
	})
}
