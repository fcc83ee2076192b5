package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"userdir.org/internal/auth"
)

type updateUserRequest struct {
	GivenName  *string `json:"given_name"`
	FamilyName *string `json:"family_name"`
	Active     *bool   `json:"active"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	listing, err := a.dir.List(r.Context(), actor, page, limit)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// handleUserSubtree routes /v1/users/{id}[/permissions|/roles[/{role}]].
func (a *API) handleUserSubtree(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUser(w, r, actor, id)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, actor, id)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, actor, id)
	case len(parts) == 3 && parts[1] == "roles":
		role, err := url.PathUnescape(parts[2])
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid role name")
			return
		}
		a.handleUserRole(w, r, actor, id, role)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity, id string) {
	switch r.Method {
	case http.MethodGet:
		entry, err := a.dir.Get(r.Context(), actor, id)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodPut:
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := a.dir.Update(r.Context(), actor, id, auth.IdentityUpdate{
			GivenName:  req.GivenName,
			FamilyName: req.FamilyName,
			Active:     req.Active,
		})
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := a.dir.Delete(r.Context(), actor, id); err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	perms, err := a.dir.Permissions(r.Context(), actor, id)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity_id": id,
		"permissions": perms,
		"keys":        keys,
	})
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity, id string) {
	switch r.Method {
	case http.MethodGet:
		entry, err := a.dir.Get(r.Context(), actor, id)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"identity_id": id, "roles": entry.Roles})
	case http.MethodPost:
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Role) == "" {
			writeError(w, r, http.StatusBadRequest, "role is required")
			return
		}
		role, err := a.dir.AssignRole(r.Context(), actor, id, req.Role)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity, id, role string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.dir.RevokeRole(r.Context(), actor, id, role); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "role": role})
}

func queryInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
