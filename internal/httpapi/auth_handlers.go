package httpapi

import (
	"fmt"
	"net/http"

	"userdir.org/internal/auth"
)

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := a.auth.Register(r.Context(), auth.RegisterRequest{
		Email:      req.Email,
		Password:   req.Password,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", identity.ID))
	writeJSON(w, http.StatusCreated, identity)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleLogout deactivates the presented session. Repeating it is harmless.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if err := a.auth.Logout(r.Context(), token); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	entry, err := a.dir.Profile(r.Context(), actor)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	entries, err := a.dir.History(r.Context(), actor)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
