package httpapi

import (
	"context"
	"net/http"
	"testing"

	"userdir.org/internal/auth"
)

func TestRoleEndpoints(t *testing.T) {
	api, env := newTestAPI(t)

	alice := env.register(t, "alice@example.com")
	env.register(t, "bob@example.com")
	if _, err := env.auth.AssignRoleByName(context.Background(), alice.ID, auth.RoleAdmin); err != nil {
		t.Fatalf("assign admin: %v", err)
	}
	aliceToken := env.login(t, "alice@example.com")
	bobToken := env.login(t, "bob@example.com")

	resp := api.get("/v1/roles", nil, bobToken)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/roles", nil, aliceToken)
	api.expect(resp, http.StatusOK)
	roles := decode[struct {
		Items []auth.Role `json:"items"`
	}](t, resp)
	if len(roles.Items) != 2 || roles.Items[0].Name != auth.RoleAdmin || roles.Items[1].Name != auth.RoleUser {
		t.Fatalf("unexpected roles: %+v", roles.Items)
	}

	resp = api.do(http.MethodPost, "/v1/roles/user/permissions", map[string]any{"resource": "users", "action": "read"}, aliceToken)
	api.expect(resp, http.StatusOK)
	granted := decode[map[string]any](t, resp)
	if perm, _ := granted["permission"].(map[string]any); perm["resource"] != "users" || perm["action"] != "read" {
		t.Fatalf("unexpected grant payload: %v", granted)
	}

	resp = api.get("/v1/users", nil, bobToken)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/roles/user/permissions", map[string]any{"resource": "", "action": "read"}, aliceToken)
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/roles/ghost/permissions", map[string]any{"resource": "users", "action": "read"}, aliceToken)
	api.expect(resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/roles/user/permissions", map[string]any{"resource": "users", "action": "read"}, bobToken)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/roles/user/permissions", nil, aliceToken)
	api.expect(resp, http.StatusMethodNotAllowed)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/roles/user", nil, aliceToken)
	api.expect(resp, http.StatusNotFound)
	resp.Body.Close()
}
