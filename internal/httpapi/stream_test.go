package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"userdir.org/internal/auth"
	"userdir.org/internal/stream"
)

func TestEventStream(t *testing.T) {
	api, env := newTestAPI(t)

	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")
	if _, err := env.auth.AssignRoleByName(context.Background(), alice.ID, auth.RoleAdmin); err != nil {
		t.Fatalf("assign admin: %v", err)
	}
	aliceToken := env.login(t, "alice@example.com")
	bobToken := env.login(t, "bob@example.com")

	resp := api.get("/v1/events", nil, bobToken)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	sse, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer sse.Body.Close()
	if sse.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", sse.StatusCode)
	}
	if ct := sse.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(sse.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("unexpected preamble %q: %v", line, err)
	}

	resp = api.do(http.MethodPut, "/v1/users/"+bob.ID, map[string]any{"family_name": "Stone"}, aliceToken)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	var evt stream.Event
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != "identity.updated" || evt.ActorID != alice.ID || evt.RequestID == "" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}
