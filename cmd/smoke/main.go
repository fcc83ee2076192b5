package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	log.SetFlags(0)
	grpcAddr := getenv("USERDIR_SMOKE_GRPC_ADDR", "localhost:9090")
	baseURL := getenv("USERDIR_SMOKE_BASE_URL", "http://localhost:8080")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", grpcAddr, err)
	}
	defer conn.Close()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("health check: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("service not serving: %s", health.GetStatus())
	}

	c := client{base: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
	email := fmt.Sprintf("smoke-%s@example.com", uuid.NewString()[:8])
	password := uuid.NewString()

	var identity struct {
		ID string `json:"id"`
	}
	c.call(ctx, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": email, "password": password}, http.StatusCreated, &identity)

	c.call(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": "wrong"}, http.StatusUnauthorized, nil)

	var login struct {
		Token string `json:"token"`
	}
	c.call(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password}, http.StatusOK, &login)

	var profile struct {
		ID    string   `json:"id"`
		Roles []string `json:"roles"`
	}
	c.call(ctx, http.MethodGet, "/v1/auth/profile", login.Token, nil, http.StatusOK, &profile)
	if profile.ID != identity.ID {
		log.Fatalf("profile id %s, want %s", profile.ID, identity.ID)
	}

	var logs struct {
		Items []json.RawMessage `json:"items"`
	}
	c.call(ctx, http.MethodGet, "/v1/auth/logs", login.Token, nil, http.StatusOK, &logs)
	if len(logs.Items) != 2 {
		log.Fatalf("expected 2 audit entries, got %d", len(logs.Items))
	}

	c.call(ctx, http.MethodPost, "/v1/auth/logout", login.Token, nil, http.StatusOK, nil)
	c.call(ctx, http.MethodGet, "/v1/auth/profile", login.Token, nil, http.StatusUnauthorized, nil)

	fmt.Printf("✅ userdir smoke test passed: identity=%s roles=%v\n", identity.ID, profile.Roles)
}

type client struct {
	base string
	http *http.Client
}

func (c client) call(ctx context.Context, method, path, token string, body any, want int, out any) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		log.Fatalf("%s %s: status %d, want %d", method, path, resp.StatusCode, want)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
