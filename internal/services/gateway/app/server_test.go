package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePlatform simulates the workspace APIs the gateway calls: statement
// execution, the identity directory, permissions, and agent serving.
type fakePlatform struct {
	mu         sync.Mutex
	selectRows [][]string
	statements []string
	principals int
	aclPaths   []string
}

func (f *fakePlatform) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/2.0/sql/statements", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Statement string `json:"statement"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.statements = append(f.statements, req.Statement)
		rows := [][]string{}
		if strings.HasPrefix(req.Statement, "SELECT") {
			rows = f.selectRows
		}
		if strings.HasPrefix(req.Statement, "INSERT") {
			// Subsequent lookups see the inserted mapping.
			f.selectRows = [][]string{{"app-1"}}
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"state": "SUCCEEDED"},
			"result": map[string]any{"data_array": rows},
		})
	})
	mux.HandleFunc("GET /api/2.0/preview/scim/v2/ServicePrincipals", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		resources := []map[string]any{}
		if f.principals > 0 {
			resources = append(resources, map[string]any{
				"id":            "101",
				"applicationId": "app-1",
				"displayName":   "sp-alice",
				"active":        true,
			})
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"Resources": resources})
	})
	mux.HandleFunc("POST /api/2.0/preview/scim/v2/ServicePrincipals", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.principals++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "101",
			"applicationId": "app-1",
			"displayName":   "sp-alice",
			"active":        true,
		})
	})
	mux.HandleFunc("POST /api/2.0/accounts/servicePrincipals/{id}/credentials/secrets", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"secret": "shh"})
	})
	mux.HandleFunc("PATCH /api/2.0/permissions/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.aclPaths = append(f.aclPaths, strings.TrimPrefix(r.URL.Path, "/api/2.0/permissions/"))
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("GET /api/2.0/serving-endpoints/chat-agent", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ep-1", "name": "chat-agent"})
	})
	mux.HandleFunc("POST /serving-endpoints/chat-agent/invocations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": []any{
				map[string]any{
					"type": "message",
					"content": []any{
						map[string]any{"type": "output_text", "text": "agent reply"},
					},
				},
			},
		})
	})
	mux.HandleFunc("POST /oidc/v1/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "sp-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	return mux
}

func setGatewayEnv(t *testing.T, host string) {
	t.Helper()
	t.Setenv("AGENTGATE_HOST", host)
	t.Setenv("AGENTGATE_API_TOKEN", "workspace-token")
	t.Setenv("AGENTGATE_WAREHOUSE_ID", "wh-1")
	t.Setenv("AGENTGATE_ENDPOINT_NAME", "chat-agent")
	t.Setenv("AGENTGATE_SPACE_ID", "space-1")
	t.Setenv("AGENTGATE_CATALOG", "main")
	t.Setenv("AGENTGATE_SCHEMA", "sales")
	t.Setenv("AGENTGATE_TABLE", "orders")
	t.Setenv("AGENTGATE_PRINCIPAL_MAPPING_TABLE", "main.auth.user_sp_mapping")
	t.Setenv("AGENTGATE_CLIENT_MAPPING_TABLE", "main.auth.sp_client_mapping")
	t.Setenv("AGENTGATE_AUDIT_DB_PATH", "")
	t.Setenv("AGENTGATE_USER_GRANT_ISSUER", "")
	t.Setenv("AGENTGATE_USER_GRANT_AUDIENCE", "")
	t.Setenv("AGENTGATE_USER_GRANT_PUBLIC_KEY", "")
}

func newTestHandler(t *testing.T) (http.Handler, *fakePlatform) {
	t.Helper()
	platform := &fakePlatform{}
	backend := httptest.NewServer(platform.handler())
	t.Cleanup(backend.Close)
	setGatewayEnv(t, backend.URL)

	srvEnv, err := loadServerEnv()
	if err != nil {
		t.Fatalf("load server env: %v", err)
	}
	handler, err := buildHandler(srvEnv, nil)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	return handler, platform
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCredentialsEndpointProvisionsUser(t *testing.T) {
	handler, platform := newTestHandler(t)

	rec := postJSON(t, handler, "/api/v1/credentials", map[string]string{
		"user_id":   "alice",
		"client_id": "acme-42",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res credentialsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := "Credentials set for user 'alice' (SP: app-1) with client 'acme-42'."
	if res.Status != want {
		t.Fatalf("unexpected status %q", res.Status)
	}

	platform.mu.Lock()
	defer platform.mu.Unlock()
	if platform.principals != 1 {
		t.Fatalf("expected one principal created, got %d", platform.principals)
	}
	if len(platform.aclPaths) != 2 || platform.aclPaths[0] != "serving-endpoints/ep-1" || platform.aclPaths[1] != "genie/space-1" {
		t.Fatalf("unexpected acl paths %v", platform.aclPaths)
	}
	grantStatements := 0
	for _, statement := range platform.statements {
		if strings.HasPrefix(statement, "GRANT") {
			grantStatements++
		}
	}
	if grantStatements != 3 {
		t.Fatalf("expected three grant statements, got %d", grantStatements)
	}
}

func TestCredentialsEndpointValidation(t *testing.T) {
	handler, platform := newTestHandler(t)

	rec := postJSON(t, handler, "/api/v1/credentials", map[string]string{
		"user_id":   "",
		"client_id": "acme-42",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var res errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Error.Code != "VALIDATION_USER_ID_EMPTY" {
		t.Fatalf("unexpected error code %q", res.Error.Code)
	}

	platform.mu.Lock()
	defer platform.mu.Unlock()
	if len(platform.statements) != 0 || platform.principals != 0 {
		t.Fatal("validation failure must not reach the platform")
	}
}

func TestCredentialsEndpointRejectsMalformedJSON(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatEndpointRoutesTurn(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := postJSON(t, handler, "/api/v1/chat", map[string]any{
		"user_id": "alice",
		"message": "hello",
		"history": []map[string]string{
			{"role": "user", "content": "earlier"},
			{"role": "assistant", "content": "sure"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Response != "agent reply" {
		t.Fatalf("unexpected response %q", res.Response)
	}
}

func TestChatEndpointRendersBackendFailure(t *testing.T) {
	platform := &fakePlatform{}
	backend := httptest.NewServer(platform.handler())
	setGatewayEnv(t, backend.URL)
	srvEnv, err := loadServerEnv()
	if err != nil {
		t.Fatalf("load server env: %v", err)
	}
	handler, err := buildHandler(srvEnv, nil)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	backend.Close()

	rec := postJSON(t, handler, "/api/v1/chat", map[string]any{
		"user_id": "alice",
		"message": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat failures stay 200, got %d", rec.Code)
	}
	var res chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(res.Response, "Error querying endpoint: ") {
		t.Fatalf("expected rendered transport error, got %q", res.Response)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoadServerEnvMissingRequired(t *testing.T) {
	setGatewayEnv(t, "https://workspace.example.com")
	t.Setenv("AGENTGATE_WAREHOUSE_ID", "")
	t.Setenv("AGENTGATE_SPACE_ID", "")

	_, err := loadServerEnv()
	if err == nil {
		t.Fatal("expected error for missing env")
	}
	message := err.Error()
	if !strings.Contains(message, "AGENTGATE_SPACE_ID") || !strings.Contains(message, "AGENTGATE_WAREHOUSE_ID") {
		t.Fatalf("expected missing variables named, got %q", message)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	platform := &fakePlatform{}
	backend := httptest.NewServer(platform.handler())
	t.Cleanup(backend.Close)
	setGatewayEnv(t, backend.URL)

	srv, err := New(Config{HTTPAddr: "127.0.0.1:0", HealthAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv.Addr() == "" || srv.HealthAddr() == "" {
		t.Fatal("expected bound listener addresses")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	res, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
