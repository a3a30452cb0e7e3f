package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/ferrolab/agentgate/internal/platform/errors"
)

func TestListAppliesFilter(t *testing.T) {
	var capturedFilter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		capturedFilter = r.URL.Query().Get("filter")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Resources": []map[string]any{
				{"id": "101", "applicationId": "app-1", "displayName": "sp-alice", "active": true},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{Host: server.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	principals, err := client.List(context.Background(), "displayName eq 'sp-alice'")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if capturedFilter != "displayName eq 'sp-alice'" {
		t.Fatalf("unexpected filter %q", capturedFilter)
	}
	if len(principals) != 1 {
		t.Fatalf("expected one principal, got %d", len(principals))
	}
	if principals[0].ApplicationID != "app-1" || principals[0].NumericID != "101" {
		t.Fatalf("unexpected principal %+v", principals[0])
	}
}

func TestCreateReturnsIdentifiers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["displayName"] != "sp-alice" {
			t.Errorf("unexpected display name %v", body["displayName"])
		}
		if body["active"] != true {
			t.Errorf("expected active principal")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "202", "applicationId": "app-2", "displayName": "sp-alice", "active": true,
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{Host: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	sp, err := client.Create(context.Background(), "sp-alice", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sp.ApplicationID != "app-2" || sp.NumericID != "202" {
		t.Fatalf("unexpected principal %+v", sp)
	}
}

func TestCreateSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/2.0/accounts/servicePrincipals/202/credentials/secrets" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"secret": "s3cr3t"})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{Host: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	secret, err := client.CreateSecret(context.Background(), "202")
	if err != nil {
		t.Fatalf("create secret: %v", err)
	}
	if secret != "s3cr3t" {
		t.Fatalf("unexpected secret %q", secret)
	}
}

func TestCreateSecretEmptySecretFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"secret": ""})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{Host: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.CreateSecret(context.Background(), "202"); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestDirectoryErrorsCarryCodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{Host: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.List(context.Background(), ""); apperrors.CodeOf(err) != apperrors.CodeDirectoryListFailed {
		t.Fatalf("expected list code, got %q", apperrors.CodeOf(err))
	}
	if _, err := client.Create(context.Background(), "sp-x", true); apperrors.CodeOf(err) != apperrors.CodeDirectoryCreateFailed {
		t.Fatalf("expected create code, got %q", apperrors.CodeOf(err))
	}
	if _, err := client.CreateSecret(context.Background(), "1"); apperrors.CodeOf(err) != apperrors.CodeDirectorySecretFailed {
		t.Fatalf("expected secret code, got %q", apperrors.CodeOf(err))
	}
}
