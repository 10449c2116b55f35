package pds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

func newTestClient(serverURL string) *client {
	apiClient := atclient.NewAPIClient(serverURL)
	apiClient.Auth = &bearerAuth{token: "test-token"}
	return newClient(apiClient, "did:plc:viewer", serverURL, nil)
}

// TestBearerAuth_DoWithAuth verifies that bearerAuth adds the Authorization header.
func TestBearerAuth_DoWithAuth(t *testing.T) {
	var capturedHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	auth := &bearerAuth{token: "token.with.dots_and-dashes"}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := auth.DoWithAuth(&http.Client{}, req, syntax.NSID("app.bsky.feed.getPosts"))
	if err != nil {
		t.Fatalf("DoWithAuth failed: %v", err)
	}
	resp.Body.Close()

	if capturedHeader != "Bearer token.with.dots_and-dashes" {
		t.Errorf("Authorization header = %q", capturedHeader)
	}
}

// TestResume validates input checks and the resulting session identity.
func TestResume(t *testing.T) {
	tests := []struct {
		name        string
		host        string
		did         string
		accessToken string
		errContains string
	}{
		{name: "valid inputs", host: "https://pds.example.com", did: "did:plc:12345", accessToken: "tok"},
		{name: "empty host", did: "did:plc:12345", accessToken: "tok", errContains: "host is required"},
		{name: "empty did", host: "https://pds.example.com", accessToken: "tok", errContains: "did is required"},
		{name: "empty access token", host: "https://pds.example.com", did: "did:plc:12345", errContains: "accessToken is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Resume(tt.host, tt.did, tt.accessToken)

			if tt.errContains != "" {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %q, want contains %q", err.Error(), tt.errContains)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.DID() != tt.did {
				t.Errorf("DID() = %q, want %q", c.DID(), tt.did)
			}
			if c.HostURL() != tt.host {
				t.Errorf("HostURL() = %q, want %q", c.HostURL(), tt.host)
			}
		})
	}
}

// TestLogin rejects missing credentials before any network call.
func TestLogin(t *testing.T) {
	tests := []struct {
		name        string
		host        string
		handle      string
		password    string
		errContains string
	}{
		{name: "empty host", handle: "user.bsky.social", password: "pw", errContains: "host is required"},
		{name: "empty handle", host: "https://pds.example.com", password: "pw", errContains: "handle is required"},
		{name: "empty password", host: "https://pds.example.com", handle: "user.bsky.social", errContains: "password is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Login(context.Background(), tt.host, tt.handle, tt.password)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error = %q, want contains %q", err.Error(), tt.errContains)
			}
		})
	}
}

// TestClient_CreateRecord tests the CreateRecord method with a mock server.
func TestClient_CreateRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/xrpc/com.atproto.repo.createRecord" {
			t.Errorf("path = %q", r.URL.Path)
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if payload["repo"] != "did:plc:viewer" {
			t.Errorf("repo = %v", payload["repo"])
		}
		if payload["collection"] != "app.bsky.feed.like" {
			t.Errorf("collection = %v", payload["collection"])
		}
		if _, exists := payload["rkey"]; exists {
			t.Error("rkey should not be included when empty")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"uri": "at://did:plc:viewer/app.bsky.feed.like/3kabc",
			"cid": "bafyreilike",
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	uri, cid, err := c.CreateRecord(context.Background(), "app.bsky.feed.like", "", map[string]any{
		"$type": "app.bsky.feed.like",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uri != "at://did:plc:viewer/app.bsky.feed.like/3kabc" {
		t.Errorf("uri = %q", uri)
	}
	if cid != "bafyreilike" {
		t.Errorf("cid = %q", cid)
	}
}

// TestClient_DeleteRecord tests the DeleteRecord method with a mock server.
func TestClient_DeleteRecord(t *testing.T) {
	tests := []struct {
		name         string
		serverStatus int
		wantErr      error
	}{
		{name: "successful deletion", serverStatus: http.StatusOK},
		{name: "not found", serverStatus: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "server error", serverStatus: http.StatusBadGateway, wantErr: ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/xrpc/com.atproto.repo.deleteRecord" {
					t.Errorf("path = %q", r.URL.Path)
				}
				var payload map[string]any
				if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
					t.Fatalf("failed to decode request body: %v", err)
				}
				if payload["rkey"] != "3kabc" {
					t.Errorf("rkey = %v", payload["rkey"])
				}

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.serverStatus)
				if tt.serverStatus != http.StatusOK {
					json.NewEncoder(w).Encode(map[string]any{"error": "Error", "message": "failed"})
				}
			}))
			defer server.Close()

			err := newTestClient(server.URL).DeleteRecord(context.Background(), "app.bsky.feed.like", "3kabc")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected errors.Is(%v, %v) to be true", err, tt.wantErr)
			}
		})
	}
}

// TestClient_Query verifies query params and response decoding.
func TestClient_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET request, got %s", r.Method)
		}
		if r.URL.Path != "/xrpc/app.bsky.actor.getProfile" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("actor"); got != "did:plc:alice" {
			t.Errorf("actor = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"did": "did:plc:alice", "handle": "alice.test"})
	}))
	defer server.Close()

	var out struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	}
	err := newTestClient(server.URL).Query(context.Background(), "app.bsky.actor.getProfile",
		map[string]any{"actor": "did:plc:alice"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Handle != "alice.test" {
		t.Errorf("handle = %q", out.Handle)
	}
}

// TestClient_Procedure verifies procedure body encoding and typed errors.
func TestClient_Procedure(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/app.bsky.graph.muteActor" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if body["actor"] != "did:plc:alice" {
			t.Errorf("actor = %v", body["actor"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{"error": "RateLimitExceeded", "message": "slow down"})
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.Procedure(context.Background(), "app.bsky.graph.muteActor", map[string]any{"actor": "did:plc:alice"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status = http.StatusTooManyRequests
	err := c.Procedure(context.Background(), "app.bsky.graph.muteActor", map[string]any{"actor": "did:plc:alice"}, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("rate limiting should be transient")
	}
}

// TestClient_InvalidNSID rejects malformed method names before any request.
func TestClient_InvalidNSID(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	if err := c.Query(context.Background(), "not an nsid", nil, nil); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// TestClassifyError tests error wrapping for HTTP status codes.
func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantTyped error
		transient bool
	}{
		{name: "401", err: &atclient.APIError{StatusCode: 401, Message: "Not logged in"}, wantTyped: ErrUnauthorized},
		{name: "403", err: &atclient.APIError{StatusCode: 403, Message: "Access denied"}, wantTyped: ErrForbidden},
		{name: "404", err: &atclient.APIError{StatusCode: 404, Message: "Record not found"}, wantTyped: ErrNotFound},
		{name: "409", err: &atclient.APIError{StatusCode: 409, Message: "Swap failed"}, wantTyped: ErrConflict},
		{name: "429", err: &atclient.APIError{StatusCode: 429, Message: "Slow down"}, wantTyped: ErrRateLimited, transient: true},
		{name: "503", err: &atclient.APIError{StatusCode: 503, Message: "Unavailable"}, wantTyped: ErrServerError, transient: true},
		{name: "transport", err: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyError("createRecord", tt.err)
			if result == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantTyped != nil && !errors.Is(result, tt.wantTyped) {
				t.Errorf("expected errors.Is(%v, %v) to be true", result, tt.wantTyped)
			}
			if !errors.Is(result, tt.err) && tt.wantTyped == nil {
				t.Errorf("transport error should stay in the chain: %v", result)
			}
			if IsTransient(result) != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", IsTransient(result), tt.transient)
			}
			if !strings.Contains(result.Error(), "createRecord") {
				t.Errorf("error message %q should contain operation", result.Error())
			}
		})
	}

	if classifyError("op", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestIsAuthError(t *testing.T) {
	if !IsAuthError(classifyError("op", &atclient.APIError{StatusCode: 401})) {
		t.Error("401 should be an auth error")
	}
	if IsAuthError(ErrNotFound) {
		t.Error("404 is not an auth error")
	}
}

func TestResume_ReportsEveryMissingField(t *testing.T) {
	_, err := Resume("", "", "")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, field := range []string{"host", "did", "accessToken"} {
		if !strings.Contains(err.Error(), field+" is required") {
			t.Errorf("error %q should mention %s", err.Error(), field)
		}
	}
}

func TestWithHTTPClient(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	hc := server.Client()
	c, err := Resume(server.URL, "did:plc:viewer", "tok", WithHTTPClient(hc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.(*client).api.Client; got != hc {
		t.Fatal("custom http client was not installed")
	}
	var out map[string]any
	if err := c.Query(context.Background(), "app.bsky.actor.getProfile", map[string]any{"actor": "did:plc:alice"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}
