package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"relaycast/internal/auth"
	"relaycast/internal/backend"
)

func TestVerifySendsCredentialsWithSharedKey(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody auth.Credentials
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "stream-42"})
	}))
	t.Cleanup(server.Close)

	client, err := backend.NewClient(backend.Config{BaseURL: server.URL, Key: "shared-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	desc, err := client.Verify(context.Background(), auth.Credentials{ID: "stream-42", UserID: "user-1"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if desc.ID != "stream-42" {
		t.Fatalf("unexpected stream id %q", desc.ID)
	}
	if gotAuth != "Basic shared-key" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotBody.UserID != "user-1" {
		t.Fatalf("credentials not forwarded: %+v", gotBody)
	}
}

func TestVerifyFallsBackToCredentialID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	t.Cleanup(server.Close)

	client, err := backend.NewClient(backend.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	desc, err := client.Verify(context.Background(), auth.Credentials{ID: "stream-7"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if desc.ID != "stream-7" {
		t.Fatalf("unexpected stream id %q", desc.ID)
	}
}

func TestVerifyNegativeOutcomes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "error envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"err": "unknown stream"})
			},
		},
		{
			name: "boolean error envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"err": true})
			},
		},
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "backend down", http.StatusInternalServerError)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			t.Cleanup(server.Close)

			client, err := backend.NewClient(backend.Config{BaseURL: server.URL})
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if _, err := client.Verify(context.Background(), auth.Credentials{ID: "x"}); err == nil {
				t.Fatal("expected verify to fail")
			}
		})
	}
}

func TestActivate(t *testing.T) {
	t.Parallel()

	var gotStreamID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activate_stream" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body struct {
			StreamID string `json:"streamID"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		gotStreamID = body.StreamID
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	t.Cleanup(server.Close)

	client, err := backend.NewClient(backend.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Activate(context.Background(), "stream-3"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if gotStreamID != "stream-3" {
		t.Fatalf("unexpected stream id %q", gotStreamID)
	}
}

func TestActivateNegativeOutcome(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"err": "stream revoked"})
	}))
	t.Cleanup(server.Close)

	client, err := backend.NewClient(backend.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Activate(context.Background(), "stream-3"); err == nil {
		t.Fatal("expected activation to fail")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := backend.NewClient(backend.Config{}); err == nil {
		t.Fatal("expected configuration error")
	}
}
