package auditlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/veridict/fact-gateway/internal/analysis"
	"github.com/veridict/fact-gateway/internal/config"
)

func newTestClient(url string) *Client {
	return NewClient(&config.Config{AuditLogURL: url, AuditLogTimeout: 2}, zerolog.Nop())
}

func TestClient_DisabledWithoutURL(t *testing.T) {
	c := newTestClient("")
	if c.Enabled() {
		t.Error("Expected client without URL to be disabled")
	}

	// All operations are safe no-ops
	if id := c.StartSession(context.Background(), "debate"); id != "" {
		t.Errorf("Expected empty session id from disabled client, got %q", id)
	}
	c.LogAnalysis(context.Background(), "s1", analysis.Result{SegmentID: "x"})
	c.EndSession(context.Background(), "s1", 0.12, 60)
}

func TestClient_SessionLifecycle(t *testing.T) {
	var mu sync.Mutex
	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		switch r.URL.Path {
		case "/sessions":
			var req startSessionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode != "debate" {
				t.Errorf("Unexpected start request: %+v err=%v", req, err)
			}
			json.NewEncoder(w).Encode(startSessionResponse{SessionID: "audit-42"})
		case "/sessions/audit-42/analyses":
			var rec analysisRecord
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec.Verdict != "FALSE" {
				t.Errorf("Unexpected analysis record: %+v err=%v", rec, err)
			}
			w.WriteHeader(http.StatusNoContent)
		case "/sessions/audit-42/end":
			var req endSessionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DurationSeconds != 90 {
				t.Errorf("Unexpected end request: %+v err=%v", req, err)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	id := c.StartSession(context.Background(), "debate")
	if id != "audit-42" {
		t.Fatalf("Expected session id audit-42, got %q", id)
	}

	c.LogAnalysis(context.Background(), id, analysis.Result{
		SegmentID:   "seg-1",
		Text:        "O PIB cresceu dez por cento.",
		Verdict:     analysis.VerdictFalse,
		Confidence:  0.9,
		Explanation: "contradicted",
		ResolvedAt:  time.Now(),
	})
	c.EndSession(context.Background(), id, 0.05, 90)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/sessions", "/sessions/audit-42/analyses", "/sessions/audit-42/end"}
	if len(paths) != len(want) {
		t.Fatalf("Expected %d calls, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
}

func TestClient_StartSessionFailureIsAbsorbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if id := c.StartSession(context.Background(), "debate"); id != "" {
		t.Errorf("Expected empty session id on collaborator failure, got %q", id)
	}
}

func TestClient_RetriesTransientFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(startSessionResponse{SessionID: "audit-1"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if id := c.StartSession(context.Background(), "debate"); id != "audit-1" {
		t.Errorf("Expected retry to recover, got session id %q", id)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}
