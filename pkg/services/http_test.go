package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/resilience"
)

func fastRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func testHTTPClient() *HTTPClient {
	return NewHTTPClient(5*time.Second, fastRetry(), "workspace-test/1.0")
}

func TestGetJSONRetriesServerFaults(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value": "ok"}`))
	}))
	defer server.Close()

	var out struct {
		Value string `json:"value"`
	}
	retries, err := testHTTPClient().GetJSON(context.Background(), server.URL, nil, &out)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Value != "ok" {
		t.Errorf("unexpected value %q", out.Value)
	}
	if retries != 2 {
		t.Errorf("expected 2 retries, got %d", retries)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestGetJSONDoesNotRetryClientFaults(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such resource", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testHTTPClient().GetJSON(context.Background(), server.URL, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	we := errors.AsWorkspaceError(err)
	if we.Code != errors.CodeExternalService {
		t.Errorf("expected external service code, got %s", we.Code)
	}
	if we.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404 preserved, got %d", we.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("client fault must not be retried, got %d requests", got)
	}
}

func TestGetJSONRateLimitIsTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	retries, err := testHTTPClient().GetJSON(context.Background(), server.URL, nil, nil)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if retries != 1 {
		t.Errorf("expected 1 retry after 429, got %d", retries)
	}
}

func TestPostJSONSendsHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing auth header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		w.Write([]byte(`{"echo": true}`))
	}))
	defer server.Close()

	var out struct {
		Echo bool `json:"echo"`
	}
	_, err := testHTTPClient().PostJSON(context.Background(), server.URL,
		map[string]string{"Authorization": "Bearer token"},
		map[string]string{"k": "v"}, &out)
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if !out.Echo {
		t.Error("response not decoded")
	}
}

func TestGetJSONExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testHTTPClient().GetJSON(context.Background(), server.URL, nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if errors.CodeOf(err) != errors.CodeTransientService {
		t.Errorf("expected transient code, got %s", errors.CodeOf(err))
	}
}
