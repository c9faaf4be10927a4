package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tiangong-ai/workspace/pkg/errors"
)

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		status      int
		recoverable bool
		code        errors.ErrorCode
	}{
		{429, true, errors.CodeTransientService},
		{500, true, errors.CodeTransientService},
		{503, true, errors.CodeTransientService},
		{400, false, errors.CodeLLMError},
		{401, false, errors.CodeLLMError},
	}
	for _, tt := range tests {
		we := StatusError("test", tt.status, "")
		if we.Code != tt.code {
			t.Errorf("status %d: expected code %v, got %v", tt.status, tt.code, we.Code)
		}
		if we.Recoverable != tt.recoverable {
			t.Errorf("status %d: expected recoverable=%v", tt.status, tt.recoverable)
		}
		if we.StatusCode != tt.status {
			t.Errorf("status %d: original status lost, got %d", tt.status, we.StatusCode)
		}
	}
}

func TestScriptedMockPopsInOrder(t *testing.T) {
	s := NewScripted("one", "two")
	r1, err := s.Chat(context.Background(), ChatRequest{})
	if err != nil || r1.Content != "one" {
		t.Fatalf("expected 'one', got %v/%v", r1, err)
	}
	r2, _ := s.Chat(context.Background(), ChatRequest{})
	if r2.Content != "two" {
		t.Fatalf("expected 'two', got %v", r2)
	}
	if _, err := s.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Errorf("expected exhausted script to error")
	}
	if s.CallCount != 3 {
		t.Errorf("expected 3 calls, got %d", s.CallCount)
	}
}

func TestScriptedMockErrorsFirst(t *testing.T) {
	s := NewScripted("ok").AddError(StatusError("test", 503, ""))
	if _, err := s.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatalf("expected scripted error first")
	}
	resp, err := s.Chat(context.Background(), ChatRequest{})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("expected success after error, got %v/%v", resp, err)
	}
}

func TestOpenAICompatChat(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer server.Close()

	p := NewOpenAICompat(server.URL, "sk-test")
	resp, err := p.Chat(context.Background(), ChatRequest{Model: "gpt-test", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("expected 'hello', got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("expected usage mapped, got %+v", resp.Usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
}

func TestOpenAICompatServerFaultIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewOpenAICompat(server.URL, "")
	_, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.IsRecoverable(err) {
		t.Errorf("expected 503 to be recoverable, got %v", err)
	}
}

func TestOllamaChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"message": {"role": "assistant", "content": "pong"},
			"done": true,
			"eval_count": 4,
			"prompt_eval_count": 6
		}`))
	}))
	defer server.Close()

	p := NewOllama(server.URL)
	resp, err := p.Chat(context.Background(), ChatRequest{Model: "qwen", Messages: []Message{{Role: RoleUser, Content: "ping"}}})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if resp.Content != "pong" {
		t.Errorf("expected 'pong', got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("expected total tokens 10, got %d", resp.Usage.TotalTokens)
	}
}
