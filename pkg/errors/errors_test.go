// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("network timeout")
	we := New(CodeTimeout, "capability call timed out", cause)

	if we.Code != CodeTimeout {
		t.Errorf("expected CodeTimeout, got %v", we.Code)
	}
	if we.Message != "capability call timed out" {
		t.Errorf("expected message 'capability call timed out', got %q", we.Message)
	}
	if we.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(we, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	we := New(CodeExternalService, "search failed", nil)
	we.WithContext("capability", "tavily_search").
		WithContext("args", map[string]interface{}{"query": "solar"})

	if we.Context["capability"] != "tavily_search" {
		t.Errorf("expected context capability to be 'tavily_search'")
	}
	if we.Context["args"] == nil {
		t.Errorf("expected context args to be set")
	}
}

func TestRecoverableDefaults(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{CodeTransientService, true},
		{CodeInvalidInput, true},
		{CodeExecDenied, true},
		{CodeExecTimeout, true},
		{CodeFatalConfig, false},
		{CodeNotFound, false},
		{CodeExternalService, false},
		{CodePlanningFailed, false},
	}
	for _, tt := range tests {
		we := New(tt.code, "x", nil)
		if we.Recoverable != tt.want {
			t.Errorf("%s: expected recoverable=%v, got %v", tt.code, tt.want, we.Recoverable)
		}
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		we       *WorkspaceError
		expected string
	}{
		{
			name:     "with cause",
			we:       New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] operation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			we:       New(CodeNotFound, "unknown capability", nil),
			expected: "[NOT_FOUND] unknown capability",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.we.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStatusCodes(t *testing.T) {
	if New(CodeNotFound, "x", nil).StatusCode != 404 {
		t.Errorf("expected 404 for CodeNotFound")
	}
	if New(CodeExecDenied, "x", nil).StatusCode != 403 {
		t.Errorf("expected 403 for CodeExecDenied")
	}
	if New(CodeTransientService, "x", nil).StatusCode != 503 {
		t.Errorf("expected 503 for CodeTransientService")
	}
	got := New(CodeExternalService, "x", nil).WithStatusCode(502)
	if got.StatusCode != 502 {
		t.Errorf("expected overridden status 502, got %d", got.StatusCode)
	}
}

func TestMarshalJSON(t *testing.T) {
	we := New(CodeInvalidInput, "schema mismatch", errors.New("missing field")).
		WithContext("field", "query")

	data, err := json.Marshal(we)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["code"] != string(CodeInvalidInput) {
		t.Errorf("expected code %s, got %v", CodeInvalidInput, decoded["code"])
	}
}

func TestAsWorkspaceError(t *testing.T) {
	we := New(CodeLLMError, "provider failed", nil)
	if AsWorkspaceError(we) != we {
		t.Errorf("expected same instance back")
	}
	wrapped := AsWorkspaceError(errors.New("plain"))
	if wrapped.Code != CodeInternal {
		t.Errorf("expected plain error wrapped as internal, got %v", wrapped.Code)
	}
	if AsWorkspaceError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}
}

func TestIsRecoverable(t *testing.T) {
	if IsRecoverable(nil) {
		t.Errorf("nil is not recoverable")
	}
	if IsRecoverable(errors.New("plain")) {
		t.Errorf("untyped errors are not recoverable")
	}
	if !IsRecoverable(New(CodeTransientService, "x", nil)) {
		t.Errorf("transient errors are recoverable")
	}
}
