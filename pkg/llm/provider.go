// Package llm defines the uniform call contract to reasoning providers and
// ships the in-process provider implementations used by the model router.
package llm

import (
	"context"

	"github.com/tiangong-ai/workspace/pkg/errors"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolType represents the type of tool.
type ToolType string

const (
	ToolTypeFunction ToolType = "function"
)

// FunctionDef defines a function tool.
type FunctionDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters"` // JSON Schema
}

// Tool represents a tool available to the LLM.
type Tool struct {
	Type     ToolType    `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionCall represents a call to a function tool.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string containing arguments
}

// ToolCall represents a request from the LLM to call a tool.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is a single unit of communication.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // Used for tool role messages
}

// ChatRequest encapsulates the input for the LLM.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse encapsulates the output from the LLM.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for interacting with LLM backends.
type Provider interface {
	// Chat sends a chat request to the LLM and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StatusError translates a provider HTTP status into the workspace taxonomy:
// rate limiting and server faults are transient and retryable; authentication
// and malformed-request faults fail immediately.
func StatusError(provider string, status int, body string) *errors.WorkspaceError {
	msg := provider + " api returned status"
	var we *errors.WorkspaceError
	switch {
	case status == 429 || status >= 500:
		we = errors.New(errors.CodeTransientService, msg, nil)
	default:
		we = errors.New(errors.CodeLLMError, msg, nil).WithRecoverable(false)
	}
	we.WithStatusCode(status).WithContext("provider", provider)
	if body != "" {
		we.WithContext("body", body)
	}
	return we
}

// TransportError wraps connection-level provider failures as transient.
func TransportError(provider string, err error) *errors.WorkspaceError {
	return errors.New(errors.CodeTransientService, provider+" api call failed", err).
		WithContext("provider", provider)
}
