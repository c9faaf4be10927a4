package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tiangong-ai/workspace/pkg/capability"
)

// proposal is the JSON contract the native loop expects from the model.
// Either Action names a capability to dispatch, or FinalResponse closes the
// run. A proposal carrying both is invalid.
type proposal struct {
	Thought       string         `json:"thought"`
	Action        string         `json:"action,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	FinalResponse string         `json:"final_response,omitempty"`
}

// stripFences removes a surrounding Markdown code fence, with or without a
// language tag. Models wrap JSON in fences often enough that this is part of
// the parse contract.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag line (```json).
		first := strings.TrimSpace(s[:idx])
		if first == "" || isFenceTag(first) {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// parseProposal decodes the model output into a proposal. A nil proposal
// with nil error means the output was not JSON at all; the caller treats the
// raw text as a final answer.
func parseProposal(content string) (*proposal, error) {
	text := stripFences(content)
	if !strings.HasPrefix(text, "{") {
		return nil, nil
	}
	var p proposal
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("malformed proposal JSON: %w", err)
	}
	if p.Action != "" && p.FinalResponse != "" {
		return nil, fmt.Errorf("proposal carries both an action and a final response")
	}
	if p.Action == "" && p.FinalResponse == "" {
		return nil, fmt.Errorf("proposal carries neither an action nor a final response")
	}
	return &p, nil
}

const nativeSystemPrompt = `You are a task execution agent. You work in a loop:
think, act, observe. On every turn respond with a single JSON object and
nothing else:

  {"thought": "...", "action": "<capability name>", "input": {...}}

or, when the task is complete:

  {"thought": "...", "final_response": "..."}

Available capabilities:

%s

Rules:
- Use only the capabilities listed above.
- The input object must satisfy the capability's declared arguments.
- Never invent observations. Wait for the result of each action.`

// buildSystemPrompt renders the capability catalog into the planning prompt.
// The registry listing is sorted, so the prompt is stable across runs.
func buildSystemPrompt(descriptors []*capability.Descriptor) string {
	var b strings.Builder
	for _, d := range descriptors {
		schema, err := json.Marshal(d.Input.JSONSchema())
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s: %s\n  arguments: %s\n", d.Name, d.Description, schema)
	}
	return fmt.Sprintf(nativeSystemPrompt, strings.TrimRight(b.String(), "\n"))
}

// renderObservation serializes a dispatch outcome for the next model turn.
func renderObservation(data []byte) string {
	return "Observation:\n" + string(data)
}
