package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider is a mock provider that returns a pre-defined sequence
// of responses. Useful for testing multi-turn interactions (planning loops).
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []ChatResponse
	Errs      []error
	// CallCount tracks how many times Chat has been called.
	CallCount int
}

// NewScripted creates a provider that pops plain-text responses in order.
func NewScripted(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.Responses = append(s.Responses, ChatResponse{Content: r})
	}
	return s
}

// AddResponse appends a full response to the queue.
func (s *ScriptedMockProvider) AddResponse(resp ChatResponse) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
	return s
}

// AddError appends an error slot to the queue; it is returned before any
// remaining responses.
func (s *ScriptedMockProvider) AddError(err error) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errs = append(s.Errs, err)
	return s
}

// Chat pops the next scripted error or response.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++

	if len(s.Errs) > 0 {
		err := s.Errs[0]
		s.Errs = s.Errs[1:]
		return nil, err
	}

	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	if resp.Usage.TotalTokens == 0 {
		resp.Usage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	}
	return &resp, nil
}
