package engine

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/llm"
	"github.com/tiangong-ai/workspace/pkg/resilience"
	"github.com/tiangong-ai/workspace/pkg/router"
)

func testBudget() Budget {
	return Budget{MaxSteps: 3, MaxDuration: 10 * time.Second, ProposalRetries: 2}
}

func testRouter(t *testing.T, provider llm.Provider) *router.Router {
	t.Helper()
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	r, err := router.New(map[string]llm.Provider{"mock": provider},
		router.Options{DefaultProvider: "mock", Retry: cfg})
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	return r
}

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry(5 * time.Second)
	err := reg.Register(capability.Descriptor{
		Name:        "lookup",
		Description: "Look up a value by key.",
		SideEffect:  capability.ReadExternal,
		Enabled:     true,
		Input: capability.Schema{Args: map[string]capability.ArgDef{
			"key": {Type: "string", Required: true},
		}},
		Output: capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"value": "result-for-" + args["key"].(string)}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	err = reg.Register(capability.Descriptor{
		Name:        "write_record",
		Description: "Write a record to the external graph.",
		SideEffect:  capability.MutatesExternal,
		Enabled:     true,
		Input:       capability.Schema{AllowExtra: true},
		Output:      capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, stderrors.New("constraint violation")
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func newNative(t *testing.T, provider llm.Provider, budget Budget) Engine {
	t.Helper()
	eng, err := New(VariantNative, Options{
		Registry: testRegistry(t),
		Router:   testRouter(t, provider),
		Budget:   budget,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	_, err := New("graph", Options{
		Registry: testRegistry(t),
		Router:   testRouter(t, llm.NewScripted()),
		Budget:   testBudget(),
	})
	if err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestNativeDispatchThenFinal(t *testing.T) {
	provider := llm.NewScripted(
		`{"thought": "need the value", "action": "lookup", "input": {"key": "alpha"}}`,
		`{"thought": "have it", "final_response": "the value is result-for-alpha"}`,
	)
	eng := newNative(t, provider, testBudget())

	run, err := eng.Run(context.Background(), "find alpha")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", run.Status, run.Reason)
	}
	if run.FinalAnswer != "the value is result-for-alpha" {
		t.Errorf("unexpected final answer %q", run.FinalAnswer)
	}
	if len(run.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(run.Steps))
	}
	step := run.Steps[0]
	if step.Capability != "lookup" || step.Error != "" {
		t.Errorf("unexpected step %+v", step)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		t.Error("finished before started")
	}
}

func TestNativeFencedProposal(t *testing.T) {
	provider := llm.NewScripted(
		"```json\n{\"thought\": \"done\", \"final_response\": \"fenced answer\"}\n```",
	)
	eng := newNative(t, provider, testBudget())

	run, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusDone || run.FinalAnswer != "fenced answer" {
		t.Fatalf("unexpected run %s %q", run.Status, run.FinalAnswer)
	}
}

func TestNativePlainTextClosesRun(t *testing.T) {
	provider := llm.NewScripted("just a plain answer, no JSON")
	eng := newNative(t, provider, testBudget())

	run, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusDone {
		t.Fatalf("expected done, got %s", run.Status)
	}
	if run.FinalAnswer != "just a plain answer, no JSON" {
		t.Errorf("unexpected answer %q", run.FinalAnswer)
	}
	if len(run.Steps) != 0 {
		t.Errorf("expected empty trace, got %d steps", len(run.Steps))
	}
}

func TestNativeRepeatedInvalidProposalFailsRun(t *testing.T) {
	provider := llm.NewScripted(
		`{"thought": "try", "action": "teleport", "input": {}}`,
		`{"thought": "try again", "action": "teleport", "input": {}}`,
		`{"thought": "never reached", "action": "teleport", "input": {}}`,
	)
	eng := newNative(t, provider, testBudget())

	run, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.Reason != "repeated invalid proposal" {
		t.Errorf("unexpected reason %q", run.Reason)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("expected 2 trace entries, got %d", len(run.Steps))
	}
	for _, step := range run.Steps {
		if step.Error == "" {
			t.Errorf("invalid step %d should carry an error", step.Index)
		}
		if step.Result != nil {
			t.Errorf("invalid step %d must not carry a result", step.Index)
		}
	}
	if provider.CallCount != 2 {
		t.Errorf("expected exactly 2 planning calls, got %d", provider.CallCount)
	}
}

func TestNativeInvalidArgsCountAsInvalidProposal(t *testing.T) {
	provider := llm.NewScripted(
		`{"thought": "missing arg", "action": "lookup", "input": {}}`,
		`{"thought": "fixed", "action": "lookup", "input": {"key": "beta"}}`,
		`{"thought": "done", "final_response": "ok"}`,
	)
	eng := newNative(t, provider, testBudget())

	run, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusDone {
		t.Fatalf("expected done after recovery, got %s (%s)", run.Status, run.Reason)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("expected invalid entry plus dispatch, got %d", len(run.Steps))
	}
	if run.Steps[0].Error == "" {
		t.Error("first entry should record the invalid proposal")
	}
	if run.Steps[1].Capability != "lookup" || run.Steps[1].Error != "" {
		t.Errorf("second entry should be the successful dispatch, got %+v", run.Steps[1])
	}
}

func TestNativeMutatingFailureStopsRun(t *testing.T) {
	provider := llm.NewScripted(
		`{"thought": "write it", "action": "write_record", "input": {"k": "v"}}`,
		`{"thought": "never reached", "final_response": "no"}`,
	)
	eng := newNative(t, provider, testBudget())

	run, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if len(run.Steps) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", len(run.Steps))
	}
	// The failed mutation is never retried and the loop never resumes.
	if provider.CallCount != 1 {
		t.Errorf("expected 1 planning call, got %d", provider.CallCount)
	}
}

func TestNativeStepBudgetSynthesis(t *testing.T) {
	provider := llm.NewScripted(
		`{"thought": "1", "action": "lookup", "input": {"key": "a"}}`,
		`{"thought": "2", "action": "lookup", "input": {"key": "b"}}`,
		"best effort summary",
	)
	budget := testBudget()
	budget.MaxSteps = 2
	eng := newNative(t, provider, budget)

	run, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", run.Status, run.Reason)
	}
	if run.Reason != "step budget exhausted" {
		t.Errorf("unexpected reason %q", run.Reason)
	}
	if run.FinalAnswer != "best effort summary" {
		t.Errorf("unexpected answer %q", run.FinalAnswer)
	}
	if len(run.Steps) != 2 {
		t.Errorf("expected 2 dispatched steps, got %d", len(run.Steps))
	}
}

func TestNativeDeterministicTrace(t *testing.T) {
	script := []string{
		`{"thought": "need the value", "action": "lookup", "input": {"key": "alpha"}}`,
		`{"thought": "have it", "final_response": "answer"}`,
	}
	runOnce := func() *TaskRun {
		eng := newNative(t, llm.NewScripted(script...), testBudget())
		run, err := eng.Run(context.Background(), "find alpha")
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return run
	}
	a, b := runOnce(), runOnce()
	if a.Status != b.Status || a.FinalAnswer != b.FinalAnswer || len(a.Steps) != len(b.Steps) {
		t.Fatalf("runs diverged: %+v vs %+v", a, b)
	}
	for i := range a.Steps {
		if a.Steps[i].Capability != b.Steps[i].Capability || a.Steps[i].Error != b.Steps[i].Error {
			t.Errorf("step %d diverged", i)
		}
	}
}

func TestNativeCancellation(t *testing.T) {
	provider := llm.NewScripted(
		`{"thought": "loop", "action": "lookup", "input": {"key": "a"}}`,
	)
	eng := newNative(t, provider, testBudget())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := eng.Run(ctx, "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("expected failed on canceled context, got %s", run.Status)
	}
	if provider.CallCount != 0 {
		t.Errorf("canceled run must not call the provider, got %d calls", provider.CallCount)
	}
}

func TestMiddlewareToolCallingFlow(t *testing.T) {
	provider := llm.NewScripted()
	provider.AddResponse(llm.ChatResponse{
		ToolCalls: []llm.ToolCall{{
			ID:   "call-1",
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "lookup",
				Arguments: `{"key": "alpha"}`,
			},
		}},
	})
	provider.AddResponse(llm.ChatResponse{
		ToolCalls: []llm.ToolCall{{
			ID:   "call-2",
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "scratch_write",
				Arguments: `{"key": "notes", "value": "found alpha"}`,
			},
		}},
	})
	provider.AddResponse(llm.ChatResponse{Content: "done: found alpha"})

	eng, err := New(VariantMiddleware, Options{
		Registry: testRegistry(t),
		Router:   testRouter(t, provider),
		Budget:   testBudget(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run, err := eng.Run(context.Background(), "find alpha and note it")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", run.Status, run.Reason)
	}
	if run.FinalAnswer != "done: found alpha" {
		t.Errorf("unexpected answer %q", run.FinalAnswer)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(run.Steps))
	}
	if run.Steps[0].Capability != "lookup" || run.Steps[1].Capability != "scratch_write" {
		t.Errorf("unexpected step capabilities: %+v", run.Steps)
	}
}

func TestMiddlewareStepBudgetSynthesis(t *testing.T) {
	provider := llm.NewScripted()
	for i := 0; i < 3; i++ {
		provider.AddResponse(llm.ChatResponse{
			ToolCalls: []llm.ToolCall{{
				ID:       "call",
				Type:     llm.ToolTypeFunction,
				Function: llm.FunctionCall{Name: "lookup", Arguments: `{"key": "x"}`},
			}},
		})
	}
	provider.AddResponse(llm.ChatResponse{Content: "best effort summary"})

	budget := testBudget()
	budget.MaxSteps = 2
	eng, err := New(VariantMiddleware, Options{
		Registry: testRegistry(t),
		Router:   testRouter(t, provider),
		Budget:   budget,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusDone {
		t.Fatalf("expected best-effort answer on exhausted budget, got %s (%s)", run.Status, run.Reason)
	}
	if run.Reason != "step budget exhausted" {
		t.Errorf("unexpected reason %q", run.Reason)
	}
	if run.FinalAnswer != "best effort summary" {
		t.Errorf("unexpected answer %q", run.FinalAnswer)
	}
	if len(run.Steps) != 2 {
		t.Errorf("expected 2 dispatched steps, got %d", len(run.Steps))
	}
}

func TestMiddlewareStepBudgetSynthesisFailure(t *testing.T) {
	provider := llm.NewScripted()
	for i := 0; i < 3; i++ {
		provider.AddResponse(llm.ChatResponse{
			ToolCalls: []llm.ToolCall{{
				ID:       "call",
				Type:     llm.ToolTypeFunction,
				Function: llm.FunctionCall{Name: "lookup", Arguments: `{"key": "x"}`},
			}},
		})
	}
	// No summary response scripted, so the wrap-up call fails.

	budget := testBudget()
	budget.MaxSteps = 2
	eng, err := New(VariantMiddleware, Options{
		Registry: testRegistry(t),
		Router:   testRouter(t, provider),
		Budget:   budget,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("expected failed when no answer can be produced, got %s", run.Status)
	}
	if run.Reason != "step budget exhausted" {
		t.Errorf("unexpected reason %q", run.Reason)
	}
	if len(run.Steps) != 2 {
		t.Errorf("expected 2 dispatched steps, got %d", len(run.Steps))
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{\"a\": 1}", "{\"a\": 1}"},
		{"```json\n{\"a\": 1}\n```", "{\"a\": 1}"},
		{"```\n{\"a\": 1}\n```", "{\"a\": 1}"},
		{"  ```json\n{\"a\": 1}\n```  ", "{\"a\": 1}"},
		{"plain text", "plain text"},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
