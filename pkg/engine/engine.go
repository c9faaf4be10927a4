// Package engine implements the planning loops that turn a natural language
// task into a bounded sequence of capability invocations. Two variants share
// one contract: the native engine drives an explicit propose/dispatch/observe
// cycle over JSON proposals, the middleware engine delegates tool selection
// to the provider's tool-calling surface and adds a per-run scratchpad.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/router"
)

// Variant names a planning loop implementation.
type Variant string

const (
	VariantNative     Variant = "native"
	VariantMiddleware Variant = "middleware"
)

// RunStatus is the lifecycle state of a task run.
type RunStatus string

const (
	StatusPlanning    RunStatus = "planning"
	StatusDispatching RunStatus = "dispatching"
	StatusObserving   RunStatus = "observing"
	StatusDone        RunStatus = "done"
	StatusFailed      RunStatus = "failed"
)

// Budget bounds one run. Exhausting either limit ends the loop.
type Budget struct {
	// MaxSteps caps dispatched capability invocations.
	MaxSteps int
	// MaxDuration caps the run's wall clock.
	MaxDuration time.Duration
	// ProposalRetries bounds consecutive invalid proposals at one step
	// index before the run fails.
	ProposalRetries int
}

// Step records one entry of the run trace. Invalid proposals are recorded
// with Error set and no Result, so the trace explains failed runs too.
type Step struct {
	Index      int            `json:"index"`
	Thought    string         `json:"thought,omitempty"`
	Capability string         `json:"capability,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Latency    time.Duration  `json:"latency_ns,omitempty"`
	Retries    int            `json:"retries,omitempty"`
}

// TaskRun is the complete record of one engine run.
type TaskRun struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	Engine      Variant   `json:"engine"`
	Status      RunStatus `json:"status"`
	Steps       []Step    `json:"steps"`
	FinalAnswer string    `json:"final_answer,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Budget      Budget    `json:"budget"`
}

// Engine runs one task to completion or failure within its budget.
type Engine interface {
	Run(ctx context.Context, task string) (*TaskRun, error)
}

// Options wires an engine to its collaborators.
type Options struct {
	Registry *capability.Registry
	Router   *router.Router
	// Purpose selects the model class used for planning calls.
	Purpose router.Purpose
	Budget  Budget
	// Temperature for planning calls. The native loop pins this to zero
	// regardless, so identical provider outputs yield identical runs.
	Temperature float64
}

// New selects an engine variant. Unknown variants are a configuration fault.
func New(variant Variant, opts Options) (Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New(errors.CodeFatalConfig, "engine requires a capability registry", nil)
	}
	if opts.Router == nil {
		return nil, errors.New(errors.CodeFatalConfig, "engine requires a model router", nil)
	}
	if opts.Budget.MaxSteps < 1 {
		return nil, errors.New(errors.CodeFatalConfig, "engine budget requires at least one step", nil)
	}
	if opts.Budget.MaxDuration <= 0 {
		return nil, errors.New(errors.CodeFatalConfig, "engine budget requires a positive duration", nil)
	}
	// Config validation already requires at least 1; this covers callers
	// passing a zero-value Budget directly.
	if opts.Budget.ProposalRetries < 1 {
		opts.Budget.ProposalRetries = 2
	}
	switch variant {
	case VariantNative:
		return &nativeEngine{opts: opts}, nil
	case VariantMiddleware:
		return &middlewareEngine{opts: opts}, nil
	default:
		return nil, errors.New(errors.CodeFatalConfig,
			fmt.Sprintf("unknown engine variant %q", variant), nil)
	}
}

func newRun(task string, variant Variant, budget Budget) *TaskRun {
	return &TaskRun{
		ID:        uuid.NewString(),
		Task:      task,
		Engine:    variant,
		Status:    StatusPlanning,
		StartedAt: time.Now().UTC(),
		Budget:    budget,
	}
}

func finishRun(run *TaskRun, status RunStatus, reason string) {
	run.Status = status
	run.Reason = reason
	run.FinishedAt = time.Now().UTC()
}
