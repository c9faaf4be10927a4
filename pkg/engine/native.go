package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/llm"
	"github.com/tiangong-ai/workspace/pkg/router"
	"github.com/tiangong-ai/workspace/pkg/telemetry"
)

// nativeEngine drives an explicit propose/dispatch/observe cycle. Planning
// calls are pinned to temperature zero, so a run is a pure function of the
// task, the capability catalog and the provider's outputs.
type nativeEngine struct {
	opts Options
}

func (e *nativeEngine) Run(ctx context.Context, task string) (*TaskRun, error) {
	if task == "" {
		return nil, errors.New(errors.CodeInvalidInput, "task must not be empty", nil)
	}
	run := newRun(task, VariantNative, e.opts.Budget)

	ctx, cancel := context.WithTimeout(ctx, e.opts.Budget.MaxDuration)
	defer cancel()

	tracer := otel.Tracer("workspace/engine")
	ctx, span := tracer.Start(ctx, "engine.run",
		trace.WithAttributes(telemetry.RunAttributes(run.ID, string(VariantNative), e.opts.Budget.MaxSteps)...))
	defer span.End()

	catalog := e.opts.Registry.List(capability.Filter{EnabledOnly: true})
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: buildSystemPrompt(catalog)},
		{Role: llm.RoleUser, Content: task},
	}

	dispatched := 0
	invalidAtStep := 0

	for dispatched < e.opts.Budget.MaxSteps {
		if err := ctx.Err(); err != nil {
			e.fail(ctx, run, span, "time budget exceeded")
			return run, nil
		}

		run.Status = StatusPlanning
		resp, err := e.opts.Router.Route(ctx, router.Request{
			Purpose:     e.opts.Purpose,
			Messages:    messages,
			Temperature: 0,
		})
		if err != nil {
			if ctx.Err() != nil {
				e.fail(ctx, run, span, "time budget exceeded")
				return run, nil
			}
			e.fail(ctx, run, span, fmt.Sprintf("planning call failed: %v", err))
			return run, nil
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		prop, parseErr := parseProposal(resp.Content)
		if parseErr == nil && prop == nil {
			// Plain text from the model closes the run.
			run.FinalAnswer = resp.Content
			finishRun(run, StatusDone, "")
			span.SetAttributes(attribute.String(telemetry.AttrRunStatus, string(StatusDone)))
			return run, nil
		}

		reason := ""
		switch {
		case parseErr != nil:
			reason = parseErr.Error()
		case prop.FinalResponse != "":
			run.FinalAnswer = prop.FinalResponse
			finishRun(run, StatusDone, "")
			span.SetAttributes(attribute.String(telemetry.AttrRunStatus, string(StatusDone)))
			return run, nil
		default:
			desc, err := e.opts.Registry.Resolve(prop.Action)
			if err != nil {
				reason = fmt.Sprintf("unknown capability %q", prop.Action)
			} else if _, err := e.opts.Registry.ValidateInput(desc, prop.Input); err != nil {
				reason = fmt.Sprintf("invalid arguments for %q: %v", prop.Action, err)
			}
		}

		if reason != "" {
			invalidAtStep++
			run.Steps = append(run.Steps, Step{
				Index:   dispatched,
				Thought: propThought(prop),
				Error:   reason,
			})
			slog.WarnContext(ctx, "invalid proposal",
				slog.String("run_id", run.ID),
				slog.Int("step", dispatched),
				slog.String("reason", reason),
			)
			if invalidAtStep >= e.opts.Budget.ProposalRetries {
				e.fail(ctx, run, span, "repeated invalid proposal")
				return run, nil
			}
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: "Your last response was not a valid proposal: " + reason + ". Respond with a single JSON object as instructed.",
			})
			continue
		}

		if err := ctx.Err(); err != nil {
			e.fail(ctx, run, span, "time budget exceeded")
			return run, nil
		}

		run.Status = StatusDispatching
		desc, _ := e.opts.Registry.Resolve(prop.Action)
		start := time.Now()
		stepCtx, stepSpan := tracer.Start(ctx, "engine.step",
			trace.WithAttributes(telemetry.CapabilityAttributes(prop.Action, string(desc.SideEffect), dispatched)...))
		env := e.opts.Registry.Invoke(stepCtx, prop.Action, prop.Input)
		stepSpan.SetAttributes(
			attribute.String(telemetry.AttrCapabilityStatus, string(env.Status)),
			attribute.Int64(telemetry.AttrCapabilityDurMs, time.Since(start).Milliseconds()),
			attribute.Int(telemetry.AttrStepRetries, env.Metadata.Retries),
		)
		stepSpan.End()

		step := Step{
			Index:      dispatched,
			Thought:    prop.Thought,
			Capability: prop.Action,
			Args:       prop.Input,
			Latency:    time.Since(start),
			Retries:    env.Metadata.Retries,
		}
		if env.IsOK() {
			step.Result = env.Data
		} else {
			step.Error = env.Error.Message
		}
		run.Steps = append(run.Steps, step)
		dispatched++
		invalidAtStep = 0

		if !env.IsOK() && desc.SideEffect == capability.MutatesExternal {
			// An external mutation may have partially applied. Retrying
			// or planning around it is not safe.
			e.fail(ctx, run, span, fmt.Sprintf("mutating capability %q failed: %s", prop.Action, env.Error.Message))
			return run, nil
		}

		run.Status = StatusObserving
		payload, err := env.ToJSON()
		if err != nil {
			e.fail(ctx, run, span, fmt.Sprintf("encoding observation: %v", err))
			return run, nil
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: renderObservation(payload)})
	}

	// Step budget exhausted: ask for a best-effort answer from what was
	// observed so far.
	answer, err := e.synthesize(ctx, messages)
	if err != nil {
		e.fail(ctx, run, span, "step budget exhausted")
		return run, nil
	}
	run.FinalAnswer = answer
	finishRun(run, StatusDone, "step budget exhausted")
	span.SetAttributes(attribute.String(telemetry.AttrRunStatus, string(StatusDone)))
	return run, nil
}

func (e *nativeEngine) synthesize(ctx context.Context, messages []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "The step budget is exhausted. Summarize the best available answer from the observations so far as plain text.",
	})
	resp, err := e.opts.Router.Route(ctx, router.Request{
		Purpose:     e.opts.Purpose,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return stripFences(resp.Content), nil
}

func (e *nativeEngine) fail(ctx context.Context, run *TaskRun, span trace.Span, reason string) {
	finishRun(run, StatusFailed, reason)
	span.SetAttributes(
		attribute.String(telemetry.AttrRunStatus, string(StatusFailed)),
		attribute.Int(telemetry.AttrRunSteps, len(run.Steps)),
	)
	slog.InfoContext(ctx, "run failed",
		slog.String("run_id", run.ID),
		slog.String("reason", reason),
		slog.Int("steps", len(run.Steps)),
	)
}

func propThought(p *proposal) string {
	if p == nil {
		return ""
	}
	return p.Thought
}
