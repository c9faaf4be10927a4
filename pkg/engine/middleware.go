package engine

import (
	"context"
	"encoding/json"
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

// middlewareEngine delegates tool selection to the provider's tool-calling
// surface. Each run gets a private scratchpad exposed as extra tools, so the
// model can keep working notes and a task list without touching external
// state.
type middlewareEngine struct {
	opts Options
}

const middlewareSystemPrompt = `You are a task execution agent. Use the
available tools to complete the user's task. Keep working notes with the
scratch_* tools and track subtasks with the task_* tools. When the task is
complete, reply with the final answer as plain text and no tool calls.`

func (e *middlewareEngine) Run(ctx context.Context, task string) (*TaskRun, error) {
	if task == "" {
		return nil, errors.New(errors.CodeInvalidInput, "task must not be empty", nil)
	}
	run := newRun(task, VariantMiddleware, e.opts.Budget)
	pad := NewScratchpad()

	ctx, cancel := context.WithTimeout(ctx, e.opts.Budget.MaxDuration)
	defer cancel()

	tracer := otel.Tracer("workspace/engine")
	ctx, span := tracer.Start(ctx, "engine.run",
		trace.WithAttributes(telemetry.RunAttributes(run.ID, string(VariantMiddleware), e.opts.Budget.MaxSteps)...))
	defer span.End()

	tools := e.toolCatalog()
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: middlewareSystemPrompt},
		{Role: llm.RoleUser, Content: task},
	}

	dispatched := 0
	for {
		if err := ctx.Err(); err != nil {
			e.fail(ctx, run, span, "time budget exceeded")
			return run, nil
		}

		run.Status = StatusPlanning
		resp, err := e.opts.Router.Route(ctx, router.Request{
			Purpose:     e.opts.Purpose,
			Messages:    messages,
			Tools:       tools,
			Temperature: e.opts.Temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				e.fail(ctx, run, span, "time budget exceeded")
				return run, nil
			}
			e.fail(ctx, run, span, fmt.Sprintf("planning call failed: %v", err))
			return run, nil
		}

		if len(resp.ToolCalls) == 0 {
			run.FinalAnswer = resp.Content
			finishRun(run, StatusDone, "")
			span.SetAttributes(attribute.String(telemetry.AttrRunStatus, string(StatusDone)))
			return run, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		exhausted := false
		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				e.fail(ctx, run, span, "time budget exceeded")
				return run, nil
			}
			if exhausted || dispatched >= e.opts.Budget.MaxSteps {
				exhausted = true
				messages = append(messages, toolMessage(call.ID, `{"error": "step budget exhausted"}`))
				continue
			}

			run.Status = StatusDispatching
			name := call.Function.Name
			args := map[string]any{}
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					messages = append(messages, toolMessage(call.ID, fmt.Sprintf(`{"error": "malformed arguments: %v"}`, err)))
					continue
				}
			}

			start := time.Now()
			payload, stepErr, fatal := e.dispatch(ctx, pad, name, args, dispatched)
			step := Step{
				Index:      dispatched,
				Capability: name,
				Args:       args,
				Latency:    time.Since(start),
			}
			if stepErr != "" {
				step.Error = stepErr
			} else {
				step.Result = json.RawMessage(payload)
			}
			run.Steps = append(run.Steps, step)
			dispatched++

			if fatal {
				e.fail(ctx, run, span, fmt.Sprintf("mutating capability %q failed: %s", name, stepErr))
				return run, nil
			}

			run.Status = StatusObserving
			messages = append(messages, toolMessage(call.ID, payload))
		}

		if exhausted {
			// Step budget exhausted: ask for a best-effort answer from the
			// tool results so far.
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
	}
}

func (e *middlewareEngine) synthesize(ctx context.Context, messages []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "The step budget is exhausted. Summarize the best available answer from the tool results so far as plain text.",
	})
	resp, err := e.opts.Router.Route(ctx, router.Request{
		Purpose:     e.opts.Purpose,
		Messages:    messages,
		Temperature: e.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// dispatch routes a tool call either to the run's scratchpad or to the
// capability registry. The returned payload is the JSON observation for the
// model; fatal marks a failed external mutation that must end the run.
func (e *middlewareEngine) dispatch(ctx context.Context, pad *Scratchpad, name string, args map[string]any, index int) (payload string, stepErr string, fatal bool) {
	if result, handled := dispatchScratch(pad, name, args); handled {
		data, err := json.Marshal(result)
		if err != nil {
			return `{"error": "encoding scratch result"}`, err.Error(), false
		}
		return string(data), "", false
	}

	sideEffect := ""
	if d, err := e.opts.Registry.Resolve(name); err == nil {
		sideEffect = string(d.SideEffect)
	}
	ctx, span := otel.Tracer("workspace/engine").Start(ctx, "engine.step",
		trace.WithAttributes(telemetry.CapabilityAttributes(name, sideEffect, index)...))
	defer span.End()

	start := time.Now()
	env := e.opts.Registry.Invoke(ctx, name, args)
	span.SetAttributes(
		attribute.String(telemetry.AttrCapabilityStatus, string(env.Status)),
		attribute.Int64(telemetry.AttrCapabilityDurMs, time.Since(start).Milliseconds()),
		attribute.Int(telemetry.AttrStepRetries, env.Metadata.Retries),
	)
	data, err := env.ToJSON()
	if err != nil {
		return `{"error": "encoding observation"}`, err.Error(), false
	}
	if env.IsOK() {
		return string(data), "", false
	}

	desc, resolveErr := e.opts.Registry.Resolve(name)
	if resolveErr == nil && desc.SideEffect == capability.MutatesExternal {
		return string(data), env.Error.Message, true
	}
	slog.WarnContext(ctx, "tool call failed",
		slog.String("capability", name),
		slog.String("error", env.Error.Message),
	)
	return string(data), env.Error.Message, false
}

func toolMessage(callID, content string) llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: callID, Content: content}
}

func (e *middlewareEngine) fail(ctx context.Context, run *TaskRun, span trace.Span, reason string) {
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

// toolCatalog renders registry capabilities plus the scratchpad surface as
// provider tools.
func (e *middlewareEngine) toolCatalog() []llm.Tool {
	var tools []llm.Tool
	for _, d := range e.opts.Registry.List(capability.Filter{EnabledOnly: true}) {
		tools = append(tools, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Input.JSONSchema(),
			},
		})
	}
	return append(tools, scratchTools()...)
}

// dispatchScratch handles the built-in scratchpad tools. handled is false
// when name is not a scratch tool.
func dispatchScratch(pad *Scratchpad, name string, args map[string]any) (any, bool) {
	switch name {
	case "scratch_write":
		key, _ := args["key"].(string)
		value, _ := args["value"].(string)
		if key == "" {
			return map[string]any{"error": "key is required"}, true
		}
		version := pad.Write(key, value)
		return map[string]any{"key": key, "version": version}, true
	case "scratch_read":
		key, _ := args["key"].(string)
		version := 0
		if v, ok := args["version"].(float64); ok {
			version = int(v)
		}
		value, got, err := pad.Read(key, version)
		if err != nil {
			return map[string]any{"error": err.Error()}, true
		}
		return map[string]any{"key": key, "value": value, "version": got}, true
	case "task_add":
		desc, _ := args["description"].(string)
		if desc == "" {
			return map[string]any{"error": "description is required"}, true
		}
		id := pad.AddTask(desc)
		return map[string]any{"id": id}, true
	case "task_complete":
		id, ok := args["id"].(float64)
		if !ok {
			return map[string]any{"error": "id is required"}, true
		}
		if err := pad.CompleteTask(int(id)); err != nil {
			return map[string]any{"error": err.Error()}, true
		}
		return map[string]any{"id": int(id), "done": true}, true
	case "task_list":
		return map[string]any{"tasks": pad.Tasks()}, true
	default:
		return nil, false
	}
}

func scratchTools() []llm.Tool {
	obj := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "number"}

	return []llm.Tool{
		{Type: llm.ToolTypeFunction, Function: llm.FunctionDef{
			Name:        "scratch_write",
			Description: "Store a working note under a key. Returns the new version.",
			Parameters:  obj(map[string]any{"key": str, "value": str}, "key", "value"),
		}},
		{Type: llm.ToolTypeFunction, Function: llm.FunctionDef{
			Name:        "scratch_read",
			Description: "Read a working note. Omit version for the latest.",
			Parameters:  obj(map[string]any{"key": str, "version": num}, "key"),
		}},
		{Type: llm.ToolTypeFunction, Function: llm.FunctionDef{
			Name:        "task_add",
			Description: "Add a subtask to the working task list.",
			Parameters:  obj(map[string]any{"description": str}, "description"),
		}},
		{Type: llm.ToolTypeFunction, Function: llm.FunctionDef{
			Name:        "task_complete",
			Description: "Mark a subtask done.",
			Parameters:  obj(map[string]any{"id": num}, "id"),
		}},
		{Type: llm.ToolTypeFunction, Function: llm.FunctionDef{
			Name:        "task_list",
			Description: "List the working task list.",
			Parameters:  obj(map[string]any{}),
		}},
	}
}
