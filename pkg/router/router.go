// Package router provides a uniform call contract over multiple reasoning
// providers: explicit provider selection validated at construction, purpose
// based model routing, a per-call timeout, and bounded retry of transient
// provider faults.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/llm"
	"github.com/tiangong-ai/workspace/pkg/resilience"
	"github.com/tiangong-ai/workspace/pkg/telemetry"
)

// Purpose is a model selection hint mirroring how callers use the router.
type Purpose string

const (
	PurposeGeneral      Purpose = "general"
	PurposeDeepResearch Purpose = "deep_research"
	PurposeCreative     Purpose = "creative"
)

// Options configures a Router.
type Options struct {
	// DefaultProvider names the provider used when requests carry no hint.
	DefaultProvider string
	// DefaultModel is the model used when neither request nor purpose map
	// selects one.
	DefaultModel string
	// Models maps purposes to model names.
	Models map[Purpose]string
	// Retry bounds transient-fault retries. Zero value uses the package
	// default.
	Retry resilience.RetryConfig
	// CallTimeout bounds one provider call including its internal work.
	// Zero disables the per-call bound.
	CallTimeout time.Duration
}

// Request describes one routed call.
type Request struct {
	// Provider optionally pins a registered provider by name.
	Provider string
	// Purpose selects a model when Model is empty.
	Purpose Purpose
	// Model overrides any purpose mapping.
	Model       string
	Messages    []llm.Message
	Tools       []llm.Tool
	Temperature float64
}

// Router dispatches chat requests to named providers. Provider selection is
// explicit and validated at construction time, never discovered mid-run.
type Router struct {
	providers map[string]llm.Provider
	opts      Options
}

// New builds a Router. It fails fast with a configuration error if the
// default provider is unknown or no providers are registered.
func New(providers map[string]llm.Provider, opts Options) (*Router, error) {
	if len(providers) == 0 {
		return nil, errors.New(errors.CodeFatalConfig, "no reasoning providers configured", nil)
	}
	if opts.DefaultProvider == "" {
		return nil, errors.New(errors.CodeFatalConfig, "default provider is required", nil)
	}
	if _, ok := providers[opts.DefaultProvider]; !ok {
		return nil, errors.New(errors.CodeFatalConfig,
			fmt.Sprintf("default provider %q is not registered (have: %v)",
				opts.DefaultProvider, providerNames(providers)), nil)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	registered := make(map[string]llm.Provider, len(providers))
	for name, p := range providers {
		registered[name] = p
	}
	return &Router{providers: registered, opts: opts}, nil
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	return providerNames(r.providers)
}

// Route dispatches the request to the hinted (or default) provider, retrying
// transient faults with bounded exponential backoff. Non-transient provider
// faults propagate immediately.
func (r *Router) Route(ctx context.Context, req Request) (*llm.ChatResponse, error) {
	name := req.Provider
	if name == "" {
		name = r.opts.DefaultProvider
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("unknown reasoning provider %q", name), nil)
	}

	chatReq := llm.ChatRequest{
		Model:       r.modelFor(req),
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
	}

	ctx, span := otel.Tracer("workspace/router").Start(ctx, "llm.chat",
		trace.WithAttributes(
			attribute.String(telemetry.AttrLLMProvider, name),
			attribute.String(telemetry.AttrLLMModel, chatReq.Model),
		))
	defer span.End()

	var resp *llm.ChatResponse
	retries, err := r.opts.Retry.DoWithCount(ctx, func() error {
		callCtx := ctx
		if r.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
			defer cancel()
		}
		var chatErr error
		resp, chatErr = provider.Chat(callCtx, chatReq)
		return chatErr
	})
	if retries > 0 {
		slog.DebugContext(ctx, "model call retried",
			slog.String("provider", name),
			slog.Int("retries", retries),
			slog.Bool("ok", err == nil),
		)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int(telemetry.AttrLLMTokensInput, resp.Usage.PromptTokens),
		attribute.Int(telemetry.AttrLLMTokensOutput, resp.Usage.CompletionTokens),
		attribute.Int(telemetry.AttrLLMTokensTotal, resp.Usage.TotalTokens),
	)
	return resp, nil
}

func (r *Router) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	if req.Purpose != "" {
		if model, ok := r.opts.Models[req.Purpose]; ok {
			return model
		}
	}
	return r.opts.DefaultModel
}

func providerNames(providers map[string]llm.Provider) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
