// Copyright 2026 © The Workspace Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/config"
	"github.com/tiangong-ai/workspace/pkg/docs"
	"github.com/tiangong-ai/workspace/pkg/engine"
	"github.com/tiangong-ai/workspace/pkg/executor"
	"github.com/tiangong-ai/workspace/pkg/llm"
	"github.com/tiangong-ai/workspace/pkg/resilience"
	"github.com/tiangong-ai/workspace/pkg/router"
	"github.com/tiangong-ai/workspace/pkg/services"
	"github.com/tiangong-ai/workspace/pkg/store"
)

// runtime holds the wired collaborators for one CLI invocation.
type runtime struct {
	registry *capability.Registry
	router   *router.Router
	store    *store.Store
	tavily   *services.TavilyClient
	graph    *services.GraphService
}

// buildRuntime wires providers, capabilities and the task store from
// configuration. Optional services are registered only when enabled.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{
		registry: capability.NewRegistry(cfg.Executor.Timeout),
	}

	mr, err := buildRouter(cfg)
	if err != nil {
		return nil, err
	}
	rt.router = mr

	if err := registerExecutors(rt.registry, cfg); err != nil {
		return nil, err
	}
	if err := registerServices(ctx, rt, cfg); err != nil {
		return nil, err
	}

	drafter, err := docs.NewDrafter(mr)
	if err != nil {
		return nil, err
	}
	if err := rt.registry.Register(drafter.Capability()); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	rt.store = st
	return rt, nil
}

// close releases external connections. Errors are logged, not propagated;
// shutdown is best effort.
func (rt *runtime) close(ctx context.Context) {
	if rt.tavily != nil {
		if err := rt.tavily.Close(); err != nil {
			slog.Warn("closing tavily session", slog.String("error", err.Error()))
		}
	}
	if rt.graph != nil {
		if err := rt.graph.Close(ctx); err != nil {
			slog.Warn("closing neo4j driver", slog.String("error", err.Error()))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Warn("closing task store", slog.String("error", err.Error()))
		}
	}
}

func buildRouter(cfg *config.Config) (*router.Router, error) {
	providers := make(map[string]llm.Provider, len(cfg.LLM.Providers))
	for name, pc := range cfg.LLM.Providers {
		switch pc.Type {
		case "ollama":
			providers[name] = llm.NewOllama(pc.BaseURL)
		case "openai_compat":
			providers[name] = llm.NewOpenAICompat(pc.BaseURL, pc.APIKey)
		case "mock":
			providers[name] = &llm.MockProvider{Response: "mock response"}
		default:
			return nil, fmt.Errorf("unknown provider type %q for %q", pc.Type, name)
		}
	}

	purposes := make(map[router.Purpose]string, len(cfg.LLM.Purposes))
	for purpose, model := range cfg.LLM.Purposes {
		purposes[router.Purpose(purpose)] = model
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.LLM.Retry.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.LLM.Retry.MaxAttempts
	}
	if cfg.LLM.Retry.InitialDelay > 0 {
		retry.InitialDelay = cfg.LLM.Retry.InitialDelay
	}
	if cfg.LLM.Retry.MaxDelay > 0 {
		retry.MaxDelay = cfg.LLM.Retry.MaxDelay
	}

	return router.New(providers, router.Options{
		DefaultProvider: cfg.LLM.Default,
		DefaultModel:    defaultModel(cfg),
		Models:          purposes,
		Retry:           retry,
		CallTimeout:     cfg.LLM.Timeout,
	})
}

func defaultModel(cfg *config.Config) string {
	if pc, ok := cfg.LLM.Providers[cfg.LLM.Default]; ok && pc.Model != "" {
		return pc.Model
	}
	return cfg.LLM.Model
}

func registerExecutors(reg *capability.Registry, cfg *config.Config) error {
	opts := executor.Options{
		AllowList:   cfg.Executor.AllowList,
		Timeout:     cfg.Executor.Timeout,
		OutputLimit: cfg.Executor.OutputLimit,
		Interpreter: cfg.Executor.Interpreter,
		Workdir:     cfg.Executor.Workdir,
	}
	shell, err := executor.NewShell(opts)
	if err != nil {
		return err
	}
	if err := reg.Register(executor.ShellCapability(shell)); err != nil {
		return err
	}
	code, err := executor.NewCode(opts)
	if err != nil {
		return err
	}
	return reg.Register(executor.CodeCapability(code))
}

func registerServices(ctx context.Context, rt *runtime, cfg *config.Config) error {
	httpClient := services.NewHTTPClient(30*time.Second, resilience.DefaultRetryConfig(), "tiangong-workspace/"+version)

	crossref := services.NewCrossref(httpClient, cfg.Services.Crossref.BaseURL, cfg.Services.Crossref.Mailto)
	if err := rt.registry.Register(crossref.Capability()); err != nil {
		return err
	}

	openalex := services.NewOpenAlex(httpClient, cfg.Services.OpenAlex.BaseURL, cfg.Services.OpenAlex.Mailto)
	if err := rt.registry.Register(openalex.WorkCapability()); err != nil {
		return err
	}
	if err := rt.registry.Register(openalex.CitedByCapability()); err != nil {
		return err
	}

	if cfg.Services.Tavily.Enabled {
		tavily, err := services.ConnectTavily(ctx, cfg.Services.Tavily.Endpoint,
			cfg.Services.Tavily.APIKey, 30*time.Second, resilience.DefaultRetryConfig())
		if err != nil {
			return err
		}
		rt.tavily = tavily
		if err := rt.registry.Register(tavily.Capability()); err != nil {
			return err
		}
	}

	if cfg.Services.Neo4j.Enabled {
		graph, err := services.NewGraph(cfg.Services.Neo4j.URI,
			cfg.Services.Neo4j.Username, cfg.Services.Neo4j.Password, cfg.Services.Neo4j.Database)
		if err != nil {
			return err
		}
		rt.graph = graph
		if err := rt.registry.Register(graph.ReadCapability()); err != nil {
			return err
		}
		if err := rt.registry.Register(graph.WriteCapability()); err != nil {
			return err
		}
	}

	if cfg.Services.Knowledge.Enabled {
		embedder, err := services.NewEmbeddings(httpClient, cfg.Services.Embeddings.BaseURL,
			cfg.Services.Embeddings.APIKey, cfg.Services.Embeddings.Model)
		if err != nil {
			return err
		}
		knowledge, err := services.NewKnowledge(cfg.Services.Knowledge.QdrantAddr,
			embedder, cfg.Services.Knowledge.Collection, cfg.Services.Knowledge.TopK)
		if err != nil {
			return err
		}
		if err := rt.registry.Register(knowledge.Capability()); err != nil {
			return err
		}
	}

	return nil
}

func buildEngine(rt *runtime, cfg *config.Config, variant string, purpose router.Purpose, maxSteps int) (engine.Engine, error) {
	if variant == "" {
		variant = cfg.Engine.Variant
	}
	if maxSteps <= 0 {
		maxSteps = cfg.Engine.MaxSteps
	}
	return engine.New(engine.Variant(variant), engine.Options{
		Registry: rt.registry,
		Router:   rt.router,
		Purpose:  purpose,
		Budget: engine.Budget{
			MaxSteps:        maxSteps,
			MaxDuration:     cfg.Engine.MaxDuration,
			ProposalRetries: cfg.Engine.ProposalRetries,
		},
	})
}
