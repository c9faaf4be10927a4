// Copyright 2026 © The Workspace Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tiangong-ai/workspace/pkg/config"
	"github.com/tiangong-ai/workspace/pkg/engine"
	"github.com/tiangong-ai/workspace/pkg/response"
	"github.com/tiangong-ai/workspace/pkg/router"
)

func runRun(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ExitOnError)
	task := cmd.String("task", "", "Task to run")
	variant := cmd.String("engine", "", "Engine variant: native|middleware (default from config)")
	maxSteps := cmd.Int("max-steps", 0, "Step budget override")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *task == "" && cmd.NArg() > 0 {
		*task = strings.Join(cmd.Args(), " ")
	}
	if *task == "" {
		fatal(fmt.Errorf("run requires -task"))
	}

	executeTask(ctx, global, cfg, *task, *variant, router.PurposeGeneral, *maxSteps)
}

func runResearch(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("research", flag.ExitOnError)
	query := cmd.String("query", "", "Research question")
	maxSteps := cmd.Int("max-steps", 0, "Step budget override")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *query == "" && cmd.NArg() > 0 {
		*query = strings.Join(cmd.Args(), " ")
	}
	if *query == "" {
		fatal(fmt.Errorf("research requires -query"))
	}

	task := "Research the following question thoroughly. Gather evidence from the " +
		"available sources, cross-check it, and produce a sourced answer.\n\nQuestion: " + *query
	executeTask(ctx, global, cfg, task, "", router.PurposeDeepResearch, *maxSteps)
}

func executeTask(ctx context.Context, global globalFlags, cfg *config.Config, task, variant string, purpose router.Purpose, maxSteps int) {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer rt.close(context.Background())

	eng, err := buildEngine(rt, cfg, variant, purpose, maxSteps)
	if err != nil {
		fatal(err)
	}

	run, err := eng.Run(ctx, task)
	meta := response.Metadata{TraceID: uuid.NewString(), Source: "engine"}
	if run != nil {
		meta.TraceID = run.ID
		meta.Elapsed = run.FinishedAt.Sub(run.StartedAt)
	}
	if err != nil {
		emitEnvelope(global, response.Err(err, meta))
		os.Exit(1)
	}

	if saveErr := rt.store.SaveRun(ctx, run); saveErr != nil {
		slog.Warn("persisting run", slog.String("error", saveErr.Error()))
	}

	if global.JSON {
		emitEnvelope(global, response.OK(run, meta))
		if run.Status == engine.StatusFailed {
			os.Exit(1)
		}
		return
	}

	printRun(run)
	if run.Status == engine.StatusFailed {
		os.Exit(1)
	}
}

func printRun(run *engine.TaskRun) {
	fmt.Printf("run %s (%s) %s\n", run.ID, run.Engine, run.Status)
	for _, step := range run.Steps {
		if step.Error != "" {
			fmt.Printf("  [%d] %s: error: %s\n", step.Index, stepLabel(step), step.Error)
			continue
		}
		fmt.Printf("  [%d] %s (%v)\n", step.Index, stepLabel(step), step.Latency.Round(time.Millisecond))
	}
	if run.Reason != "" {
		fmt.Println("reason:", run.Reason)
	}
	if run.FinalAnswer != "" {
		fmt.Println()
		fmt.Println(run.FinalAnswer)
	}
}

func stepLabel(step engine.Step) string {
	if step.Capability != "" {
		return step.Capability
	}
	return "proposal"
}

func emitEnvelope(global globalFlags, env response.Envelope) {
	data, err := env.ToJSON()
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(data))
}
