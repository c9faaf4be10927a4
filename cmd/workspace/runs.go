// Copyright 2026 © The Workspace Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/tiangong-ai/workspace/pkg/config"
	"github.com/tiangong-ai/workspace/pkg/engine"
	"github.com/tiangong-ai/workspace/pkg/store"
)

func runRuns(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("runs requires a subcommand: list, show"))
	}
	sub := args[0]

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatal(err)
	}
	defer st.Close()

	switch sub {
	case "list":
		runsList(ctx, global, st, args[1:])
	case "show":
		runsShow(ctx, global, st, args[1:])
	default:
		fatal(fmt.Errorf("unknown runs subcommand %q", sub))
	}
}

func runsList(ctx context.Context, global globalFlags, st *store.Store, args []string) {
	cmd := flag.NewFlagSet("runs list", flag.ExitOnError)
	status := cmd.String("status", "", "Filter by status (done, failed, ...)")
	limit := cmd.Int("limit", 20, "Maximum runs to list")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	summaries, err := st.ListRuns(ctx, store.Filter{
		Status: engine.RunStatus(*status),
		Limit:  *limit,
	})
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		data, err := marshalIndent(summaries)
		if err != nil {
			fatal(err)
		}
		fmt.Println(data)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tENGINE\tSTARTED\tTASK")
	for _, s := range summaries {
		task := s.Task
		if len(task) > 60 {
			task = task[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Status, s.Engine, s.StartedAt.Format("2006-01-02 15:04:05"), task)
	}
	w.Flush()
}

func runsShow(ctx context.Context, global globalFlags, st *store.Store, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("runs show requires exactly one run id"))
	}

	run, err := st.GetRun(ctx, args[0])
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		data, err := marshalIndent(run)
		if err != nil {
			fatal(err)
		}
		fmt.Println(data)
		return
	}
	printRun(run)
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
