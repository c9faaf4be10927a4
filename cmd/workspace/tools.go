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

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/config"
)

func runTools(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("tools", flag.ExitOnError)
	sideEffect := cmd.String("side-effect", "", "Filter by side effect class")
	all := cmd.Bool("all", false, "Include disabled capabilities")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer rt.close(context.Background())

	descriptors := rt.registry.List(capability.Filter{
		EnabledOnly: !*all,
		SideEffect:  capability.SideEffect(*sideEffect),
	})

	if global.JSON {
		type toolInfo struct {
			Name        string            `json:"name"`
			Description string            `json:"description"`
			SideEffect  string            `json:"side_effect"`
			Enabled     bool              `json:"enabled"`
			Input       capability.Schema `json:"input"`
		}
		out := make([]toolInfo, 0, len(descriptors))
		for _, d := range descriptors {
			out = append(out, toolInfo{
				Name:        d.Name,
				Description: d.Description,
				SideEffect:  string(d.SideEffect),
				Enabled:     d.Enabled,
				Input:       d.Input,
			})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(data))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIDE EFFECT\tDESCRIPTION")
	for _, d := range descriptors {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.SideEffect, d.Description)
	}
	w.Flush()
}
