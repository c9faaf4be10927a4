// Copyright 2026 © The Workspace Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tiangong-ai/workspace/pkg/config"
	"github.com/tiangong-ai/workspace/pkg/executor"
)

// runExec runs a shell command or code snippet directly, bypassing the
// planner and the registry.
func runExec(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("exec", flag.ExitOnError)
	command := cmd.String("c", "", "Shell command to run")
	code := cmd.String("code", "", "Code snippet to run (use - for stdin)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if (*command == "") == (*code == "") {
		fatal(fmt.Errorf("exec requires exactly one of -c or -code"))
	}

	opts := executor.Options{
		AllowList:   cfg.Executor.AllowList,
		Timeout:     cfg.Executor.Timeout,
		OutputLimit: cfg.Executor.OutputLimit,
		Interpreter: cfg.Executor.Interpreter,
		Workdir:     cfg.Executor.Workdir,
	}

	var (
		result *executor.Result
		err    error
	)
	if *command != "" {
		shell, buildErr := executor.NewShell(opts)
		if buildErr != nil {
			fatal(buildErr)
		}
		result, err = shell.Run(ctx, *command)
	} else {
		snippet := *code
		if snippet == "-" {
			data, readErr := io.ReadAll(os.Stdin)
			if readErr != nil {
				fatal(readErr)
			}
			snippet = string(data)
		}
		runner, buildErr := executor.NewCode(opts)
		if buildErr != nil {
			fatal(buildErr)
		}
		result, err = runner.Run(ctx, snippet)
	}
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		data, jsonErr := marshalIndent(result)
		if jsonErr != nil {
			fatal(jsonErr)
		}
		fmt.Println(data)
	} else {
		if result.Stdout != "" {
			fmt.Print(result.Stdout)
		}
		if result.Stderr != "" {
			fmt.Fprint(os.Stderr, result.Stderr)
		}
		if result.Status != executor.StatusOK {
			fmt.Fprintf(os.Stderr, "status: %s", result.Status)
			if result.Reason != "" {
				fmt.Fprintf(os.Stderr, " (%s)", result.Reason)
			}
			fmt.Fprintln(os.Stderr)
		}
	}

	if result.Status != executor.StatusOK {
		os.Exit(1)
	}
}
