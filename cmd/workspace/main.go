// Copyright 2026 © The Workspace Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tiangong-ai/workspace/pkg/config"
	"github.com/tiangong-ai/workspace/pkg/telemetry"
)

const version = "1.0.0"

type globalFlags struct {
	ConfigPath string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cmd := args[0]

	// config init must work without an existing (or valid) config file.
	if cmd == "config" {
		runConfig(global, args[1:])
		return
	}
	if cmd == "help" {
		printUsage()
		return
	}
	if cmd == "version" {
		fmt.Println("workspace " + version)
		return
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}
	setupLogging(cfg)

	shutdown, err := setupTelemetry(cfg)
	if err != nil {
		fatal(err)
	}
	defer shutdown(context.Background())

	switch cmd {
	case "run":
		runRun(ctx, global, cfg, args[1:])
	case "research":
		runResearch(ctx, global, cfg, args[1:])
	case "tools":
		runTools(ctx, global, cfg, args[1:])
	case "exec":
		runExec(ctx, global, cfg, args[1:])
	case "runs":
		runRuns(ctx, global, cfg, args[1:])
	default:
		fatal(fmt.Errorf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		ConfigPath: os.Getenv("TIANGONG_CONFIG"),
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func setupLogging(cfg *config.Config) {
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

func setupTelemetry(cfg *config.Config) (telemetry.ShutdownFunc, error) {
	if cfg.Telemetry.Exporter == "none" {
		return func(context.Context) error { return nil }, nil
	}
	return telemetry.InitWithConfig("tiangong-workspace", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
}

func printUsage() {
	fmt.Print(`workspace - agent task orchestration

Usage:
  workspace [global flags] <command> [args]

Commands:
  run         Run a task through the planning engine
  research    Run a deep research task
  exec        Execute a shell command or code snippet directly
  tools       List registered capabilities
  runs        Inspect stored task runs (list, show)
  config      Manage configuration (init)
  version     Print the version
  help        Show this help

Global flags:
  --config PATH   Config file (or TIANGONG_CONFIG)
  --json          Machine-readable output
`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
