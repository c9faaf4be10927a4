// Copyright 2026 © The Workspace Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultConfig mirrors the defaults applied by config.Load so that a
// generated file round-trips to the same effective configuration.
func defaultConfig() map[string]any {
	return map[string]any{
		"log": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"telemetry": map[string]any{
			"exporter": "none",
		},
		"llm": map[string]any{
			"default": "ollama",
			"model":   "qwen3:8b",
			"timeout": "120s",
			"providers": map[string]any{
				"ollama": map[string]any{
					"type":     "ollama",
					"base_url": "http://localhost:11434",
				},
			},
			"retry": map[string]any{
				"max_attempts":  3,
				"initial_delay": "100ms",
				"max_delay":     "10s",
			},
		},
		"engine": map[string]any{
			"variant":          "native",
			"max_steps":        10,
			"max_duration":     "10m",
			"proposal_retries": 2,
		},
		"executor": map[string]any{
			"allow_list":   []string{"ls", "cat", "grep", "find", "head", "tail", "wc", "echo", "pwd"},
			"timeout":      "30s",
			"output_limit": 65536,
			"interpreter":  "python3",
		},
		"services": map[string]any{
			"tavily": map[string]any{
				"enabled":  false,
				"endpoint": "",
				"api_key":  "",
			},
			"neo4j": map[string]any{
				"enabled":  false,
				"uri":      "bolt://localhost:7687",
				"username": "neo4j",
				"database": "neo4j",
			},
			"crossref": map[string]any{
				"base_url": "https://api.crossref.org",
			},
			"openalex": map[string]any{
				"base_url": "https://api.openalex.org",
			},
			"embeddings": map[string]any{
				"base_url": "",
				"model":    "nomic-embed-text",
			},
			"knowledge": map[string]any{
				"enabled":     false,
				"qdrant_addr": "localhost:6334",
				"collection":  "workspace",
				"top_k":       5,
			},
		},
		"store": map[string]any{
			"path": "workspace.db",
		},
	}
}

func runConfig(global globalFlags, args []string) {
	if len(args) == 0 || args[0] != "init" {
		fatal(fmt.Errorf("config requires the init subcommand"))
	}

	cmd := flag.NewFlagSet("config init", flag.ExitOnError)
	out := cmd.String("o", "workspace.yaml", "Output path for the generated config")
	force := cmd.Bool("force", false, "Overwrite an existing file")
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err)
	}

	if !*force {
		if _, err := os.Stat(*out); err == nil {
			fatal(fmt.Errorf("%s already exists (use -force to overwrite)", *out))
		}
	}

	data, err := yaml.Marshal(defaultConfig())
	if err != nil {
		fatal(err)
	}
	header := []byte("# Workspace configuration. Values here override built-in defaults;\n" +
		"# environment variables with the TIANGONG_ prefix override both.\n")
	if err := os.WriteFile(*out, append(header, data...), 0o644); err != nil {
		fatal(err)
	}
	fmt.Printf("wrote %s\n", *out)
}
