package executor

import (
	"context"

	"github.com/tiangong-ai/workspace/pkg/capability"
)

// ShellCapability exposes the shell executor as the run_shell capability.
func ShellCapability(sh *Shell) capability.Descriptor {
	return capability.Descriptor{
		Name:        "run_shell",
		Description: "Execute an allow-listed shell command and return its captured output.",
		SideEffect:  capability.ExecutesCode,
		Enabled:     true,
		Input: capability.Schema{
			Args: map[string]capability.ArgDef{
				"command": {
					Type:        "string",
					Description: "Command line to execute. The leading token must be allow-listed.",
					Required:    true,
				},
			},
		},
		Output: capability.Schema{
			Args: map[string]capability.ArgDef{
				"status":    {Type: "string", Required: true},
				"exit_code": {Type: "number", Required: true},
				"stdout":    {Type: "string", Required: true},
				"stderr":    {Type: "string", Required: true},
				"truncated": {Type: "boolean", Required: true},
			},
			AllowExtra: true,
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			command, _ := args["command"].(string)
			return sh.Run(ctx, command)
		},
	}
}

// CodeCapability exposes the interpreter executor as the run_python
// capability.
func CodeCapability(code *Code) capability.Descriptor {
	return capability.Descriptor{
		Name:        "run_python",
		Description: "Execute a Python snippet in an isolated scratch directory and return its captured output.",
		SideEffect:  capability.ExecutesCode,
		Enabled:     true,
		Input: capability.Schema{
			Args: map[string]capability.ArgDef{
				"code": {
					Type:        "string",
					Description: "Source code to run through the configured interpreter.",
					Required:    true,
				},
			},
		},
		Output: capability.Schema{
			Args: map[string]capability.ArgDef{
				"status":    {Type: "string", Required: true},
				"exit_code": {Type: "number", Required: true},
				"stdout":    {Type: "string", Required: true},
				"stderr":    {Type: "string", Required: true},
				"truncated": {Type: "boolean", Required: true},
			},
			AllowExtra: true,
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			snippet, _ := args["code"].(string)
			return code.Run(ctx, snippet)
		},
	}
}
