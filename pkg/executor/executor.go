// Package executor runs shell commands and interpreter code under an
// allow-list, a hard wall-clock timeout and an output cap. Denials, timeouts
// and non-zero exits are reported as data in the Result, not as Go errors;
// errors are reserved for faults in the executor itself.
package executor

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/telemetry"
)

// Status classifies the outcome of one execution.
type Status string

const (
	StatusOK      Status = "ok"
	StatusDenied  Status = "denied"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Result is the outcome of one execution. Stdout and Stderr hold whatever
// was captured before the cap or deadline, so a timed-out run still carries
// partial output.
type Result struct {
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Truncated bool          `json:"truncated"`
	Elapsed   time.Duration `json:"elapsed"`
	Reason    string        `json:"reason,omitempty"`
}

// Options configures an executor.
type Options struct {
	// AllowList holds the permitted leading tokens for shell commands.
	AllowList []string
	// Timeout bounds one execution's wall clock.
	Timeout time.Duration
	// OutputLimit caps captured bytes per stream.
	OutputLimit int
	// Interpreter is the binary used for code execution, e.g. python3.
	Interpreter string
	// Workdir, when set, is the parent directory for per-run scratch
	// directories. Empty uses the system temp dir.
	Workdir string
}

// Shell executes allow-listed shell commands.
type Shell struct {
	opts  Options
	allow map[string]struct{}
}

// NewShell builds a shell executor. The allow list must not be empty.
func NewShell(opts Options) (*Shell, error) {
	if len(opts.AllowList) == 0 {
		return nil, errors.New(errors.CodeFatalConfig, "shell executor requires a non-empty allow list", nil)
	}
	if opts.Timeout <= 0 {
		return nil, errors.New(errors.CodeFatalConfig, "shell executor requires a positive timeout", nil)
	}
	if opts.OutputLimit <= 0 {
		return nil, errors.New(errors.CodeFatalConfig, "shell executor requires a positive output limit", nil)
	}
	allow := make(map[string]struct{}, len(opts.AllowList))
	for _, cmd := range opts.AllowList {
		allow[cmd] = struct{}{}
	}
	return &Shell{opts: opts, allow: allow}, nil
}

// Run executes the command line if its leading token is allow-listed. A
// denied command never spawns a process.
func (s *Shell) Run(ctx context.Context, command string) (*Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New(errors.CodeInvalidInput, "command must not be empty", nil)
	}
	head := leadingToken(command)
	if _, ok := s.allow[head]; !ok {
		slog.WarnContext(ctx, "shell command denied",
			slog.String(telemetry.AttrExecCommand, command),
			slog.Bool(telemetry.AttrExecAllowed, false),
			slog.String(telemetry.AttrExecStatus, string(StatusDenied)),
		)
		return &Result{
			Status: StatusDenied,
			Reason: fmt.Sprintf("command %q is not in the allow list", head),
		}, nil
	}
	dir, err := os.MkdirTemp(s.opts.Workdir, "workspace-exec-")
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "creating scratch directory", err)
	}
	defer os.RemoveAll(dir)

	opts := s.opts
	opts.Workdir = dir
	return runProcess(ctx, opts, command, "sh", "-c", command)
}

// leadingToken returns the first whitespace-delimited token with any path
// prefix stripped, so /bin/ls and ls resolve to the same allow-list entry.
func leadingToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// Code executes snippets through a configured interpreter.
type Code struct {
	opts Options
}

// NewCode builds a code executor.
func NewCode(opts Options) (*Code, error) {
	if opts.Interpreter == "" {
		return nil, errors.New(errors.CodeFatalConfig, "code executor requires an interpreter", nil)
	}
	if opts.Timeout <= 0 {
		return nil, errors.New(errors.CodeFatalConfig, "code executor requires a positive timeout", nil)
	}
	if opts.OutputLimit <= 0 {
		return nil, errors.New(errors.CodeFatalConfig, "code executor requires a positive output limit", nil)
	}
	return &Code{opts: opts}, nil
}

// Run writes the snippet to a file in a fresh scratch directory and executes
// it through the interpreter.
func (c *Code) Run(ctx context.Context, code string) (*Result, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "code must not be empty", nil)
	}
	dir, err := os.MkdirTemp(c.opts.Workdir, "workspace-exec-")
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "creating scratch directory", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "snippet")
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return nil, errors.New(errors.CodeInternal, "writing snippet", err)
	}

	opts := c.opts
	opts.Workdir = dir
	return runProcess(ctx, opts, code, c.opts.Interpreter, script)
}

// cappedBuffer collects up to limit bytes and records whether more arrived.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// runProcess spawns the process and classifies the outcome. command is the
// audited text (the command line or the snippet), kept separate from the
// spawned argv so the audit record always carries what the caller asked for.
func runProcess(ctx context.Context, opts Options, command, name string, args ...string) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: opts.OutputLimit}
	stderr := &cappedBuffer{limit: opts.OutputLimit}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if opts.Workdir != "" {
		cmd.Dir = opts.Workdir
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Elapsed:   elapsed,
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		res.Status = StatusTimeout
		res.ExitCode = -1
		res.Reason = fmt.Sprintf("execution exceeded %v", opts.Timeout)
	case ctx.Err() != nil:
		// Caller cancellation, not an executor outcome.
		return nil, errors.New(errors.CodeTimeout, "execution canceled", ctx.Err())
	case runErr == nil:
		res.Status = StatusOK
	default:
		var exitErr *exec.ExitError
		if stderrors.As(runErr, &exitErr) {
			res.Status = StatusError
			res.ExitCode = exitErr.ExitCode()
			res.Reason = fmt.Sprintf("exit code %d", exitErr.ExitCode())
		} else {
			// Spawn failure (binary missing, permission).
			res.Status = StatusError
			res.ExitCode = -1
			res.Reason = runErr.Error()
		}
	}

	slog.DebugContext(ctx, "process executed",
		slog.String(telemetry.AttrExecCommand, command),
		slog.Bool(telemetry.AttrExecAllowed, true),
		slog.String(telemetry.AttrExecStatus, string(res.Status)),
		slog.String("binary", name),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("elapsed", elapsed),
		slog.Bool("truncated", res.Truncated),
	)
	return res, nil
}
