// Package command executes external programs with captured output and exit
// codes. Commands are argv lists, never shell strings, so user-controlled
// fields (domains, env vars, repository names) cannot inject into the
// invocation.
package command

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Command describes a single program invocation.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Stdin   string
}

// Result captures the outcome of an invocation. A non-zero exit code is
// surfaced through Error, not through a Go error: callers branch on Failed,
// so a failing external command halts a pipeline run without crashing it.
type Result struct {
	Output   string
	Error    string
	ExitCode int
}

// Failed reports whether the command exited non-zero or could not start.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner runs commands on the local host. Every invocation is logged,
// command and captured output both, before the result is returned.
type ExecRunner struct {
	logger *slog.Logger
}

// NewRunner constructs an ExecRunner.
func NewRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes the command and captures combined output.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) Result {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	output, err := c.CombinedOutput()
	result := Result{Output: string(output)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.Error = strings.TrimSpace(string(output))
			if result.Error == "" {
				result.Error = err.Error()
			}
		} else {
			result.ExitCode = 1
			result.Error = err.Error()
		}
	}

	r.logger.Info("command executed",
		"program", cmd.Program,
		"args", strings.Join(cmd.Args, " "),
		"exit_code", result.ExitCode,
		"output", result.Output,
	)
	return result
}
