// Package infra implements infrastructure concerns (process invocation,
// platform proxy and firewall adapters, persistence).
package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// DefaultCommandTimeout bounds a single proxy configuration command.
const DefaultCommandTimeout = 5 * time.Second

// ExecRunner implements domain.CommandRunner with os/exec.
type ExecRunner struct {
	logger *zap.Logger
}

// NewCommandRunner creates a runner that executes real system commands.
func NewCommandRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

// Run executes cmd and waits at most timeout for it. A nonzero exit status
// is reported in the result; Err is only set when the process could not run
// to completion.
func (r *ExecRunner) Run(ctx context.Context, cmd domain.Command, timeout time.Duration) domain.CommandResult {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	// Children holding the pipes open must not outlive the timeout by much.
	c.WaitDelay = time.Second

	start := time.Now()
	err := c.Run()

	result := domain.CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitStatus = -1
		result.Err = fmt.Errorf("timed out after %s", timeout)
	case err == nil:
		result.ExitStatus = 0
	case errors.As(err, &exitErr):
		result.ExitStatus = exitErr.ExitCode()
	default:
		result.ExitStatus = -1
		result.Err = err
	}

	r.logger.Debug("command finished",
		zap.String("command", cmd.String()),
		zap.Int("exit_code", result.ExitStatus),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", time.Since(start)))

	return result
}

// describeFailure renders a failed command result for step records and logs.
func describeFailure(res domain.CommandResult) string {
	switch {
	case res.TimedOut:
		return res.Err.Error()
	case res.Err != nil:
		return res.Err.Error()
	default:
		out := trimOutput(res.Output())
		if out == "" {
			return fmt.Sprintf("exit status %d", res.ExitStatus)
		}
		return fmt.Sprintf("exit status %d: %s", res.ExitStatus, out)
	}
}

// trimOutput keeps command output short enough to log and return. The cut
// never splits a UTF-8 sequence.
func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Ensure ExecRunner implements domain.CommandRunner.
var _ domain.CommandRunner = (*ExecRunner)(nil)
