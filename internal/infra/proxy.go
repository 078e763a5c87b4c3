package infra

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// step is one planned mutation against one target.
type step struct {
	target string
	cmd    domain.Command
}

// failureCheck decides whether a finished command failed. Some tools exit 0
// and report errors on stdout.
type failureCheck func(res domain.CommandResult) (failed bool, detail string)

func exitStatusCheck(res domain.CommandResult) (bool, string) {
	if res.Succeeded() {
		return false, ""
	}
	return true, describeFailure(res)
}

// planExecutor runs planned steps strictly in order, one at a time. A failed
// step is recorded and the remaining steps still run.
type planExecutor struct {
	runner  domain.CommandRunner
	timeout time.Duration
	check   failureCheck
	logger  *zap.Logger
}

func (e *planExecutor) execute(ctx context.Context, steps []step, result *domain.ApplyResult) {
	// Once started, the sequence is not cut short by the caller's cancellation.
	ctx = context.WithoutCancel(ctx)
	check := e.check
	if check == nil {
		check = exitStatusCheck
	}

	for _, s := range steps {
		start := time.Now()
		res := e.runner.Run(ctx, s.cmd, e.timeout)
		failed, detail := check(res)

		sr := domain.StepResult{
			Target:   s.target,
			Command:  s.cmd.String(),
			Success:  !failed,
			ExitCode: res.ExitStatus,
			Duration: time.Since(start),
		}
		if failed {
			sr.Error = detail
			sr.Output = trimOutput(res.Output())
			e.logger.Warn("proxy command failed",
				zap.String("target", s.target),
				zap.String("command", sr.Command),
				zap.Int("exit_code", res.ExitStatus),
				zap.String("error", detail))
		}
		result.Steps = append(result.Steps, sr)
	}
}

// NewProxyAdapter selects the proxy adapter for goos. It is called once at
// startup; callers never branch on the platform themselves.
func NewProxyAdapter(goos string, runner domain.CommandRunner, timeout time.Duration, logger *zap.Logger) domain.ProxyAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	switch goos {
	case "darwin":
		return NewNetworkSetupAdapter(runner, timeout, logger)
	case "windows":
		return NewNetshProxyAdapter(runner, timeout, logger)
	default:
		return NewUnsupportedProxyAdapter(goos, logger)
	}
}

func logApplyResult(logger *zap.Logger, op string, result *domain.ApplyResult) {
	fields := []zap.Field{
		zap.String("platform", result.Platform),
		zap.String("outcome", string(result.Outcome)),
		zap.Strings("targets", result.Targets),
		zap.Int("steps", len(result.Steps)),
		zap.Int("failures", len(result.Failures())),
	}
	if result.Err != nil {
		fields = append(fields, zap.Error(result.Err))
	}
	switch result.Outcome {
	case domain.OutcomeApplied:
		logger.Info(op+" completed", fields...)
	case domain.OutcomePartiallyApplied:
		logger.Warn(op+" partially applied", fields...)
	default:
		logger.Error(op+" failed", fields...)
	}
}
