// Package validate runs a layer's external validator commands against a
// task's workspace and maps exit status to pass/fail. Validators are opaque
// shell commands; their only contract is the exit code.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joss/strata/internal/execx"
	"github.com/joss/strata/internal/logging"
)

// DefaultTimeout bounds each validator command.
const DefaultTimeout = 5 * time.Minute

// Failure describes one validator that did not pass.
type Failure struct {
	Validator string
	Output    string
	ExitCode  int
}

// Message renders the failure the way it is stored in task state.
func (f Failure) Message() string {
	return fmt.Sprintf("[%s] %s", f.Validator, strings.TrimSpace(f.Output))
}

// Result aggregates all validators of one attempt. Passed is true only when
// every validator exited zero.
type Result struct {
	Passed   bool
	Failures []Failure
}

// Messages returns the failure texts retained for the next attempt.
func (r Result) Messages() []string {
	msgs := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		msgs = append(msgs, f.Message())
	}
	return msgs
}

// Runner executes validator commands.
type Runner struct {
	exec    execx.Runner
	timeout time.Duration
	log     *zap.Logger
}

// NewRunner builds a Runner. A zero timeout selects DefaultTimeout.
func NewRunner(exec execx.Runner, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{exec: exec, timeout: timeout, log: logging.New("validate")}
}

// Run executes the named validators, in order, in dir. Commands map names
// to shell strings; a name with an empty command is skipped. A missing
// external tool is reported as a failure with a distinguishing message,
// never as an error: a misconfigured validator must not abort the run.
func (r *Runner) Run(ctx context.Context, names []string, commands map[string]string, dir string) Result {
	var failures []Failure
	for _, name := range names {
		cmd := commands[name]
		if cmd == "" {
			continue
		}

		cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.exec.Shell(cmdCtx, dir, cmd)
		cancel()

		switch {
		case errors.Is(err, execx.ErrToolMissing):
			failures = append(failures, Failure{
				Validator: name,
				Output:    fmt.Sprintf("validator unavailable: %v", err),
				ExitCode:  res.ExitCode,
			})
		case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
			failures = append(failures, Failure{
				Validator: name,
				Output:    fmt.Sprintf("timed out after %s", r.timeout),
				ExitCode:  res.ExitCode,
			})
		case err != nil:
			failures = append(failures, Failure{
				Validator: name,
				Output:    fmt.Sprintf("validator could not run: %v", err),
				ExitCode:  res.ExitCode,
			})
		case res.ExitCode != 0:
			failures = append(failures, Failure{
				Validator: name,
				Output:    truncate(string(res.Output), 4096),
				ExitCode:  res.ExitCode,
			})
		}

		r.log.Debug("validator finished",
			zap.String("validator", name),
			zap.Int("exit_code", res.ExitCode),
			zap.String("dir", dir))
	}

	return Result{Passed: len(failures) == 0, Failures: failures}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
