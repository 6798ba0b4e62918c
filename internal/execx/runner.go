// Package execx provides a testable command execution capability. The
// scheduler, workspace manager, and validator runner all inject a Runner
// instead of calling os/exec directly, so tests run against a mock.
package execx

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ErrToolMissing indicates the command's binary could not be found or
// started at all, as opposed to running and exiting non-zero.
var ErrToolMissing = errors.New("external tool missing")

// Result holds the outcome of one command invocation.
type Result struct {
	// Output is combined stdout and stderr, verbatim.
	Output []byte
	// ExitCode is the process exit status; 0 on success. -1 when the
	// process could not be started.
	ExitCode int
}

// Runner executes external commands.
type Runner interface {
	// Run executes an argv-style command in dir and returns combined
	// output. A non-zero exit is not an error; only start failures are.
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)

	// Shell executes a shell command string in dir via sh -c.
	Shell(ctx context.Context, dir, command string) (Result, error)
}

// OSRunner implements Runner with os/exec.
type OSRunner struct {
	// Env overrides the environment (nil = inherit).
	Env []string
}

// NewOSRunner returns a Runner backed by the host OS.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

func (r *OSRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return finish(cmd.CombinedOutput())
}

func (r *OSRunner) Shell(ctx context.Context, dir, command string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return finish(cmd.CombinedOutput())
}

// finish maps os/exec outcomes onto Result. Exit errors carry the code;
// anything else means the command never ran.
func finish(out []byte, err error) (Result, error) {
	if err == nil {
		return Result{Output: out, ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Output: out, ExitCode: exitErr.ExitCode()}, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return Result{Output: out, ExitCode: -1}, errors.Join(ErrToolMissing, err)
	}
	return Result{Output: out, ExitCode: -1}, err
}

// MockRunner implements Runner for tests, recording invocations and
// replaying canned responses keyed by command name or shell string prefix.
type MockRunner struct {
	Calls     []MockCall
	Responses map[string]MockResponse
}

// MockCall records one invocation.
type MockCall struct {
	Dir     string
	Name    string
	Args    []string
	Command string // set for Shell calls
}

// MockResponse is the canned outcome for a command.
type MockResponse struct {
	Output   []byte
	ExitCode int
	Err      error
}

// NewMockRunner returns an empty mock.
func NewMockRunner() *MockRunner {
	return &MockRunner{Responses: make(map[string]MockResponse)}
}

// Respond registers a response for a command key. Run matches on the
// command name; Shell matches on the longest registered prefix of the
// shell string.
func (m *MockRunner) Respond(key string, resp MockResponse) {
	m.Responses[key] = resp
}

func (m *MockRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	m.Calls = append(m.Calls, MockCall{Dir: dir, Name: name, Args: args})
	key := name
	if full := strings.Join(append([]string{name}, args...), " "); m.has(full) {
		key = full
	}
	resp := m.Responses[key]
	return Result{Output: resp.Output, ExitCode: resp.ExitCode}, resp.Err
}

func (m *MockRunner) Shell(ctx context.Context, dir, command string) (Result, error) {
	m.Calls = append(m.Calls, MockCall{Dir: dir, Command: command})
	var best string
	for key := range m.Responses {
		if strings.HasPrefix(command, key) && len(key) > len(best) {
			best = key
		}
	}
	resp := m.Responses[best]
	return Result{Output: resp.Output, ExitCode: resp.ExitCode}, resp.Err
}

func (m *MockRunner) has(key string) bool {
	_, ok := m.Responses[key]
	return ok
}
