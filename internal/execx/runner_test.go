package execx

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestOSRunnerRun(t *testing.T) {
	r := NewOSRunner()

	res, err := r.Run(context.Background(), t.TempDir(), "echo", "hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if got := strings.TrimSpace(string(res.Output)); got != "hello" {
		t.Errorf("Output = %q, want hello", got)
	}
}

func TestOSRunnerNonZeroExitIsNotError(t *testing.T) {
	r := NewOSRunner()

	res, err := r.Shell(context.Background(), t.TempDir(), "exit 3")
	if err != nil {
		t.Fatalf("Shell returned error for non-zero exit: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestOSRunnerMissingTool(t *testing.T) {
	r := NewOSRunner()

	_, err := r.Run(context.Background(), t.TempDir(), "definitely-not-a-binary-xyz")
	if !errors.Is(err, ErrToolMissing) {
		t.Errorf("err = %v, want ErrToolMissing", err)
	}
}

func TestOSRunnerRunsInDir(t *testing.T) {
	dir := t.TempDir()
	r := NewOSRunner()

	res, err := r.Shell(context.Background(), dir, "pwd")
	if err != nil {
		t.Fatalf("Shell failed: %v", err)
	}
	if got := strings.TrimSpace(string(res.Output)); got != dir {
		t.Errorf("pwd = %q, want %q", got, dir)
	}
}

func TestMockRunnerMatchesFullArgv(t *testing.T) {
	m := NewMockRunner()
	m.Respond("git", MockResponse{ExitCode: 1})
	m.Respond("git status", MockResponse{Output: []byte("clean"), ExitCode: 0})

	res, err := m.Run(context.Background(), "/repo", "git", "status")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 || string(res.Output) != "clean" {
		t.Errorf("full-argv match not preferred: %+v", res)
	}

	res, _ = m.Run(context.Background(), "/repo", "git", "fetch")
	if res.ExitCode != 1 {
		t.Errorf("name fallback ExitCode = %d, want 1", res.ExitCode)
	}
}

func TestMockRunnerShellPrefix(t *testing.T) {
	m := NewMockRunner()
	m.Respond("go", MockResponse{ExitCode: 1})
	m.Respond("go test", MockResponse{ExitCode: 0})

	res, err := m.Shell(context.Background(), "/repo", "go test ./...")
	if err != nil {
		t.Fatalf("Shell failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Error("longest prefix not selected")
	}
}

func TestMockRunnerRecordsCalls(t *testing.T) {
	m := NewMockRunner()

	m.Run(context.Background(), "/a", "git", "status")
	m.Shell(context.Background(), "/b", "make lint")

	if len(m.Calls) != 2 {
		t.Fatalf("Calls len = %d, want 2", len(m.Calls))
	}
	if m.Calls[0].Name != "git" || m.Calls[0].Dir != "/a" {
		t.Errorf("first call = %+v", m.Calls[0])
	}
	if m.Calls[1].Command != "make lint" || m.Calls[1].Dir != "/b" {
		t.Errorf("second call = %+v", m.Calls[1])
	}
}
