// Package config provides centralized environment configuration and the
// well-known paths the orchestrator writes under a project directory.
package config

import (
	"os"
	"path/filepath"
	"sync"
)

// StrataEnv holds the environment variables the orchestrator reads.
type StrataEnv struct {
	// ProjectDir is the repository being orchestrated (STRATA_PROJECT_DIR,
	// default: current directory).
	ProjectDir string

	// DesignDoc overrides design-document discovery (STRATA_DESIGN_DOC).
	DesignDoc string

	// Branch overrides the integration target branch (STRATA_BRANCH).
	Branch string

	// StateDB overrides the snapshot database path (STRATA_STATE_DB).
	StateDB string

	// LogLevel sets the log verbosity (STRATA_LOG_LEVEL).
	LogLevel string
}

var (
	env     *StrataEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration, loaded once.
func Env() *StrataEnv {
	envOnce.Do(func() {
		projectDir := os.Getenv("STRATA_PROJECT_DIR")
		if projectDir == "" {
			projectDir, _ = os.Getwd()
		}
		env = &StrataEnv{
			ProjectDir: projectDir,
			DesignDoc:  os.Getenv("STRATA_DESIGN_DOC"),
			Branch:     os.Getenv("STRATA_BRANCH"),
			StateDB:    os.Getenv("STRATA_STATE_DB"),
			LogLevel:   os.Getenv("STRATA_LOG_LEVEL"),
		}
	})
	return env
}

// ResetEnv clears the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

// StateDir returns the orchestrator's metadata directory for a project.
func StateDir(projectDir string) string {
	return filepath.Join(projectDir, ".strata")
}

// StateDBPath returns the snapshot database path for a project, honoring
// the STRATA_STATE_DB override.
func StateDBPath(projectDir string) string {
	if p := Env().StateDB; p != "" {
		return p
	}
	return filepath.Join(StateDir(projectDir), "state.db")
}

// WorktreeBase returns the directory under which task worktrees are
// created.
func WorktreeBase(projectDir string) string {
	return filepath.Join(projectDir, ".worktrees")
}
