// Package workspace manages task isolation: one branch plus one linked git
// worktree per task, created from the integration target and torn down
// after integration. Ref and ancestry queries go through go-git; worktree
// manipulation shells out, since go-git does not manage linked worktrees.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/joss/strata/internal/execx"
	"github.com/joss/strata/internal/logging"
)

var (
	// ErrNoTarget indicates no integration target branch could be resolved.
	ErrNoTarget = errors.New("no integration target branch")

	// ErrNotRepo indicates the project directory is not a git repository.
	ErrNotRepo = errors.New("not a git repository")
)

// Handle identifies one task's isolation context.
type Handle struct {
	TaskID string
	Branch string
	Path   string
}

// Manager creates and destroys isolation contexts for one project
// repository.
type Manager struct {
	projectDir string
	base       string // worktree parent directory
	target     string // configured integration branch, may be empty
	runner     execx.Runner
	log        *zap.Logger
}

// NewManager builds a Manager rooted at projectDir. target is the
// configured integration branch; empty means use the conventional
// defaults.
func NewManager(projectDir, base, target string, runner execx.Runner) *Manager {
	return &Manager{
		projectDir: projectDir,
		base:       base,
		target:     target,
		runner:     runner,
		log:        logging.New("workspace"),
	}
}

func (m *Manager) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(m.projectDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepo, m.projectDir)
	}
	return repo, nil
}

// IntegrationTarget resolves the project's main line: the configured
// branch if it exists, then "main", then "master".
func (m *Manager) IntegrationTarget() (string, error) {
	repo, err := m.open()
	if err != nil {
		return "", err
	}

	candidates := []string{"main", "master"}
	if m.target != "" {
		candidates = append([]string{m.target}, candidates...)
	}
	for _, name := range candidates {
		if _, err := repo.Reference(plumbing.NewBranchReferenceName(name), true); err == nil {
			return name, nil
		}
	}
	return "", ErrNoTarget
}

// Create allocates the task's branch (from the integration target, if the
// branch does not already exist) and a linked worktree checked out to it.
// Reusing an existing worktree directory is not an error; creation is
// idempotent per task.
func (m *Manager) Create(ctx context.Context, taskID, branch string) (Handle, error) {
	handle := Handle{
		TaskID: taskID,
		Branch: branch,
		Path:   filepath.Join(m.base, strings.ReplaceAll(branch, "/", "-")),
	}

	if _, err := os.Stat(handle.Path); err == nil {
		return handle, nil
	}

	repo, err := m.open()
	if err != nil {
		return Handle{}, err
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, true); err != nil {
		target, err := m.IntegrationTarget()
		if err != nil {
			return Handle{}, err
		}
		targetRef, err := repo.Reference(plumbing.NewBranchReferenceName(target), true)
		if err != nil {
			return Handle{}, fmt.Errorf("resolve %s: %w", target, err)
		}
		if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, targetRef.Hash())); err != nil {
			return Handle{}, fmt.Errorf("create branch %s: %w", branch, err)
		}
	}

	if err := os.MkdirAll(m.base, 0o755); err != nil {
		return Handle{}, fmt.Errorf("create worktree base: %w", err)
	}

	res, err := m.runner.Run(ctx, m.projectDir, "git", "worktree", "add", handle.Path, branch)
	if err != nil {
		return Handle{}, fmt.Errorf("worktree add %s: %w", branch, err)
	}
	if res.ExitCode != 0 {
		return Handle{}, fmt.Errorf("worktree add %s: %s", branch, strings.TrimSpace(string(res.Output)))
	}

	m.log.Info("workspace created",
		zap.String("task", taskID),
		zap.String("branch", branch),
		zap.String("path", handle.Path))
	return handle, nil
}

// Destroy removes the worktree. The branch is kept; only the working
// directory goes away. Destroying an already-destroyed workspace is a
// no-op.
func (m *Manager) Destroy(ctx context.Context, h Handle) error {
	if _, err := os.Stat(h.Path); os.IsNotExist(err) {
		return nil
	}

	res, err := m.runner.Run(ctx, m.projectDir, "git", "worktree", "remove", "--force", h.Path)
	if err != nil {
		return fmt.Errorf("worktree remove %s: %w", h.Path, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("worktree remove %s: %s", h.Path, strings.TrimSpace(string(res.Output)))
	}
	m.log.Info("workspace destroyed", zap.String("task", h.TaskID), zap.String("path", h.Path))
	return nil
}

// IsWorkspace reports whether path is a linked worktree rather than the
// main checkout. Linked worktrees have a .git file pointing back at the
// repository; the main checkout has a .git directory.
func IsWorkspace(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// IsAncestor reports whether branch's tip commit is an ancestor of
// target's tip commit.
func (m *Manager) IsAncestor(branch, target string) (bool, error) {
	repo, err := m.open()
	if err != nil {
		return false, err
	}

	branchCommit, err := tipCommit(repo, branch)
	if err != nil {
		return false, err
	}
	targetCommit, err := tipCommit(repo, target)
	if err != nil {
		return false, err
	}
	return branchCommit.IsAncestor(targetCommit)
}

// FastForward advances target to branch's tip. It refuses (with the
// underlying git diagnostic) when the move is not a fast-forward, so a
// non-linear branch can never be silently merged.
func (m *Manager) FastForward(ctx context.Context, target, branch string) error {
	repo, err := m.open()
	if err != nil {
		return err
	}

	var res execx.Result
	head, headErr := repo.Head()
	onTarget := headErr == nil && head.Name() == plumbing.NewBranchReferenceName(target)
	if onTarget {
		// Advance the checked-out target, updating the working tree.
		res, err = m.runner.Run(ctx, m.projectDir, "git", "merge", "--ff-only", branch)
	} else {
		// Target is not checked out; move the ref only. fetch refuses
		// non-fast-forward updates without --force.
		res, err = m.runner.Run(ctx, m.projectDir, "git", "fetch", ".", branch+":"+target)
	}
	if err != nil {
		return fmt.Errorf("fast-forward %s to %s: %w", target, branch, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("fast-forward %s to %s: %s", target, branch, strings.TrimSpace(string(res.Output)))
	}
	return nil
}

func tipCommit(repo *git.Repository, branch string) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("commit for %s: %w", branch, err)
	}
	return commit, nil
}
