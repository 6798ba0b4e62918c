// Package main shared command wiring.
package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/joss/strata/internal/config"
	"github.com/joss/strata/internal/execx"
	"github.com/joss/strata/internal/integrate"
	"github.com/joss/strata/internal/scheduler"
	"github.com/joss/strata/internal/spec"
	"github.com/joss/strata/internal/state"
	"github.com/joss/strata/internal/validate"
	"github.com/joss/strata/internal/workspace"
)

// app wires the document, store, and coordinators for one invocation.
type app struct {
	projectDir string
	doc        *spec.Document
	store      state.Store
	ws         *workspace.Manager
	sched      *scheduler.Scheduler
	coord      *integrate.Coordinator
}

func projectDir(args []string) (string, error) {
	if len(args) > 0 {
		return filepath.Abs(args[0])
	}
	return config.Env().ProjectDir, nil
}

func loadDocument(dir string) (*spec.Document, error) {
	path := config.Env().DesignDoc
	if path == "" {
		found, err := spec.Find(dir)
		if err != nil {
			return nil, err
		}
		path = found
	}
	return spec.Load(path)
}

// newApp builds the full wiring. The returned cleanup closes the store.
func newApp(args []string) (*app, func(), error) {
	dir, err := projectDir(args)
	if err != nil {
		return nil, nil, err
	}

	doc, err := loadDocument(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("load design document: %w", err)
	}

	store, err := state.OpenSQLite(config.StateDBPath(dir))
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	runner := execx.NewOSRunner()
	ws := workspace.NewManager(dir, config.WorktreeBase(dir), config.Env().Branch, runner)
	validator := validate.NewRunner(runner, validate.DefaultTimeout)
	executor := scheduler.NewShellExecutor(runner)

	sched, err := scheduler.New(doc, store, ws, validator, executor)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	coord, err := integrate.New(doc, store, ws)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	a := &app{
		projectDir: dir,
		doc:        doc,
		store:      store,
		ws:         ws,
		sched:      sched,
		coord:      coord,
	}
	return a, func() { store.Close() }, nil
}

// openStore opens the snapshot store without requiring a loadable design
// document. reset and status must work after the document was removed.
func openStore(dir string) (state.Store, error) {
	return state.OpenSQLite(config.StateDBPath(dir))
}

// latest loads the current snapshot or explains how to start.
func (a *app) latest(ctx context.Context) (*state.Snapshot, error) {
	snap, err := a.store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("no run in progress (run 'strata init' first): %w", err)
	}
	return snap, nil
}
