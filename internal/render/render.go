// Package render provides output formatting for terminal and hook
// consumption.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/joss/strata/internal/state"
)

// Renderer handles output formatting.
type Renderer struct {
	pretty bool
}

// New creates a new renderer. pretty enables colors and box drawing for
// interactive terminals; plain output is stable for scripts and hooks.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

func statusIcon(s state.Status) string {
	switch s {
	case state.StatusPassed:
		return color.GreenString("✓")
	case state.StatusFailed:
		return color.RedString("✗")
	case state.StatusRunning:
		return color.YellowString("▶")
	case state.StatusValidating:
		return color.CyanString("…")
	default:
		return "○"
	}
}

// Status formats a full run summary: per-task lines in id order, then
// counts and integration progress.
func (r *Renderer) Status(snap *state.Snapshot) string {
	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Run %s\n", snap.RunID))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	} else {
		fmt.Fprintf(&sb, "run %s\n", snap.RunID)
	}

	for _, id := range snap.TaskIDs() {
		r.formatTask(&sb, snap.Tasks[id], snap.MaxIterations)
	}

	counts := snap.Counts()
	if r.pretty {
		sb.WriteString(strings.Repeat("─", 60) + "\n")
		fmt.Fprintf(&sb, "  %d passed, %d failed, %d running, %d pending\n",
			counts[state.StatusPassed], counts[state.StatusFailed],
			counts[state.StatusRunning]+counts[state.StatusValidating],
			counts[state.StatusPending])
		fmt.Fprintf(&sb, "  integrated %d/%d branches\n",
			len(snap.Integrated), len(snap.Tasks))
	} else {
		fmt.Fprintf(&sb, "passed=%d failed=%d running=%d pending=%d integrated=%d\n",
			counts[state.StatusPassed], counts[state.StatusFailed],
			counts[state.StatusRunning]+counts[state.StatusValidating],
			counts[state.StatusPending], len(snap.Integrated))
	}

	return sb.String()
}

func (r *Renderer) formatTask(sb *strings.Builder, t state.TaskState, maxIterations int) {
	iter := ""
	if t.Iteration > 0 {
		iter = fmt.Sprintf(" (%d/%d)", t.Iteration, maxIterations)
	}

	if r.pretty {
		fmt.Fprintf(sb, "%s %-24s %s%s\n", statusIcon(t.Status), t.ID,
			color.HiBlackString(string(t.Status)), iter)
		for _, msg := range lastErrors(t.Errors, 3) {
			fmt.Fprintf(sb, "    %s\n", color.RedString(msg))
		}
	} else {
		fmt.Fprintf(sb, "%s %s%s\n", t.ID, t.Status, iter)
		for _, msg := range lastErrors(t.Errors, 3) {
			fmt.Fprintf(sb, "    %s\n", msg)
		}
	}
}

// Summary is the one-line verdict for the end of a run.
func (r *Renderer) Summary(snap *state.Snapshot) string {
	if snap.AllPassed() {
		if r.pretty {
			return color.GreenString("all %d tasks passed", len(snap.Tasks))
		}
		return fmt.Sprintf("all %d tasks passed", len(snap.Tasks))
	}

	failed := snap.FailedTasks()
	if len(failed) > 0 {
		msg := fmt.Sprintf("%d of %d tasks failed: %s",
			len(failed), len(snap.Tasks), strings.Join(failed, ", "))
		if r.pretty {
			return color.RedString(msg)
		}
		return msg
	}
	return fmt.Sprintf("%d of %d tasks unfinished", unfinished(snap), len(snap.Tasks))
}

// Integrated formats the result of an integration pass.
func (r *Renderer) Integrated(snap *state.Snapshot, target string) string {
	var sb strings.Builder
	branches := append([]string(nil), snap.Integrated...)
	sort.Strings(branches)

	if r.pretty {
		sb.WriteString(color.CyanString("Integrated into %s\n", target))
		for _, b := range branches {
			fmt.Fprintf(&sb, "  %s %s\n", color.GreenString("✓"), b)
		}
	} else {
		fmt.Fprintf(&sb, "integrated into %s\n", target)
		for _, b := range branches {
			fmt.Fprintf(&sb, "  %s\n", b)
		}
	}
	return sb.String()
}

func lastErrors(errs []string, n int) []string {
	if len(errs) <= n {
		return errs
	}
	return errs[len(errs)-n:]
}

func unfinished(snap *state.Snapshot) int {
	n := 0
	for _, t := range snap.Tasks {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}
