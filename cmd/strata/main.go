// Package main provides the strata CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	version = "0.1.0"
	pretty  = true
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Layered task orchestration with git worktree isolation",
		Long: `strata: dependency-ordered task orchestration.

Tasks live in verification layers described by a TOML design document.
Ready tasks run concurrently, each on its own branch in its own git
worktree; a task passes only when its layer's validators pass. Passed
branches fast-forward back into the integration target in dependency
order.

Use 'strata init' to start a run from the design document.
Use 'strata status' to inspect the current run.`,
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty",
		term.IsTerminal(int(os.Stdout.Fd())), "Pretty print output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Orchestration:"},
		&cobra.Group{ID: "inspect", Title: "Inspection:"},
	)

	for _, c := range []*cobra.Command{initCmd(), dispatchCmd(), completeCmd(), runCmd(), integrateCmd(), resetCmd(), hookCmd()} {
		c.GroupID = "run"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{statusCmd(), versionCmd()} {
		c.GroupID = "inspect"
		rootCmd.AddCommand(c)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("strata %s\n", version)
		},
	}
}
