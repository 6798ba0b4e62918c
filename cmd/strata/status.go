// Package main run inspection.
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/strata/internal/render"
	"github.com/joss/strata/internal/state"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [path]",
		Short: "Show the current run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(args)
			if err != nil {
				return err
			}
			store, err := openStore(dir)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.Latest(context.Background())
			if errors.Is(err, state.ErrNoSnapshot) {
				fmt.Println("no run in progress")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Print(render.New(pretty).Status(snap))
			return nil
		},
	}
}
