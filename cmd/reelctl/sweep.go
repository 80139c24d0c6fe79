package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"reel/internal/platform"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass over stored videos and finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				res, err := p.Sweeper(cliLogger()).RunOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d videos, pruned %d jobs\n", res.AssetsDeleted, res.JobsPruned)
				return err
			})
		},
	}
}
