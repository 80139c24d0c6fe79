// Command reelctl is the operator CLI for the reel job store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reel/internal/config"
	"reel/internal/pkg/logger"
	"reel/internal/platform"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "reelctl",
		Short:        "Operate the reel video job pipeline",
		SilenceUsage: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(gdriveAuthCmd())
	return root
}

func cliLogger() *logger.Logger {
	return logger.New(logger.Config{
		Level:       envOr("LOG_LEVEL", "warn"),
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "reelctl",
	})
}

// withPlatform loads configuration, opens the platform for the duration of
// fn and closes it afterwards.
func withPlatform(cmd *cobra.Command, fn func(ctx context.Context, p *platform.Platform) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	p, err := platform.Open(ctx, cfg, cliLogger())
	if err != nil {
		return fmt.Errorf("open platform: %w", err)
	}
	defer p.Close()
	return fn(ctx, p)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
