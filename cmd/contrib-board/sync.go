package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/osscampus/contrib-board/internal/app"
)

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <owner/repo>...",
		Short: "Sync one or more repositories and rebuild the leaderboard",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, *configPath, args)
		},
	}
}

func runSync(cmd *cobra.Command, configPath string, repositories []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	runtime, err := app.NewRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer func() {
		_ = runtime.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	var failures int
	for _, repository := range repositories {
		summary, err := runtime.SyncRepository(ctx, repository)
		if err != nil {
			failures++
			fmt.Fprintf(out, "%s %s: %v\n", color.RedString("✗"), repository, err)
			continue
		}
		fmt.Fprintf(out, "%s %s: %d pull requests, %d upserted, %d linked, leaderboard size %d\n",
			color.GreenString("✓"),
			summary.Repository,
			summary.PullRequestsProcessed,
			summary.Upserted,
			summary.Linked,
			summary.LeaderboardSize,
		)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d repositories failed to sync", failures, len(repositories))
	}
	return nil
}
