package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reminderd/internal/app"
	"reminderd/internal/config"
)

const defaultConfigPath = "./reminderd.json"

func newServeCmd() *cobra.Command {
	var (
		cfgPath     string
		stopTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reminder daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(cfgPath, version)
			if err != nil {
				return fmt.Errorf("startup: %w", err)
			}
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (.json, .yaml, .toml)")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func newCheckConfigCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(cfgPath).Load()
			if err != nil {
				return fmt.Errorf("%s: %w", cfgPath, err)
			}
			out := cmd.OutOrStdout()
			pre, post := cfg.Reminder.PreStartWindow(), cfg.Reminder.PostEndWindow()
			storage := "memory"
			if cfg.Storage != nil && strings.TrimSpace(cfg.Storage.Driver) != "" {
				storage = cfg.Storage.Driver
			}
			fmt.Fprintf(out, "%s: ok\n", cfgPath)
			fmt.Fprintf(out, "  tick:      %s\n", cfg.Scheduler.TickSpec())
			fmt.Fprintf(out, "  sweep:     %s\n", cfg.Scheduler.SweepSpec())
			fmt.Fprintf(out, "  timezone:  %s\n", cfg.Scheduler.Location())
			fmt.Fprintf(out, "  pre_start: [%d, %d] min\n", pre.Lower, pre.Upper)
			fmt.Fprintf(out, "  post_end:  [%d, %d] min\n", post.Lower, post.Upper)
			fmt.Fprintf(out, "  retries:   %d\n", cfg.Reminder.EffectiveMaxRetries())
			fmt.Fprintf(out, "  storage:   %s\n", storage)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}
