package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/daemon"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <rules-dir>",
	Short: "Re-apply a directory of rule files on a schedule",
	Long: `Imports every rule file in <rules-dir> now and then every --interval,
so components re-enabled by an app update or another tool are blocked again.
Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func addWatchCommands(root *cobra.Command) {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", daemon.DefaultEnforcementInterval, "Time between enforcement passes")
	root.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		w := daemon.NewWatcher(daemon.WatcherConfig{
			RulesDir:            args[0],
			EnforcementInterval: watchInterval,
		}, a.engine, a.logger)

		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
}
