package main

import (
	"context"
	"fmt"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/sweeper"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep [expire|purge]",
		Short:     "Run the expiry and purge sweeps once",
		Long:      "Runs the named sweep, or both when none is given. Expiring needs the chat platform to update announcements; purging only touches storage.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{sweeper.JobExpire, sweeper.JobPurge},
		RunE: func(cmd *cobra.Command, args []string) error {
			job := ""
			if len(args) == 1 {
				job = args[0]
			}
			return runSweep(cmd, job)
		},
	}
}

func runSweep(cmd *cobra.Command, job string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var coord *exchange.Coordinator
	if job == sweeper.JobPurge {
		coord, err = a.coordinator(ctx, coordinatorDeps{messenger: offline{}, announcer: offline{}})
	} else {
		adapter, aerr := a.adapter()
		if aerr != nil {
			return fmt.Errorf("expire sweep: %w", aerr)
		}
		if err := adapter.Connect(ctx); err != nil {
			return err
		}
		defer adapter.Close()
		_, coord, err = a.bot(ctx, adapter)
	}
	if err != nil {
		return err
	}

	sw, err := sweeper.New(sweeper.Opts{
		Sweeps:     coord,
		ExpireSpec: a.cfg.Jobs.Expire,
		PurgeSpec:  a.cfg.Jobs.Purge,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}
	if err := sw.RunOnce(ctx, job); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Sweep complete")
	return nil
}
