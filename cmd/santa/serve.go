package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/dashboard"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/sweeper"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var noAdmin bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the sweeps and the admin API",
		Long:  "Connects to the configured chat platform and answers commands until interrupted. Expiry and purge sweeps run on their cron schedules.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, noAdmin)
		},
	}

	cmd.Flags().BoolVar(&noAdmin, "no-admin", false, "do not start the admin API")
	return cmd
}

func runServe(cmd *cobra.Command, noAdmin bool) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := a.adapter()
	if err != nil {
		return err
	}
	bot, coord, err := a.bot(ctx, adapter)
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return sw.Run(gctx) })
	if !noAdmin {
		g.Go(func() error {
			return dashboard.Start(gctx, dashboard.StartOpts{
				Source: coord,
				Port:   a.cfg.Admin.Port,
				Token:  a.cfg.Admin.Token,
				Logger: a.log,
			})
		})
	}

	a.log.Info("santa started", "platform", a.cfg.Platform, "version", Version)
	err = g.Wait()
	a.log.Info("santa stopped")
	return err
}
