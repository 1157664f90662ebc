package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	log := a.log.WithComponent("serve")

	if err := a.dispatcher.NotifyAdmin(ctx, "Mensabot started",
		fmt.Sprintf("Serving %s (%s).", a.cfg.Source.MensaName, a.cfg.Source.MensaID)); err != nil {
		log.Warn("startup notice failed", "error", err)
	}

	if a.menus.NeedsRefresh() {
		log.Info("menu store empty or exhausted, refreshing before schedule")
		if _, err := a.scheduler.RunRefresh(ctx, false); err != nil {
			log.Error("startup refresh failed", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.scheduler.Run(gctx) })
	if a.cfg.API.Enabled {
		g.Go(func() error { return a.api.ListenAndServe(gctx, a.cfg.API.Addr) })
	}
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownNoticeTimeout)
	defer cancel()
	if nErr := a.dispatcher.NotifyAdmin(shutdownCtx, "Mensabot stopped", "The service is shutting down."); nErr != nil {
		log.Warn("shutdown notice failed", "error", nErr)
	}
	return err
}
