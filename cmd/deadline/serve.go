package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"deadline/lib/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default LISTEN_ADDR)")
	serveCmd.Flags().Bool("schedule", false, "also run the update sweep on UPDATE_SCHEDULE")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	withSchedule, _ := cmd.Flags().GetBool("schedule")
	if addr == "" {
		addr = cfg.ListenAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := api.Options{
		Secret:  cfg.APISecretKey,
		Details: a.details,
		Updates: a.updates,
		Store:   a.store,
		Logger:  appLog.WithModule("API"),
	}
	if a.tagCache != nil {
		opts.Cache = a.tagCache
	}
	srv := api.NewServer(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, addr)
	})
	if withSchedule {
		g.Go(func() error {
			return runScheduler(gctx, a, cfg.UpdateSchedule, false)
		})
	}
	return g.Wait()
}
