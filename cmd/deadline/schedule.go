package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"deadline/lib/logger"
	"deadline/lib/pipeline"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Check every event for updates on UPDATE_SCHEDULE",
	RunE:  runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().String("spec", "", "cron spec (default UPDATE_SCHEDULE)")
	scheduleCmd.Flags().Bool("now", false, "run one sweep immediately before waiting for the schedule")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	spec, _ := cmd.Flags().GetString("spec")
	now, _ := cmd.Flags().GetBool("now")
	if spec == "" {
		spec = cfg.UpdateSchedule
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer a.Close()
	return runScheduler(ctx, a, spec, now)
}

type sweeper interface {
	RunAll(ctx context.Context) (pipeline.SweepSummary, error)
}

// runScheduler blocks until ctx is done, then waits for a running sweep.
func runScheduler(ctx context.Context, a *app, spec string, runNow bool) error {
	log := appLog.WithModule("SCHEDULE")
	sweep := sweepFunc(ctx, a.updates, log)
	c, err := newScheduler(spec, sweep, log)
	if err != nil {
		return err
	}
	if runNow {
		sweep()
	}

	c.Start()
	log.Info("Update sweep scheduled: %s", spec)
	<-ctx.Done()
	log.Info("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

func sweepFunc(ctx context.Context, s sweeper, log *logger.Logger) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunAll(ctx); err != nil {
			log.Error("Update sweep aborted: %v", err)
		}
	}
}

// newScheduler never overlaps sweeps: a tick that fires while the previous
// sweep is still running is skipped.
func newScheduler(spec string, job func(), log *logger.Logger) (*cron.Cron, error) {
	cl := cronLogger{log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("invalid UPDATE_SCHEDULE %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger adapts the levelled logger to cron's key/value interface.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
