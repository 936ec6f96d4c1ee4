package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deadline/lib/config"
	"deadline/lib/logger"
)

var (
	cfg      *config.Config
	appLog   *logger.Logger
	logLevel string
	logPath  string
)

var rootCmd = &cobra.Command{
	Use:   "deadline",
	Short: "News-driven enrichment for documented events",
	Long: `deadline searches the news for documented events, extracts structured
details with an LLM and appends dated updates as coverage appears.

Examples:
  deadline serve                 # HTTP API on LISTEN_ADDR
  deadline serve --schedule      # HTTP API plus the periodic update sweep
  deadline extract 42            # rebuild details for event 42
  deadline update dam-failure    # check one event for new coverage
  deadline schedule --now        # sweep every event now and then on UPDATE_SCHEDULE`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (DEBUG, INFO, WARNING, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-path", "", "override LOG_PATH")
}

// initConfig loads .env and the environment, then opens the rotating log.
func initConfig() error {
	cfg = config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}

	var err error
	appLog, err = logger.NewLogger("DEADLINE", cfg.LogPath, cfg.LogMaxSize, cfg.LogMaxBackups, cfg.LogMaxAge,
		logger.GetLogLevelFromString(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	return nil
}
