package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <event_id|slug>",
	Short: "Rebuild one event's details from fresh coverage",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

var updateCmd = &cobra.Command{
	Use:   "update <event_id|slug>",
	Short: "Check one event for coverage newer than its last update",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdate,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(updateCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.details.Run(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

// runUpdate prints the result even when extraction failed, since the debug
// counters are what tell the stages apart.
func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.updates.Run(ctx, args[0])
	if res != nil {
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
			return perr
		}
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
