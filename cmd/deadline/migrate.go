package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the events, event_details and event_updates tables if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, st, err := connectStore(cmd.Context(), cfg, appLog)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := st.EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		appLog.Info("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
