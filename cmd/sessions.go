package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/store"
)

var (
	sessionsStatus string
	sessionsLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect property sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list <user>",
	Short: "List a user's sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		filter := store.SessionFilter{Limit: sessionsLimit}
		if sessionsStatus != "" {
			st := model.Status(sessionsStatus)
			if !st.Valid() {
				return eris.Errorf("unknown status %q", sessionsStatus)
			}
			filter.Status = st
		}

		sessions, err := e.Pipeline.ListSessions(ctx, args[0], filter)
		if err != nil {
			return eris.Wrap(err, "list sessions")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by lifecycle status")
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "max rows")

	sessionsCmd.AddCommand(sessionsListCmd)
	rootCmd.AddCommand(sessionsCmd)
}
