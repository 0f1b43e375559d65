package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/store"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and adjust per-user quotas",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's per-action usage and limits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		counters, err := e.Ledger.Snapshot(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "quota snapshot")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(counters)
	},
}

var (
	grantReason string
	grantNote   string
	grantFile   string
)

// grantFileEntry is one row of a bulk grant file.
type grantFileEntry struct {
	User       string `yaml:"user"`
	Action     string `yaml:"action"`
	Amount     int    `yaml:"amount"`
	Reason     string `yaml:"reason"`
	Note       string `yaml:"note"`
	PurchaseID string `yaml:"purchase_id"`
}

var quotaGrantCmd = &cobra.Command{
	Use:   "grant [user action amount]",
	Short: "Grant quota units to a user, or apply a bulk grant file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		var entries []grantFileEntry
		if grantFile != "" {
			raw, err := os.ReadFile(grantFile)
			if err != nil {
				return eris.Wrap(err, "read grant file")
			}
			var doc struct {
				Grants []grantFileEntry `yaml:"grants"`
			}
			if err := yaml.Unmarshal(raw, &doc); err != nil {
				return eris.Wrap(err, "parse grant file")
			}
			entries = doc.Grants
		} else {
			if len(args) != 3 {
				return eris.New("usage: quota grant <user> <action> <amount>, or --file grants.yaml")
			}
			amount, err := strconv.Atoi(args[2])
			if err != nil {
				return eris.Wrap(err, "parse amount")
			}
			entries = []grantFileEntry{{
				User:   args[0],
				Action: args[1],
				Amount: amount,
				Reason: grantReason,
				Note:   grantNote,
			}}
		}

		for _, entry := range entries {
			action := model.Action(entry.Action)
			if !action.Valid() {
				return eris.Errorf("unknown action %q", entry.Action)
			}
			reason := model.LedgerReason(entry.Reason)
			if reason == "" {
				reason = model.ReasonFreeGrant
			}
			if reason != model.ReasonFreeGrant && reason != model.ReasonPurchase {
				return eris.Errorf("grant reason must be free_grant or purchase, got %q", entry.Reason)
			}

			if err := e.Ledger.Ensure(ctx, entry.User); err != nil {
				return err
			}
			counter, err := e.Ledger.Grant(ctx, entry.User, action, entry.Amount, reason, entry.Note, entry.PurchaseID)
			if err != nil {
				return eris.Wrapf(err, "grant %s/%s", entry.User, entry.Action)
			}
			zap.L().Info("quota granted",
				zap.String("user_id", entry.User),
				zap.String("action", entry.Action),
				zap.Int("amount", entry.Amount),
				zap.Int("limit", counter.Limit),
			)
		}
		return nil
	},
}

var adjustNote string

var quotaAdjustCmd = &cobra.Command{
	Use:   "adjust <user> <action> <delta>",
	Short: "Apply a signed admin adjustment to a user's limit",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		action := model.Action(args[1])
		if !action.Valid() {
			return eris.Errorf("unknown action %q", args[1])
		}
		delta, err := strconv.Atoi(args[2])
		if err != nil {
			return eris.Wrap(err, "parse delta")
		}

		if err := e.Ledger.Ensure(ctx, args[0]); err != nil {
			return err
		}
		counter, err := e.Ledger.Adjust(ctx, args[0], action, delta, adjustNote)
		if err != nil {
			return eris.Wrap(err, "adjust quota")
		}

		zap.L().Info("quota adjusted",
			zap.String("user_id", args[0]),
			zap.String("action", args[1]),
			zap.Int("delta", delta),
			zap.Int("limit", counter.Limit),
		)
		return nil
	},
}

var (
	ledgerAction string
	ledgerReason string
	ledgerLimit  int
)

var quotaLedgerCmd = &cobra.Command{
	Use:   "ledger <user>",
	Short: "List a user's ledger entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		filter := store.LedgerFilter{
			Reason: model.LedgerReason(ledgerReason),
			Limit:  ledgerLimit,
		}
		if ledgerAction != "" {
			action := model.Action(ledgerAction)
			if !action.Valid() {
				return eris.Errorf("unknown action %q", ledgerAction)
			}
			filter.Action = action
		}

		entries, err := e.Store.ListLedger(ctx, args[0], filter)
		if err != nil {
			return eris.Wrap(err, "list ledger")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

var quotaReconcileCmd = &cobra.Command{
	Use:   "reconcile [user]",
	Short: "Check counters against the ledger and report drift",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		var users []string
		if len(args) == 1 {
			users = args
		} else {
			users, err = e.Store.ListCounterUsers(ctx)
			if err != nil {
				return eris.Wrap(err, "list users")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		clean := true
		for _, userID := range users {
			report, err := e.Ledger.Reconcile(ctx, userID)
			if err != nil {
				return eris.Wrapf(err, "reconcile %s", userID)
			}
			if !report.Clean() {
				clean = false
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
		}
		if clean {
			zap.L().Info("ledger reconciles cleanly", zap.Int("users", len(users)))
		}
		return nil
	},
}

func init() {
	quotaGrantCmd.Flags().StringVar(&grantReason, "reason", "free_grant", "grant reason (free_grant or purchase)")
	quotaGrantCmd.Flags().StringVar(&grantNote, "note", "", "ledger note")
	quotaGrantCmd.Flags().StringVar(&grantFile, "file", "", "bulk grant file (yaml)")
	quotaAdjustCmd.Flags().StringVar(&adjustNote, "note", "", "ledger note")
	quotaLedgerCmd.Flags().StringVar(&ledgerAction, "action", "", "filter by action")
	quotaLedgerCmd.Flags().StringVar(&ledgerReason, "reason", "", "filter by reason")
	quotaLedgerCmd.Flags().IntVar(&ledgerLimit, "limit", 0, "max entries (default 100)")

	quotaCmd.AddCommand(quotaShowCmd, quotaGrantCmd, quotaAdjustCmd, quotaLedgerCmd, quotaReconcileCmd)
	rootCmd.AddCommand(quotaCmd)
}
