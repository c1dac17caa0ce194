package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-trader/internal/bot"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

var (
	alertDirection string
	alertName      string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
	Long: `Manage per-owner price alerts. Alerts are addressed by their index in
"alerts list"; removing an alert shifts the indexes after it.`,
}

var alertsAddCmd = &cobra.Command{
	Use:   "add TOKEN TARGET_USD",
	Short: "Add a price alert",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		dir, err := parseDirection(alertDirection)
		if err != nil {
			return err
		}
		return withAlerts(cmd, func(ctx context.Context, r *bot.Runner) error {
			alert, err := r.Alerts.Add(ctx, owner, args[0], target, dir, alertName)
			if err != nil {
				return err
			}
			if err := r.Alerts.Flush(ctx); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), alert)
		})
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List price alerts with their indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withAlerts(cmd, func(_ context.Context, r *bot.Runner) error {
			return printJSON(cmd.OutOrStdout(), indexed(r.Alerts.List(owner)))
		})
	},
}

var alertsRemoveCmd = &cobra.Command{
	Use:   "remove INDEX",
	Short: "Remove a price alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		return withAlerts(cmd, func(ctx context.Context, r *bot.Runner) error {
			removed, err := r.Alerts.Remove(owner, idx)
			if err != nil {
				return err
			}
			if err := r.Alerts.Flush(ctx); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), removed)
		})
	},
}

var alertsResetCmd = &cobra.Command{
	Use:   "reset INDEX",
	Short: "Re-arm a triggered price alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		return withAlerts(cmd, func(ctx context.Context, r *bot.Runner) error {
			if err := r.Alerts.Reset(owner, idx); err != nil {
				return err
			}
			if err := r.Alerts.Flush(ctx); err != nil {
				return err
			}
			cmd.Printf("Alert %d re-armed\n", idx)
			return nil
		})
	},
}

func withAlerts(cmd *cobra.Command, fn func(ctx context.Context, r *bot.Runner) error) error {
	if err := requireOwner(); err != nil {
		return err
	}
	return withRunner(cmd, fn)
}

type indexedAlert struct {
	Index int `json:"index"`
	domain.Alert
}

func indexed(list []domain.Alert) []indexedAlert {
	out := make([]indexedAlert, 0, len(list))
	for i, a := range list {
		out = append(out, indexedAlert{Index: i, Alert: a})
	}
	return out
}

func parseDirection(s string) (domain.AlertDirection, error) {
	switch d := domain.AlertDirection(s); d {
	case domain.AlertAbove, domain.AlertBelow:
		return d, nil
	default:
		return "", fmt.Errorf("--direction must be %q or %q, got %q", domain.AlertAbove, domain.AlertBelow, s)
	}
}

func parseIndex(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("index must be a non-negative integer, got %q", s)
	}
	return idx, nil
}

func init() {
	alertsAddCmd.Flags().StringVarP(&alertDirection, "direction", "d", string(domain.AlertAbove), "above or below")
	alertsAddCmd.Flags().StringVar(&alertName, "name", "", "display name (defaults to the token symbol)")
	alertsCmd.AddCommand(alertsAddCmd, alertsListCmd, alertsRemoveCmd, alertsResetCmd)
	rootCmd.AddCommand(alertsCmd)
}
