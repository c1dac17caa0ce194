package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-trader/internal/bot"
	"github.com/rovshanmuradov/solana-trader/internal/pipeline"
)

var (
	sellFraction float64
	investAdd    bool
)

var buyCmd = &cobra.Command{
	Use:   "buy TOKEN AMOUNT_SOL",
	Short: "Swap SOL for a token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		if err := requireOwner(); err != nil {
			return err
		}
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			res, err := r.Service.Buy(ctx, owner, args[0], amount)
			if err != nil {
				return err
			}
			return reportTrade(cmd, res)
		})
	},
}

var sellCmd = &cobra.Command{
	Use:   "sell TOKEN",
	Short: "Swap a fraction of the held token balance back to SOL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sellFraction <= 0 || sellFraction > 1 {
			return fmt.Errorf("--fraction must be in (0, 1], got %v", sellFraction)
		}
		if err := requireOwner(); err != nil {
			return err
		}
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			res, err := r.Service.Sell(ctx, owner, args[0], sellFraction)
			if err != nil {
				return err
			}
			return reportTrade(cmd, res)
		})
	},
}

var investCmd = &cobra.Command{
	Use:   "invest TOKEN AMOUNT_SOL",
	Short: "Buy a token and record the position in the ledger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		if err := requireOwner(); err != nil {
			return err
		}
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			res, err := r.Service.Invest(ctx, bot.InvestRequest{
				Owner:         owner,
				Token:         args[0],
				AmountSOL:     amount,
				AddToExisting: investAdd,
			})
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if !res.Trade.Succeeded() {
				return fmt.Errorf("trade failed: %s", res.Trade.Detail)
			}
			return nil
		})
	},
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("amount must be a positive number, got %q", s)
	}
	return v, nil
}

// reportTrade печатает итог и превращает неуспех в ненулевой код выхода.
func reportTrade(cmd *cobra.Command, res *pipeline.Result) error {
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Succeeded() {
		return fmt.Errorf("trade failed: %s", res.Detail)
	}
	return nil
}

func init() {
	sellCmd.Flags().Float64VarP(&sellFraction, "fraction", "f", 1, "fraction of the held balance to sell, in (0, 1]")
	investCmd.Flags().BoolVar(&investAdd, "add", false, "add to the most recent active position instead of opening a new one")
	rootCmd.AddCommand(buyCmd, sellCmd, investCmd)
}
