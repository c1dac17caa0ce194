package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-trader/internal/bot"
)

var (
	positionsAll   bool
	positionsToken string
	historyLimit   int
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List positions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			positions, err := r.Service.Positions(ctx, owner, !positionsAll, positionsToken)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), positions)
		})
	},
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Show active positions valued at current prices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			view, err := r.Service.Portfolio(ctx, owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close TOKEN",
	Short: "Close every active position on a token and show realized PnL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			res, err := r.Service.CloseToken(ctx, owner, args[0])
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance [MINT]",
	Short: "Snapshot the SOL or token balance and compare with the previous snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		mint := ""
		if len(args) == 1 {
			mint = args[0]
		}
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			change, err := r.Service.Balance(ctx, owner, mint)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), change)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent transactions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			txs, err := r.Service.History(ctx, owner, historyLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), txs)
		})
	},
}

func init() {
	positionsCmd.Flags().BoolVar(&positionsAll, "all", false, "include closed positions")
	positionsCmd.Flags().StringVar(&positionsToken, "token", "", "only positions on this token")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", bot.DefaultHistoryLimit, "number of transactions")
	rootCmd.AddCommand(positionsCmd, portfolioCmd, closeCmd, balanceCmd, historyCmd)
}
