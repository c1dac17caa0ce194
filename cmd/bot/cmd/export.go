package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-trader/internal/bot"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/export"
)

const defaultExportLimit = 10_000

var (
	exportFormat    string
	exportDir       string
	exportToken     string
	exportDirection string
	exportSince     time.Duration
	exportSuccess   bool
	exportLimit     int
	exportDaily     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the transaction log to CSV or JSON",
	Long: `Export writes the owner's transaction log to a file in --dir.

Examples:
  solana-trader export --owner alice --format csv --since 24h
  solana-trader export --owner alice --direction sell --success
  solana-trader export --owner alice --daily 2026-03-14`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		opts, err := exportOptions(time.Now())
		if err != nil {
			return err
		}
		var day time.Time
		if exportDaily != "" {
			if day, err = time.ParseInLocation("2006-01-02", exportDaily, time.Local); err != nil {
				return fmt.Errorf("--daily must be YYYY-MM-DD: %w", err)
			}
		}

		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			txs, err := r.Service.History(ctx, owner, exportLimit)
			if err != nil {
				return err
			}
			var path string
			if day.IsZero() {
				path, err = r.Exporter.Export(txs, opts)
			} else {
				path, err = r.Exporter.ExportDailyReport(txs, day, opts.OutputDir)
			}
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no transactions for", exportDaily)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		})
	},
}

// exportOptions собирает фильтры из флагов; now задаёт начало окна --since.
func exportOptions(now time.Time) (export.Options, error) {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return export.Options{}, err
	}
	opts := export.Options{
		Format:      format,
		Token:       exportToken,
		OnlySuccess: exportSuccess,
		OutputDir:   exportDir,
	}
	switch d := domain.Direction(exportDirection); d {
	case "", domain.DirectionBuy, domain.DirectionSell:
		opts.Direction = d
	default:
		return export.Options{}, fmt.Errorf("--direction must be %q or %q, got %q",
			domain.DirectionBuy, domain.DirectionSell, exportDirection)
	}
	if exportSince < 0 {
		return export.Options{}, fmt.Errorf("--since must be positive")
	}
	if exportSince > 0 {
		opts.StartTime = now.Add(-exportSince)
	}
	return opts, nil
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportFormat, "format", "f", string(export.FormatCSV), "csv or json")
	f.StringVar(&exportDir, "dir", "exports", "output directory")
	f.StringVar(&exportToken, "token", "", "only this token mint")
	f.StringVarP(&exportDirection, "direction", "d", "", "only buy or sell")
	f.DurationVar(&exportSince, "since", 0, "only transactions newer than this, e.g. 24h")
	f.BoolVar(&exportSuccess, "success", false, "only successful swaps")
	f.IntVarP(&exportLimit, "limit", "n", defaultExportLimit, "most recent transactions to read")
	f.StringVar(&exportDaily, "daily", "", "write a daily JSON report for YYYY-MM-DD instead")
	rootCmd.AddCommand(exportCmd)
}
