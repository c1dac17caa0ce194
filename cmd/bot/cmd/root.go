package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/bot"
	"github.com/rovshanmuradov/solana-trader/internal/config"
	"github.com/rovshanmuradov/solana-trader/internal/logger"
)

var (
	configPath string
	owner      string
)

var rootCmd = &cobra.Command{
	Use:   "solana-trader",
	Short: "Solana swap execution and position ledger",
	Long: `solana-trader executes SOL/token swaps through Jupiter, signs them with
keys from a local keystore, tracks every attempt in a transaction log and
keeps a per-owner position ledger with PnL and price alerts.

Examples:
  solana-trader buy DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 0.5 --owner alice
  solana-trader portfolio --owner alice
  solana-trader run`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&owner, "owner", "o", "", "wallet owner from the keystore")
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(&logger.Config{
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxAge:      cfg.Log.MaxAge,
		MaxBackups:  cfg.Log.MaxBackups,
		Compress:    cfg.Log.Compress,
		Development: cfg.Log.Development,
		Level:       cfg.Log.Level,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// withRunner собирает Runner, выполняет fn и освобождает ресурсы.
// SIGINT/SIGTERM отменяют контекст.
func withRunner(cmd *cobra.Command, fn func(ctx context.Context, r *bot.Runner) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := bot.NewRunner(ctx, cfg, log.Logger)
	if err != nil {
		log.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer func() {
		if cerr := runner.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("Shutdown finished with errors", zap.Error(cerr))
		}
	}()

	return fn(ctx, runner)
}

func requireOwner() error {
	if owner == "" {
		return fmt.Errorf("--owner is required")
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
