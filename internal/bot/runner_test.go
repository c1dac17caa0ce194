package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/config"
	"github.com/rovshanmuradov/solana-trader/internal/storage/memory"
	"github.com/rovshanmuradov/solana-trader/internal/storage/sqlite"
)

func TestOpenStorage(t *testing.T) {
	log := zaptest.NewLogger(t)

	s, err := OpenStorage(config.StorageConfig{Driver: "memory"}, log)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	s, err = OpenStorage(config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "t.db")}, log)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Close())

	_, err = OpenStorage(config.StorageConfig{Driver: "mongo"}, log)
	assert.Error(t, err)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	wallets := filepath.Join(dir, "wallets.yaml")
	key := solana.NewWallet().PrivateKey.String()
	require.NoError(t, os.WriteFile(wallets, []byte("wallets:\n  - owner: alice\n    private_key: "+key+"\n"), 0o600))

	return &config.Config{
		RPCList:     []string{"http://127.0.0.1:1"},
		Storage:     config.StorageConfig{Driver: "memory"},
		WalletsFile: wallets,
		Alerts: config.AlertsConfig{
			Backend:          "file",
			File:             filepath.Join(dir, "alerts.json"),
			IntervalMs:       60_000,
			FetchConcurrency: 2,
		},
		PriceAPIURL: "http://127.0.0.1:1/price",
		TokenAPIURL: "http://127.0.0.1:1/token",
		SwapAPIURL:  "http://127.0.0.1:1/swap",
		SlippageBps: 50,
		Confirm:     config.ConfirmConfig{InitialIntervalMs: 10, MaxIntervalMs: 20},
		HTTP:        config.HTTPConfig{Listen: "127.0.0.1:0"},
		Log:         config.LogConfig{JournalFile: filepath.Join(dir, "trades.csv")},
	}
}

func TestRunnerLifecycle(t *testing.T) {
	cfg := testConfig(t)
	r, err := NewRunner(t.Context(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, r.Service)
	require.NotNil(t, r.Alerts)

	history, err := r.Service.History(t.Context(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Run(ctx))

	require.NoError(t, r.Close(context.Background()))
	_, err = os.Stat(cfg.Log.JournalFile)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.Alerts.File)
	assert.NoError(t, err, "alerts are flushed on exit")
}

func TestRunnerFailsWithoutWallets(t *testing.T) {
	cfg := testConfig(t)
	cfg.WalletsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewRunner(t.Context(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "load wallets")
}
