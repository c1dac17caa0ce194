package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/events"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.log")
	l, err := New(&Config{LogFile: path, MaxSize: 1, Level: "debug"})
	require.NoError(t, err)

	l.Info("hello", zap.String("owner", "alice"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"owner":"alice"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestResolveLevel(t *testing.T) {
	lvl, err := resolveLevel(&Config{Development: true})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	lvl, err = resolveLevel(&Config{})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = resolveLevel(&Config{Level: "warn", Development: true})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}

func TestContextHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	WithOwner(WithTransaction(base, "sig1"), "alice").Info("x")
	end := TrackPerformance(base, "buy")
	end()

	entries := logs.All()
	require.Len(t, entries, 3)

	fields := entries[0].ContextMap()
	assert.Equal(t, "sig1", fields["tx_hash"])
	assert.Equal(t, "alice", fields["owner"])

	start, done := entries[1].ContextMap(), entries[2].ContextMap()
	assert.Equal(t, "buy", start["operation"])
	assert.NotEmpty(t, start["correlation_id"])
	assert.Equal(t, start["correlation_id"], done["correlation_id"])
	assert.Contains(t, done, "duration")
}

func settled(owner string, kind domain.OutcomeKind, detail string) events.TradeSettledEvent {
	return events.TradeSettledEvent{
		BaseEvent: events.NewBaseEvent(events.TradeSettled),
		Outcome: domain.Outcome{
			Kind:      kind,
			OwnerID:   owner,
			Direction: domain.DirectionBuy,
			Token:     "MintA",
			Amount:    0.25,
			Hash:      "sig-" + owner,
			Detail:    detail,
		},
	}
}

func readJournal(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestTradeJournalWritesSettledTrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "trades.csv")
	j, err := NewTradeJournal(path, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, j.Handle(ctx, settled("alice", domain.OutcomeSuccess, "")))
	require.NoError(t, j.Handle(ctx, settled("bob", domain.OutcomeFailed, "slippage, exceeded")))
	// чужие события игнорируются
	require.NoError(t, j.Handle(ctx, events.AlertTriggeredEvent{BaseEvent: events.NewBaseEvent(events.AlertTriggered)}))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	rows := readJournal(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, journalHeader, rows[0])
	assert.Equal(t, []string{"alice", "buy", "MintA", "0.25", "success", "sig-alice", ""}, rows[1][1:])
	assert.Equal(t, "slippage, exceeded", rows[2][7])

	records, _ := j.Stats()
	assert.Equal(t, uint64(2), records)
	assert.Error(t, j.write([]string{"late"}))
}

func TestTradeJournalAppendsWithoutSecondHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	for _, owner := range []string{"alice", "bob"} {
		j, err := NewTradeJournal(path, time.Hour, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, j.Handle(t.Context(), settled(owner, domain.OutcomeSuccess, "")))
		require.NoError(t, j.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,owner"))
	assert.Len(t, readJournal(t, path), 3)
}
