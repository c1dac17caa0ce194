package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestExporter(t *testing.T) *Exporter {
	e := NewExporter(zaptest.NewLogger(t))
	e.now = func() time.Time { return base.Add(24 * time.Hour) }
	return e
}

func testTransactions() []domain.Transaction {
	return []domain.Transaction{
		{ID: 3, OwnerID: "u1", Hash: "h3", TokenAddress: "mintBBBBBBBBBB", TokenSymbol: "BBB",
			Direction: domain.DirectionBuy, Amount: 2, PriceSOL: 0.01, Status: domain.TxSuccess,
			Timestamp: base.Add(30 * time.Minute)},
		{ID: 1, OwnerID: "u1", Hash: "h1", TokenAddress: "mintAAAAAAAAAA", TokenSymbol: "AAA",
			Direction: domain.DirectionBuy, Amount: 1, PriceSOL: 0.5, Status: domain.TxSuccess,
			Timestamp: base},
		{ID: 2, OwnerID: "u1", Hash: "h2", TokenAddress: "mintAAAAAAAAAA", TokenSymbol: "AAA",
			Direction: domain.DirectionSell, Amount: 4, PriceSOL: 0.5, Status: domain.TxSuccess,
			Timestamp: base.Add(10 * time.Minute)},
		{ID: 4, OwnerID: "u1", Hash: "h4", TokenAddress: "mintBBBBBBBBBB", TokenSymbol: "BBB",
			Direction: domain.DirectionSell, Amount: 100, PriceSOL: 0.01, Status: domain.TxFailed,
			Error: "slippage, exceeded", Timestamp: base.Add(2 * time.Hour)},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExportCSVSortedWithHeader(t *testing.T) {
	e := newTestExporter(t)
	dir := t.TempDir()

	path, err := e.Export(testTransactions(), Options{Format: FormatCSV, OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	rows := readCSV(t, path)
	require.Len(t, rows, 5)
	assert.Equal(t, csvHeaders, rows[0])
	assert.Equal(t, []string{"1", "2", "3", "4"}, []string{rows[1][0], rows[2][0], rows[3][0], rows[4][0]})
	assert.Equal(t, "slippage, exceeded", rows[4][11])
	assert.Equal(t, "2026-03-14T10:00:00Z", rows[1][1])
}

func TestExportJSONIncludesSummary(t *testing.T) {
	e := newTestExporter(t)

	path, err := e.Export(testTransactions(), Options{Format: FormatJSON, OutputDir: t.TempDir()})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Count        int                  `json:"count"`
		Summary      Summary              `json:"summary"`
		Transactions []domain.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 4, doc.Count)
	assert.Equal(t, 4, doc.Summary.Total)
	require.Len(t, doc.Transactions, 4)
	assert.Equal(t, "h1", doc.Transactions[0].Hash)
}

func TestExportFilters(t *testing.T) {
	tests := []struct {
		name    string
		options Options
		ids     []string
	}{
		{"time range is half open", Options{StartTime: base.Add(10 * time.Minute), EndTime: base.Add(2 * time.Hour)}, []string{"2", "3"}},
		{"token", Options{Token: "mintAAAAAAAAAA"}, []string{"1", "2"}},
		{"direction", Options{Direction: domain.DirectionSell}, []string{"2", "4"}},
		{"only success", Options{OnlySuccess: true, Direction: domain.DirectionSell}, []string{"2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.options
			opts.Format = FormatCSV
			opts.OutputDir = t.TempDir()

			path, err := newTestExporter(t).Export(testTransactions(), opts)
			require.NoError(t, err)

			var ids []string
			for _, row := range readCSV(t, path)[1:] {
				ids = append(ids, row[0])
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestExportErrors(t *testing.T) {
	e := newTestExporter(t)

	_, err := e.Export(testTransactions(), Options{Format: FormatCSV, Token: "nope", OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNothingToExport)

	_, err = e.Export(testTransactions(), Options{Format: "xml", OutputDir: t.TempDir()})
	assert.Error(t, err)
}

func TestSummaryCalculation(t *testing.T) {
	txs := filterTransactions(testTransactions(), Options{})
	// calculateSummary ожидает сортировку
	txs[0], txs[1], txs[2] = txs[1], txs[2], txs[0]

	summary := calculateSummary(txs)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 3, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.BuyCount)
	assert.Equal(t, 2, summary.SellCount)
	assert.Equal(t, 2, summary.UniqueTokens)
	assert.InDelta(t, 3.0, summary.BuyVolumeSOL, 1e-9)
	// неудачная продажа в объём не входит
	assert.InDelta(t, 2.0, summary.SellVolumeSOL, 1e-9)
	assert.InDelta(t, 75.0, summary.SuccessRate, 1e-9)
	assert.Equal(t, base, summary.StartDate)
	assert.Equal(t, base.Add(2*time.Hour), summary.EndDate)

	assert.Equal(t, Summary{}, calculateSummary(nil))
}

func TestDailyReport(t *testing.T) {
	e := newTestExporter(t)
	dir := t.TempDir()

	txs := append(testTransactions(), domain.Transaction{
		ID: 5, TokenAddress: "mintC", Direction: domain.DirectionBuy,
		Status: domain.TxSuccess, Timestamp: base.Add(-24 * time.Hour),
	})

	path, err := e.ExportDailyReport(txs, base.Add(5*time.Hour), dir)
	require.NoError(t, err)
	assert.Equal(t, "daily_report_20260314.json", filepath.Base(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var report DailyReport
	require.NoError(t, json.Unmarshal(raw, &report))

	assert.Len(t, report.Transactions, 4)
	assert.Equal(t, []HourlyStats{
		{Hour: 10, Count: 3, BuyCount: 2, SellCount: 1, Successful: 3},
		{Hour: 12, Count: 1, SellCount: 1},
	}, report.HourlyBreakdown)

	empty, err := e.ExportDailyReport(txs, base.Add(72*time.Hour), dir)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFilenameGeneration(t *testing.T) {
	e := newTestExporter(t)

	tests := []struct {
		options  Options
		expected string
	}{
		{Options{Format: FormatCSV}, "transactions_all_20260315_100000.csv"},
		{Options{Format: FormatJSON, Direction: domain.DirectionBuy}, "transactions_buy_20260315_100000.json"},
		{Options{Format: FormatCSV, Direction: domain.DirectionSell, Token: "tokenABCD1234"}, "transactions_sell_tokenABC_20260315_100000.csv"},
		{Options{Format: FormatCSV, Token: "abc"}, "transactions_all_abc_20260315_100000.csv"},
	}

	for _, tt := range tests {
		name := e.generateFilename(tt.options)
		assert.Equal(t, tt.expected, name)
		assert.False(t, strings.Contains(name, "/"))
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}
