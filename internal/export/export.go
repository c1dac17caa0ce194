package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// ErrNothingToExport is returned when no transaction matches the options.
var ErrNothingToExport = errors.New("no transactions match the export criteria")

// Format represents the export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Options configures the export behavior
type Options struct {
	Format      Format
	StartTime   time.Time
	EndTime     time.Time
	Token       string           // mint
	Direction   domain.Direction // buy | sell, пусто = все
	OnlySuccess bool
	OutputDir   string
}

// csvHeaders - порядок колонок совпадает с transactionRecord.
var csvHeaders = []string{
	"id", "timestamp", "owner", "hash", "token", "symbol",
	"direction", "amount", "price_usd", "price_sol", "status", "error",
}

// Exporter writes the persisted transaction log to CSV or JSON files.
type Exporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{
		logger: logger,
		now:    time.Now,
	}
}

// Export filters, sorts and writes transactions; it returns the file path.
func (e *Exporter) Export(txs []domain.Transaction, options Options) (string, error) {
	if _, err := ParseFormat(string(options.Format)); err != nil {
		return "", err
	}

	filtered := filterTransactions(txs, options)
	if len(filtered) == 0 {
		return "", ErrNothingToExport
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, e.generateFilename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = e.exportToJSON(filtered, outputPath)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Transactions exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func filterTransactions(txs []domain.Transaction, options Options) []domain.Transaction {
	var filtered []domain.Transaction
	for _, tx := range txs {
		if !options.StartTime.IsZero() && tx.Timestamp.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !tx.Timestamp.Before(options.EndTime) {
			continue
		}
		if options.Token != "" && tx.TokenAddress != options.Token {
			continue
		}
		if options.Direction != "" && tx.Direction != options.Direction {
			continue
		}
		if options.OnlySuccess && tx.Status != domain.TxSuccess {
			continue
		}
		filtered = append(filtered, tx)
	}
	return filtered
}

// generateFilename: transactions_<direction|all>[_<mint prefix>]_<timestamp>.<format>
func (e *Exporter) generateFilename(options Options) string {
	prefix := "transactions_all"
	if options.Direction != "" {
		prefix = "transactions_" + string(options.Direction)
	}
	if options.Token != "" {
		token := options.Token
		if len(token) > 8 {
			token = token[:8]
		}
		prefix += "_" + token
	}
	return fmt.Sprintf("%s_%s.%s", prefix, e.now().Format("20060102_150405"), options.Format)
}

func transactionRecord(tx domain.Transaction) []string {
	return []string{
		strconv.FormatInt(tx.ID, 10),
		tx.Timestamp.UTC().Format(time.RFC3339),
		tx.OwnerID,
		tx.Hash,
		tx.TokenAddress,
		tx.TokenSymbol,
		string(tx.Direction),
		strconv.FormatFloat(tx.Amount, 'f', -1, 64),
		strconv.FormatFloat(tx.PriceUSD, 'f', -1, 64),
		strconv.FormatFloat(tx.PriceSOL, 'f', -1, 64),
		string(tx.Status),
		tx.Error,
	}
}

func exportToCSV(txs []domain.Transaction, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeaders); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, tx := range txs {
		if err := writer.Write(transactionRecord(tx)); err != nil {
			return fmt.Errorf("failed to write transaction %d: %w", tx.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (e *Exporter) exportToJSON(txs []domain.Transaction, outputPath string) error {
	exportData := struct {
		ExportTime   time.Time            `json:"export_time"`
		Count        int                  `json:"count"`
		Summary      Summary              `json:"summary"`
		Transactions []domain.Transaction `json:"transactions"`
	}{
		ExportTime:   e.now().UTC(),
		Count:        len(txs),
		Summary:      calculateSummary(txs),
		Transactions: txs,
	}
	return writeJSONFile(outputPath, exportData)
}

func writeJSONFile(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summary contains statistics for exported transactions. Buy volume is the
// SOL spent; sell volume is the token amount valued at the recorded SOL price.
type Summary struct {
	Total         int       `json:"total"`
	Successful    int       `json:"successful"`
	Failed        int       `json:"failed"`
	Pending       int       `json:"pending"`
	BuyCount      int       `json:"buy_count"`
	SellCount     int       `json:"sell_count"`
	UniqueTokens  int       `json:"unique_tokens"`
	BuyVolumeSOL  float64   `json:"buy_volume_sol"`
	SellVolumeSOL float64   `json:"sell_volume_sol"`
	SuccessRate   float64   `json:"success_rate"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
}

// calculateSummary ожидает транзакции, отсортированные по времени.
func calculateSummary(txs []domain.Transaction) Summary {
	summary := Summary{Total: len(txs)}
	if len(txs) == 0 {
		return summary
	}

	summary.StartDate = txs[0].Timestamp
	summary.EndDate = txs[len(txs)-1].Timestamp

	tokens := make(map[string]struct{})
	for _, tx := range txs {
		tokens[tx.TokenAddress] = struct{}{}

		switch tx.Status {
		case domain.TxSuccess:
			summary.Successful++
		case domain.TxFailed:
			summary.Failed++
		default:
			summary.Pending++
		}

		// объём считаем только по исполненным свопам
		switch tx.Direction {
		case domain.DirectionBuy:
			summary.BuyCount++
			if tx.Status == domain.TxSuccess {
				summary.BuyVolumeSOL += tx.Amount
			}
		case domain.DirectionSell:
			summary.SellCount++
			if tx.Status == domain.TxSuccess {
				summary.SellVolumeSOL += tx.Amount * tx.PriceSOL
			}
		}
	}

	summary.UniqueTokens = len(tokens)
	summary.SuccessRate = float64(summary.Successful) / float64(summary.Total) * 100
	return summary
}

// DailyReport groups one calendar day of transactions.
type DailyReport struct {
	Date            time.Time            `json:"date"`
	Summary         Summary              `json:"summary"`
	HourlyBreakdown []HourlyStats        `json:"hourly_breakdown"`
	Transactions    []domain.Transaction `json:"transactions"`
}

type HourlyStats struct {
	Hour       int `json:"hour"`
	Count      int `json:"count"`
	BuyCount   int `json:"buy_count"`
	SellCount  int `json:"sell_count"`
	Successful int `json:"successful"`
}

// ExportDailyReport writes daily_report_YYYYMMDD.json for the day containing
// date. An empty day yields an empty path and no file.
func (e *Exporter) ExportDailyReport(txs []domain.Transaction, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	filtered := filterTransactions(txs, Options{
		StartTime: startOfDay,
		EndTime:   startOfDay.AddDate(0, 0, 1),
	})
	if len(filtered) == 0 {
		e.logger.Info("No transactions for daily report", zap.Time("date", startOfDay))
		return "", nil
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))

	report := DailyReport{
		Date:            startOfDay,
		Summary:         calculateSummary(filtered),
		HourlyBreakdown: calculateHourlyBreakdown(filtered, startOfDay.Location()),
		Transactions:    filtered,
	}
	if err := writeJSONFile(outputPath, report); err != nil {
		return "", err
	}

	e.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("transactions", len(filtered)))

	return outputPath, nil
}

func calculateHourlyBreakdown(txs []domain.Transaction, loc *time.Location) []HourlyStats {
	var hours [24]*HourlyStats
	for _, tx := range txs {
		hour := tx.Timestamp.In(loc).Hour()
		stats := hours[hour]
		if stats == nil {
			stats = &HourlyStats{Hour: hour}
			hours[hour] = stats
		}
		stats.Count++
		if tx.Status == domain.TxSuccess {
			stats.Successful++
		}
		switch tx.Direction {
		case domain.DirectionBuy:
			stats.BuyCount++
		case domain.DirectionSell:
			stats.SellCount++
		}
	}

	breakdown := make([]HourlyStats, 0, len(txs))
	for _, stats := range hours {
		if stats != nil {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
