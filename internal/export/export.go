// internal/export/export.go
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/storage/models"
	"github.com/rovshanmuradov/curve-bundler/internal/units"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ErrNoTrades is returned when nothing matches the export criteria.
var ErrNoTrades = errors.New("no trades match the export criteria")

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format      ExportFormat
	StartTime   time.Time
	EndTime     time.Time // exclusive
	TokenFilter string      // token mint, base58
	SideFilter  models.Side // buy or sell
	OutputDir   string
}

// TradeExporter writes journaled trade records to files.
type TradeExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	return &TradeExporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// ExportTrades writes the trades matching options and returns the file path.
func (te *TradeExporter) ExportTrades(trades []*models.TradeRecord, options ExportOptions) (string, error) {
	filtered := te.filterTrades(trades, options)
	if len(filtered) == 0 {
		return "", ErrNoTrades
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ExecutedAt.Before(filtered[j].ExecutedAt)
	})

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, te.generateFilename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = te.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = te.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func (te *TradeExporter) filterTrades(trades []*models.TradeRecord, options ExportOptions) []*models.TradeRecord {
	var filtered []*models.TradeRecord

	for _, trade := range trades {
		if !options.StartTime.IsZero() && trade.ExecutedAt.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !trade.ExecutedAt.Before(options.EndTime) {
			continue
		}
		if options.TokenFilter != "" && trade.Token != options.TokenFilter {
			continue
		}
		if options.SideFilter != "" && trade.Side != options.SideFilter {
			continue
		}
		filtered = append(filtered, trade)
	}

	return filtered
}

func (te *TradeExporter) generateFilename(options ExportOptions) string {
	timestamp := te.now().Format("20060102_150405")

	prefix := "trades_all"
	if options.SideFilter != "" {
		prefix = fmt.Sprintf("trades_%s", options.SideFilter)
	}
	if token := options.TokenFilter; token != "" {
		if len(token) > 8 {
			token = token[:8]
		}
		prefix += "_" + token
	}

	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, options.Format)
}

// Row is the flattened, human readable form of a trade record. Amounts are
// formatted with 18 decimals.
type Row struct {
	ID             string    `json:"id"`
	Side           string    `json:"side"`
	ExecutedAt     time.Time `json:"executed_at"`
	Curve          string    `json:"curve"`
	Token          string    `json:"token"`
	Caller         string    `json:"caller"`
	Recipient      string    `json:"recipient"`
	AmountIn       string    `json:"amount_in"`
	AmountOutGross string    `json:"amount_out_gross"`
	AmountOut      string    `json:"amount_out"`
	Fee            string    `json:"fee"`
	VirtualNative  string    `json:"virtual_native"`
	VirtualToken   string    `json:"virtual_token"`
}

func CSVHeaders() []string {
	return []string{
		"id", "side", "executed_at", "curve", "token", "caller", "recipient",
		"amount_in", "amount_out_gross", "amount_out", "fee",
		"virtual_native", "virtual_token",
	}
}

func NewRow(t *models.TradeRecord) Row {
	f := func(v *uint256.Int) string { return units.Format(v, units.DefaultDecimals) }
	return Row{
		ID:             t.ID,
		Side:           string(t.Side),
		ExecutedAt:     t.ExecutedAt.UTC(),
		Curve:          t.Curve,
		Token:          t.Token,
		Caller:         t.Caller,
		Recipient:      t.Recipient,
		AmountIn:       f(t.AmountIn),
		AmountOutGross: f(t.AmountOutGross),
		AmountOut:      f(t.AmountOut),
		Fee:            f(t.Fee),
		VirtualNative:  f(t.VirtualNative),
		VirtualToken:   f(t.VirtualToken),
	}
}

func (r Row) ToCSV() []string {
	return []string{
		r.ID, r.Side, r.ExecutedAt.Format(time.RFC3339), r.Curve, r.Token, r.Caller, r.Recipient,
		r.AmountIn, r.AmountOutGross, r.AmountOut, r.Fee,
		r.VirtualNative, r.VirtualToken,
	}
}

func (te *TradeExporter) exportToCSV(trades []*models.TradeRecord, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, trade := range trades {
		if err := writer.Write(NewRow(trade).ToCSV()); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func (te *TradeExporter) exportToJSON(trades []*models.TradeRecord, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	rows := make([]Row, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, NewRow(t))
	}

	exportData := struct {
		ExportTime time.Time     `json:"export_time"`
		TradeCount int           `json:"trade_count"`
		Trades     []Row         `json:"trades"`
		Summary    ExportSummary `json:"summary"`
	}{
		ExportTime: te.now().UTC(),
		TradeCount: len(trades),
		Trades:     rows,
		Summary:    CalculateSummary(trades),
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary aggregates a set of trades. Volumes are native amounts:
// amount in for buys, gross proceeds for sells.
type ExportSummary struct {
	TotalTrades     int             `json:"total_trades"`
	BuyCount        int             `json:"buy_count"`
	SellCount       int             `json:"sell_count"`
	UniqueTokens    int             `json:"unique_tokens"`
	TotalBuyVolume  decimal.Decimal `json:"total_buy_volume"`
	TotalSellVolume decimal.Decimal `json:"total_sell_volume"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
}

// CalculateSummary expects trades sorted by execution time.
func CalculateSummary(trades []*models.TradeRecord) ExportSummary {
	summary := ExportSummary{
		TotalTrades:     len(trades),
		TotalBuyVolume:  decimal.Zero,
		TotalSellVolume: decimal.Zero,
		TotalFees:       decimal.Zero,
	}
	if len(trades) == 0 {
		return summary
	}

	summary.StartDate = trades[0].ExecutedAt.UTC()
	summary.EndDate = trades[len(trades)-1].ExecutedAt.UTC()

	tokens := make(map[string]struct{})
	for _, trade := range trades {
		tokens[trade.Token] = struct{}{}
		summary.TotalFees = summary.TotalFees.Add(units.ToDecimal(trade.Fee, units.DefaultDecimals))

		switch trade.Side {
		case models.SideBuy:
			summary.BuyCount++
			summary.TotalBuyVolume = summary.TotalBuyVolume.Add(units.ToDecimal(trade.AmountIn, units.DefaultDecimals))
		case models.SideSell:
			summary.SellCount++
			summary.TotalSellVolume = summary.TotalSellVolume.Add(units.ToDecimal(trade.AmountOutGross, units.DefaultDecimals))
		}
	}
	summary.UniqueTokens = len(tokens)

	return summary
}

// DailyReport is the trading activity of one UTC day.
type DailyReport struct {
	Date            time.Time     `json:"date"`
	TradeCount      int           `json:"trade_count"`
	Summary         ExportSummary `json:"summary"`
	HourlyBreakdown []HourlyStats `json:"hourly_breakdown"`
	Trades          []Row         `json:"trades"`
}

type HourlyStats struct {
	Hour       int             `json:"hour"`
	TradeCount int             `json:"trade_count"`
	BuyCount   int             `json:"buy_count"`
	SellCount  int             `json:"sell_count"`
	Fees       decimal.Decimal `json:"fees"`
}

// ExportDailyReport writes a JSON report for the UTC day containing date.
// It returns an empty path when the day has no trades.
func (te *TradeExporter) ExportDailyReport(trades []*models.TradeRecord, date time.Time, outputDir string) (string, error) {
	date = date.UTC()
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	filtered := te.filterTrades(trades, ExportOptions{
		StartTime: startOfDay,
		EndTime:   startOfDay.Add(24 * time.Hour),
	})
	if len(filtered) == 0 {
		te.logger.Info("No trades for daily report", zap.Time("date", startOfDay))
		return "", nil
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ExecutedAt.Before(filtered[j].ExecutedAt)
	})

	rows := make([]Row, 0, len(filtered))
	for _, t := range filtered {
		rows = append(rows, NewRow(t))
	}
	report := DailyReport{
		Date:            startOfDay,
		TradeCount:      len(filtered),
		Summary:         CalculateSummary(filtered),
		HourlyBreakdown: calculateHourlyBreakdown(filtered),
		Trades:          rows,
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))
	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	te.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("trades", len(filtered)))

	return outputPath, nil
}

func calculateHourlyBreakdown(trades []*models.TradeRecord) []HourlyStats {
	hourly := make(map[int]*HourlyStats)

	for _, trade := range trades {
		hour := trade.ExecutedAt.UTC().Hour()
		stats, ok := hourly[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour, Fees: decimal.Zero}
			hourly[hour] = stats
		}

		stats.TradeCount++
		stats.Fees = stats.Fees.Add(units.ToDecimal(trade.Fee, units.DefaultDecimals))
		switch trade.Side {
		case models.SideBuy:
			stats.BuyCount++
		case models.SideSell:
			stats.SellCount++
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := hourly[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
