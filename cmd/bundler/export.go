package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rovshanmuradov/curve-bundler/internal/app"
	"github.com/rovshanmuradov/curve-bundler/internal/export"
	"github.com/rovshanmuradov/curve-bundler/internal/storage"
	"github.com/rovshanmuradov/curve-bundler/internal/storage/models"
	"github.com/rovshanmuradov/curve-bundler/internal/ui/style"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	FormatKey = "format"
	TokenKey  = "token"
	SideKey   = "side"
	SinceKey  = "since"
	DailyKey  = "daily"
	OutKey    = "out"

	dayLayout = "2006-01-02"
)

func exportCommand(s *session) *cobra.Command {
	c := &cobra.Command{
		Use:   "export",
		Short: "Writes journaled trades from postgres to CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return exportTrades(c, s)
		},
	}
	addExportFlags(c.Flags())
	return c
}

func addExportFlags(flags *pflag.FlagSet) {
	flags.String(FormatKey, string(export.FormatCSV), "Output format: csv or json")
	flags.String(TokenKey, "", "Only trades of this token mint")
	flags.String(SideKey, "", "Only buy or sell trades")
	flags.Duration(SinceKey, 0, "Only trades executed within this window, e.g. 24h")
	flags.String(DailyKey, "", "Write an hourly report for this UTC day (YYYY-MM-DD) instead")
	flags.String(OutKey, "", "Output directory (defaults to export_dir)")
}

type exportConfig struct {
	Options export.ExportOptions
	Daily   time.Time
}

func parseExportFlags(flags *pflag.FlagSet, defaultDir string, now time.Time) (*exportConfig, error) {
	cfg := &exportConfig{}

	formatStr, err := flags.GetString(FormatKey)
	if err != nil {
		return nil, err
	}
	if cfg.Options.Format, err = export.ParseFormat(formatStr); err != nil {
		return nil, err
	}

	if cfg.Options.TokenFilter, err = flags.GetString(TokenKey); err != nil {
		return nil, err
	}

	side, err := flags.GetString(SideKey)
	if err != nil {
		return nil, err
	}
	switch models.Side(side) {
	case "", models.SideBuy, models.SideSell:
		cfg.Options.SideFilter = models.Side(side)
	default:
		return nil, fmt.Errorf("invalid --%s %q: must be buy or sell", SideKey, side)
	}

	since, err := flags.GetDuration(SinceKey)
	if err != nil {
		return nil, err
	}
	if since > 0 {
		cfg.Options.StartTime = now.Add(-since)
	}

	daily, err := flags.GetString(DailyKey)
	if err != nil {
		return nil, err
	}
	if daily != "" {
		if cfg.Daily, err = time.Parse(dayLayout, daily); err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", DailyKey, err)
		}
	}

	if cfg.Options.OutputDir, err = flags.GetString(OutKey); err != nil {
		return nil, err
	}
	if cfg.Options.OutputDir == "" {
		cfg.Options.OutputDir = defaultDir
	}
	return cfg, nil
}

func exportTrades(c *cobra.Command, s *session) error {
	if s.cfg.PostgresURL == "" {
		return errors.New("export reads the postgres journal: set postgres_url or BUNDLER_POSTGRES_URL")
	}

	cfg, err := parseExportFlags(c.Flags(), s.cfg.ExportDir, time.Now().UTC())
	if err != nil {
		return err
	}

	ctx := c.Context()
	store, err := app.OpenStore(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := storage.TradeFilter{
		Token: cfg.Options.TokenFilter,
		Side:  cfg.Options.SideFilter,
		Since: cfg.Options.StartTime,
	}
	trades, err := store.ListTrades(ctx, filter)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	s.logger.Info("Loaded journaled trades", zap.Int("count", len(trades)))

	exporter := export.NewTradeExporter(s.logger)
	out := c.OutOrStdout()

	if !cfg.Daily.IsZero() {
		path, err := exporter.ExportDailyReport(trades, cfg.Daily, cfg.Options.OutputDir)
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Fprintln(out, style.Warning("no trades on "+cfg.Daily.Format(dayLayout)))
			return nil
		}
		fmt.Fprintln(out, style.Success("daily report written to "+path))
		return nil
	}

	path, err := exporter.ExportTrades(trades, cfg.Options)
	if errors.Is(err, export.ErrNoTrades) {
		fmt.Fprintln(out, style.Warning(err.Error()))
		return nil
	}
	if err != nil {
		return err
	}

	// the store already applied every filter, so trades is what was written
	summary := export.CalculateSummary(trades)
	fmt.Fprintln(out, style.Panel("Export", []style.Field{
		{Label: "File", Value: path},
		{Label: "Trades", Value: fmt.Sprint(summary.TotalTrades)},
		{Label: "Buy volume", Value: summary.TotalBuyVolume.String()},
		{Label: "Sell volume", Value: summary.TotalSellVolume.String()},
		{Label: "Fees", Value: summary.TotalFees.String()},
	}))
	return nil
}
