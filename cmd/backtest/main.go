// Backtest CLI — runs the deterministic Backtest Engine (spec §4.7) over
// historical candles loaded from CSV, then prints the Result Aggregator's
// summary. Mirrors the teacher's cmd/bot/main.go shape: load config, wire
// components, run, report.
//
// CSV input format, one file per symbol under backtest.data_dir named
// "<SYMBOL>.csv" (symbol normalized as in config, e.g. "BTC-USDT.csv"):
//
//	timestamp,open,high,low,close,volume
//	2024-01-01T00:00:00Z,42000.00,42100.00,41950.00,42050.00,12.5
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/backtest"
	"quanttrade/internal/config"
	"quanttrade/internal/costmodel"
	"quanttrade/internal/marketdata"
	"quanttrade/internal/results"
	"quanttrade/internal/strategy"
	"quanttrade/internal/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("QT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	symbols, err := cfg.Backtest.ParseSymbols()
	if err != nil {
		logger.Error("invalid backtest.symbols", "error", err)
		os.Exit(1)
	}
	if len(symbols) == 0 {
		logger.Error("backtest.symbols must list at least one symbol")
		os.Exit(1)
	}

	start, err := time.Parse(time.RFC3339, cfg.Backtest.Start)
	if err != nil {
		logger.Error("invalid backtest.start", "error", err)
		os.Exit(1)
	}
	end, err := time.Parse(time.RFC3339, cfg.Backtest.End)
	if err != nil {
		logger.Error("invalid backtest.end", "error", err)
		os.Exit(1)
	}

	interval := cfg.Backtest.ParseInterval()
	source := marketdata.NewMemorySource()
	for _, sym := range symbols {
		candles, err := loadCandlesCSV(cfg.Backtest.DataDir, sym, interval)
		if err != nil {
			logger.Error("failed to load candles", "symbol", sym.String(), "error", err)
			os.Exit(1)
		}
		source.Load(sym, interval, candles)
		logger.Info("loaded candles", "symbol", sym.String(), "count", len(candles))
	}

	initialCapital := decimal.RequireFromString(orDefault(cfg.Backtest.InitialCapital, "100000"))
	sizing, err := cfg.Backtest.ParsePositionSizing()
	if err != nil {
		logger.Error("invalid backtest position sizing config", "error", err)
		os.Exit(1)
	}

	cost := costmodel.NewModel(
		costmodel.CommissionConfig{
			MakerRate:     cfg.CostModel.MakerRateDecimal(),
			TakerRate:     cfg.CostModel.TakerRateDecimal(),
			MinCommission: cfg.CostModel.MinCommissionDecimal(),
		},
		costmodel.SlippageConfig{
			FixedBps:          cfg.CostModel.SlippageFixedBpsDecimal(),
			ImpactCoefficient: cfg.CostModel.ImpactCoefficientDecimal(),
			MinSlippage:       cfg.CostModel.MinSlippageDecimal(),
		},
	)

	// MovingAverageCrossover is the only reference Strategy shipped with
	// the core (spec §6.3); a production deployment supplies its own. It
	// emits no SuggestedQuantity of its own, so every order is sized by
	// the engine's configured position-sizing policy.
	strat := strategy.NewMovingAverageCrossover(5, 20, decimal.Zero)

	engine := backtest.New(backtest.Config{
		Symbols:        symbols,
		Interval:       interval,
		Start:          start,
		End:            end,
		InitialCapital: initialCapital,
		PositionSizing: sizing,
		VolumeWindow:   cfg.CostModel.VolumeWindow,
	}, source, strat, cost, logger)

	result, err := engine.Run(context.Background())
	if err != nil {
		logger.Error("backtest run failed", "error", err)
		os.Exit(1)
	}

	summary := summarize(initialCapital, result, cfg.Results.AnnualizationFactor)
	printSummary(summary)
}

func summarize(initialCapital decimal.Decimal, result *backtest.Result, annualizationFactor float64) results.Summary {
	records := make([]results.TradeRecord, 0, len(result.Trades))
	for i, tr := range result.Trades {
		fr := result.Fills[i]
		record := results.TradeRecord{Trade: tr, RealizedPnL: fr.RealizedPnL, IsClose: fr.IsClose}
		if fr.IsClose {
			record.HoldDuration = tr.ExecutedAt.Sub(fr.EntryTime).Hours()
		}
		records = append(records, record)
	}
	return results.Aggregate(
		initialCapital,
		result.EquityCurve,
		records,
		result.Portfolio.TotalCommission(),
		result.Portfolio.TotalSlippage(),
		annualizationFactor,
	)
}

func printSummary(s results.Summary) {
	fmt.Printf("Initial Equity:   %s\n", s.InitialEquity.StringFixed(2))
	fmt.Printf("Final Equity:     %s\n", s.FinalEquity.StringFixed(2))
	fmt.Printf("Total PnL:        %s\n", s.TotalPnL.StringFixed(2))
	fmt.Printf("Total Return:     %s%%\n", s.TotalReturnPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Printf("Max Drawdown:     %s%%\n", s.MaxDrawdownPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Printf("Win Rate:         %s%%\n", s.WinRate.Mul(decimal.NewFromInt(100)).StringFixed(2))
	if s.ProfitFactorInfinite {
		fmt.Printf("Profit Factor:    +Inf\n")
	} else {
		fmt.Printf("Profit Factor:    %s\n", s.ProfitFactor.StringFixed(4))
	}
	if s.Sharpe != nil {
		fmt.Printf("Sharpe:           %s\n", s.Sharpe.StringFixed(4))
	}
	if s.Sortino != nil {
		fmt.Printf("Sortino:          %s\n", s.Sortino.StringFixed(4))
	}
	if s.Calmar != nil {
		fmt.Printf("Calmar:           %s\n", s.Calmar.StringFixed(4))
	}
	fmt.Printf("Total Commission: %s\n", s.TotalCommission.StringFixed(8))
	fmt.Printf("Total Slippage:   %s\n", s.TotalSlippage.StringFixed(8))
}

func loadCandlesCSV(dir string, symbol types.Symbol, interval types.Interval) ([]types.Candle, error) {
	path := fmt.Sprintf("%s/%s.csv", dir, symbol.String())
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	out := make([]types.Candle, 0, len(rows))
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "timestamp" {
			continue // header
		}
		if len(row) < 6 {
			return nil, fmt.Errorf("%s line %d: expected 6 columns, got %d", path, i+1, len(row))
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
		}
		open, err := types.NewPriceFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: open: %w", path, i+1, err)
		}
		high, err := types.NewPriceFromString(row[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: high: %w", path, i+1, err)
		}
		low, err := types.NewPriceFromString(row[3])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: low: %w", path, i+1, err)
		}
		closePrice, err := types.NewPriceFromString(row[4])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: close: %w", path, i+1, err)
		}
		volume, err := types.NewQuantityFromString(row[5])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: volume: %w", path, i+1, err)
		}
		out = append(out, types.Candle{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}
	return out, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
