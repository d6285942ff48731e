// Command backtest_runner replays a candle CSV through the live signal
// source and trading policy, sweeping a set of take-profit levels.
package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"strings"

	"perpbot/config"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/backtest"
	"perpbot/internal/domain"
	"perpbot/internal/sizing"
	"perpbot/internal/strategy"
)

func main() {
	file := flag.String("file", "", "candle CSV produced by fetch_klines (required)")
	symbol := flag.String("symbol", "ETHUSDT", "symbol the candles belong to")
	tpsFlag := flag.String("tps", "0.015,0.02,0.03", "comma-separated take-profit fractions to sweep")
	stepSize := flag.Float64("step", 0.001, "contract step size for sizing")
	minOrder := flag.Float64("min-order", 0.001, "minimum order size in contracts")
	flag.Parse()

	if *file == "" {
		log.Fatal("FATAL: -file is required")
	}

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	// 2. Load candles from CSV
	candles, err := backtest.ReadCandlesCSV(*file)
	if err != nil {
		appLogger.Error(ctx, err, "Error loading candles", map[string]interface{}{"file": *file})
		log.Fatalf("Error loading candles: %v", err)
	}
	appLogger.Info(ctx, "Loaded candles", map[string]interface{}{"file": *file, "count": len(candles)})

	// 3. Signal source and sizing, same construction as the live engine
	signals, err := strategy.NewMACross(strategy.MACrossConfig{
		FastPeriod:    cfg.StrategyFastMAPeriod,
		SlowPeriod:    cfg.StrategySlowMAPeriod,
		RSIPeriod:     cfg.StrategyRSIPeriod,
		RSIOverbought: cfg.StrategyRSIOverbought,
		RSIOversold:   cfg.StrategyRSIOversold,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to create signal source: %v", err)
	}

	sizer, err := sizing.New(appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to create sizing converter: %v", err)
	}
	sizer.Update(ctx, map[string]domain.SymbolSpec{
		*symbol: {Symbol: *symbol, ContractMultiplier: 1, StepSize: *stepSize, MinOrderSize: *minOrder},
	})

	runner, err := backtest.NewRunner(appLogger, signals, sizer)
	if err != nil {
		log.Fatalf("FATAL: Failed to create backtest runner: %v", err)
	}

	// 4. Sweep take-profit levels
	for _, tpStr := range strings.Split(*tpsFlag, ",") {
		tp, err := strconv.ParseFloat(strings.TrimSpace(tpStr), 64)
		if err != nil {
			appLogger.Warn(ctx, "Skipping unparseable take-profit level", map[string]interface{}{"value": tpStr})
			continue
		}

		result, err := runner.Run(ctx, candles, backtest.Config{
			Symbol:         *symbol,
			Mode:           cfg.Mode,
			InitialBalance: 1000,
			FixedMargin:    cfg.FixedMargin,
			Leverage:       cfg.Leverage,
			TakeProfitPct:  tp,
			StopLossPct:    cfg.StopLossPct,
		})
		if err != nil {
			appLogger.Error(ctx, err, "Backtest error", map[string]interface{}{"tp": tp})
			continue
		}

		perf := result.Performance
		appLogger.Info(ctx, "Backtest result", map[string]interface{}{
			"TP":           tp * 100,
			"Trades":       perf.TotalTrades,
			"WinRate":      perf.WinRate * 100,
			"PnL":          perf.TotalPnL,
			"MaxDD":        perf.MaxDrawdown,
			"AvgWin":       perf.AverageWin,
			"AvgLoss":      perf.AverageLoss,
			"ProfitFactor": perf.ProfitFactor,
			"FinalBalance": perf.FinalBalance,
			"Skipped":      result.Skipped,
		})
	}
}
