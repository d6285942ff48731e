// Command fetch_klines downloads historical candles for a symbol and
// writes them to a CSV file for backtesting.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"perpbot/config"
	"perpbot/internal/adapters/binance"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/backtest"
)

func main() {
	symbol := flag.String("symbol", "ETHUSDT", "symbol to fetch")
	interval := flag.String("interval", "15m", "candle interval")
	days := flag.Int("days", 90, "number of days of history to fetch")
	out := flag.String("out", "", "output CSV path (default data/<symbol>_<interval>_<range>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	// 3. Initialize Exchange Client (Binance Adapter)
	client, err := binance.New(binance.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectMinDelay:    cfg.ReconnectMinDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	end := time.Now()
	start := end.AddDate(0, 0, -*days)

	appLogger.Info(ctx, "Fetching candles", map[string]interface{}{
		"symbol": *symbol, "interval": *interval, "start": start, "end": end,
	})
	candles, err := client.CandleRange(ctx, *symbol, *interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching candles")
		log.Fatalf("Error fetching candles: %v", err)
	}
	appLogger.Info(ctx, "Fetched candles", map[string]interface{}{"count": len(candles)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", *symbol, *interval, start.Format("20060102"), end.Format("20060102"))
	}
	if err := backtest.WriteCandlesCSV(candles, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved candles", map[string]interface{}{"filename": filename})
}
