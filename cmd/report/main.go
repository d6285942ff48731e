// Command report prints realized-PnL summaries from the trade history
// database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"perpbot/config"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/adapters/sqlite"
	"perpbot/internal/ports"
)

func main() {
	bucket := flag.String("bucket", "daily", "aggregation bucket: hourly or daily")
	days := flag.Int("days", 7, "number of days to cover")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to open trade database: %v", err)
	}
	defer repo.Close()

	since := time.Now().UTC().AddDate(0, 0, -*days)

	var summaries []ports.TradeSummary
	switch *bucket {
	case "hourly":
		summaries, err = repo.SummarizeHourly(ctx, since)
	case "daily":
		summaries, err = repo.SummarizeDaily(ctx, since)
	default:
		log.Fatalf("FATAL: unknown bucket %q (want hourly or daily)", *bucket)
	}
	if err != nil {
		log.Fatalf("FATAL: Failed to summarize trades: %v", err)
	}

	total, err := repo.TotalPnL(ctx)
	if err != nil {
		log.Fatalf("FATAL: Failed to compute total PnL: %v", err)
	}

	if len(summaries) == 0 {
		fmt.Printf("No closed trades since %s.\n", since.Format("2006-01-02"))
		return
	}

	fmt.Printf("%-20s %8s %6s %12s\n", "BUCKET", "TRADES", "WINS", "PNL")
	for _, s := range summaries {
		fmt.Printf("%-20s %8d %6d %12.4f\n", s.Bucket.Format("2006-01-02 15:04"), s.Trades, s.Wins, s.PnL)
	}
	fmt.Printf("\nTotal realized PnL (all time): %.4f\n", total)
}
