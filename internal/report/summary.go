package report

import (
	"sort"
	"time"

	"perpbot/internal/domain"
)

// Performance holds aggregate statistics over a set of closed trades.
type Performance struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalPnL      float64
	AverageWin    float64
	AverageLoss   float64
	ProfitFactor  float64
	MaxDrawdown   float64 // as a fraction of the equity peak
	FinalBalance  float64
}

// Summarize computes performance statistics from trades against an
// initial balance. Trades are processed in close-time order.
func Summarize(trades []domain.ClosedTrade, initialBalance float64) Performance {
	perf := Performance{FinalBalance: initialBalance}
	if len(trades) == 0 {
		return perf
	}

	ordered := make([]domain.ClosedTrade, len(trades))
	copy(ordered, trades)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ClosedAt.Before(ordered[j].ClosedAt)
	})

	var grossWin, grossLoss float64
	peak := initialBalance
	for _, trade := range ordered {
		perf.TotalTrades++
		perf.TotalPnL += trade.PnL
		perf.FinalBalance += trade.PnL

		if trade.PnL > 0 {
			perf.WinningTrades++
			grossWin += trade.PnL
		} else {
			perf.LosingTrades++
			grossLoss -= trade.PnL
		}

		if perf.FinalBalance > peak {
			peak = perf.FinalBalance
		} else if peak > 0 {
			if dd := (peak - perf.FinalBalance) / peak; dd > perf.MaxDrawdown {
				perf.MaxDrawdown = dd
			}
		}
	}

	perf.WinRate = float64(perf.WinningTrades) / float64(perf.TotalTrades)
	if perf.WinningTrades > 0 {
		perf.AverageWin = grossWin / float64(perf.WinningTrades)
	}
	if perf.LosingTrades > 0 {
		perf.AverageLoss = -grossLoss / float64(perf.LosingTrades)
	}
	if grossLoss > 0 {
		perf.ProfitFactor = grossWin / grossLoss
	}
	return perf
}

// BucketHourly groups trades into hourly summaries, sorted by bucket.
// The sqlite trade store offers the same aggregation via SQL; this
// in-memory version serves backtests and tests.
func BucketHourly(trades []domain.ClosedTrade) []HourlySummary {
	return bucket(trades, func(t time.Time) time.Time { return t.Truncate(time.Hour) })
}

// BucketDaily groups trades into daily summaries, sorted by bucket.
func BucketDaily(trades []domain.ClosedTrade) []HourlySummary {
	return bucket(trades, func(t time.Time) time.Time {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	})
}

// HourlySummary aggregates the trades whose close time falls in one bucket.
type HourlySummary struct {
	Bucket time.Time
	Trades int
	Wins   int
	PnL    float64
}

func bucket(trades []domain.ClosedTrade, truncate func(time.Time) time.Time) []HourlySummary {
	byBucket := make(map[time.Time]*HourlySummary)
	for _, trade := range trades {
		key := truncate(trade.ClosedAt.UTC())
		s, ok := byBucket[key]
		if !ok {
			s = &HourlySummary{Bucket: key}
			byBucket[key] = s
		}
		s.Trades++
		if trade.PnL > 0 {
			s.Wins++
		}
		s.PnL += trade.PnL
	}

	out := make([]HourlySummary, 0, len(byBucket))
	for _, s := range byBucket {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out
}
