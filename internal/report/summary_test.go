package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"perpbot/internal/domain"
)

func closedTrade(pnl float64, closedAt time.Time) domain.ClosedTrade {
	return domain.ClosedTrade{
		Symbol:     "BTCUSDT",
		Side:       domain.Long,
		EntryPrice: 100,
		ExitPrice:  100 + pnl,
		Contracts:  1,
		PnL:        pnl,
		OpenedAt:   closedAt.Add(-time.Hour),
		ClosedAt:   closedAt,
		Reason:     domain.ExitTakeProfit,
	}
}

func TestSummarizeEmpty(t *testing.T) {
	perf := Summarize(nil, 1000)
	assert.Equal(t, 0, perf.TotalTrades)
	assert.Equal(t, 1000.0, perf.FinalBalance)
}

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	trades := []domain.ClosedTrade{
		closedTrade(20, base),
		closedTrade(-10, base.Add(time.Hour)),
		closedTrade(30, base.Add(2*time.Hour)),
		closedTrade(-10, base.Add(3*time.Hour)),
	}

	perf := Summarize(trades, 1000)
	assert.Equal(t, 4, perf.TotalTrades)
	assert.Equal(t, 2, perf.WinningTrades)
	assert.Equal(t, 2, perf.LosingTrades)
	assert.InDelta(t, 0.5, perf.WinRate, 1e-9)
	assert.InDelta(t, 30.0, perf.TotalPnL, 1e-9)
	assert.InDelta(t, 1030.0, perf.FinalBalance, 1e-9)
	assert.InDelta(t, 25.0, perf.AverageWin, 1e-9)
	assert.InDelta(t, -10.0, perf.AverageLoss, 1e-9)
	assert.InDelta(t, 2.5, perf.ProfitFactor, 1e-9)
	// Deepest dip: 1020 -> 1010 after the first loss.
	assert.InDelta(t, 10.0/1020.0, perf.MaxDrawdown, 1e-9)
}

func TestBucketHourly(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	trades := []domain.ClosedTrade{
		closedTrade(5, base.Add(5*time.Minute)),
		closedTrade(-3, base.Add(40*time.Minute)),
		closedTrade(7, base.Add(90*time.Minute)),
	}

	sums := BucketHourly(trades)
	assert.Len(t, sums, 2)

	assert.Equal(t, base, sums[0].Bucket)
	assert.Equal(t, 2, sums[0].Trades)
	assert.Equal(t, 1, sums[0].Wins)
	assert.InDelta(t, 2.0, sums[0].PnL, 1e-9)

	assert.Equal(t, base.Add(time.Hour), sums[1].Bucket)
	assert.Equal(t, 1, sums[1].Trades)
}

func TestBucketDaily(t *testing.T) {
	day1 := time.Date(2026, 8, 1, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 2, 0, 30, 0, 0, time.UTC)
	sums := BucketDaily([]domain.ClosedTrade{
		closedTrade(5, day1),
		closedTrade(5, day2),
		closedTrade(-2, day2),
	})

	assert.Len(t, sums, 2)
	assert.Equal(t, 1, sums[0].Trades)
	assert.Equal(t, 2, sums[1].Trades)
	assert.InDelta(t, 3.0, sums[1].PnL, 1e-9)
}
