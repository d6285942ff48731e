package sizing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestConverter(t *testing.T, specs map[string]domain.SymbolSpec) *Converter {
	t.Helper()
	c, err := New(nopLogger{})
	require.NoError(t, err)
	c.Update(context.Background(), specs)
	return c
}

func TestContracts(t *testing.T) {
	specs := map[string]domain.SymbolSpec{
		"BTCUSDT": {Symbol: "BTCUSDT", ContractMultiplier: 1, StepSize: 0.001, MinOrderSize: 0.001},
		"ETHUSDT": {Symbol: "ETHUSDT", ContractMultiplier: 1, StepSize: 0.01, MinOrderSize: 0.01},
		"DOGEUSDT": {
			Symbol: "DOGEUSDT", ContractMultiplier: 1, StepSize: 1, MinOrderSize: 1,
		},
	}

	tests := []struct {
		name      string
		symbol    string
		notional  float64
		markPrice float64
		want      float64
		wantErr   error
	}{
		{
			name:   "rounds down to step",
			symbol: "ETHUSDT", notional: 500, markPrice: 3000,
			// 500/3000 = 0.1666..., floored to 0.16
			want: 0.16,
		},
		{
			name:   "exact multiple of step is unchanged",
			symbol: "ETHUSDT", notional: 300, markPrice: 3000,
			want: 0.10,
		},
		{
			name:   "integer step size",
			symbol: "DOGEUSDT", notional: 500, markPrice: 0.35,
			// 500/0.35 = 1428.57..., floored to whole contracts
			want: 1428,
		},
		{
			name:   "below exchange minimum is rejected",
			symbol: "BTCUSDT", notional: 50, markPrice: 100000,
			// 50/100000 = 0.0005, below min 0.001
			wantErr: ports.ErrSizeBelowMinimum,
		},
		{
			name:   "rounds to zero contracts",
			symbol: "DOGEUSDT", notional: 0.2, markPrice: 0.35,
			wantErr: ports.ErrSizeBelowMinimum,
		},
		{
			name:   "unknown symbol",
			symbol: "XRPUSDT", notional: 500, markPrice: 0.5,
			wantErr: ports.ErrUnknownSymbol,
		},
		{
			name:   "invalid mark price",
			symbol: "ETHUSDT", notional: 500, markPrice: 0,
			wantErr: ports.ErrInvalidRequest,
		},
	}

	conv := newTestConverter(t, specs)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conv.Contracts(tt.symbol, tt.notional, tt.markPrice)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestContractsIsIdempotent(t *testing.T) {
	conv := newTestConverter(t, map[string]domain.SymbolSpec{
		"ETHUSDT": {Symbol: "ETHUSDT", ContractMultiplier: 1, StepSize: 0.01, MinOrderSize: 0.01},
	})

	first, err := conv.Contracts("ETHUSDT", 500, 3123.45)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := conv.Contracts("ETHUSDT", 500, 3123.45)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestContractsNeverExceedsTarget(t *testing.T) {
	conv := newTestConverter(t, map[string]domain.SymbolSpec{
		"ETHUSDT": {Symbol: "ETHUSDT", ContractMultiplier: 1, StepSize: 0.01, MinOrderSize: 0.01},
	})

	prices := []float64{99.99, 1234.5, 2999.97, 3000.0, 3000.03, 48750.21}
	for _, price := range prices {
		contracts, err := conv.Contracts("ETHUSDT", 500, price)
		require.NoError(t, err)
		assert.LessOrEqual(t, contracts*price, 500.0, "price %v", price)
		// Within one step of the target after rounding down.
		assert.Greater(t, (contracts+0.01)*price, 500.0, "price %v", price)
	}
}

func TestUpdateDropsInvalidSpecs(t *testing.T) {
	conv := newTestConverter(t, map[string]domain.SymbolSpec{
		"GOOD": {Symbol: "GOOD", ContractMultiplier: 1, StepSize: 0.1, MinOrderSize: 0.1},
		"BAD":  {Symbol: "BAD", ContractMultiplier: 1, StepSize: 0, MinOrderSize: 0},
	})

	_, err := conv.Spec("GOOD")
	assert.NoError(t, err)
	_, err = conv.Spec("BAD")
	assert.ErrorIs(t, err, ports.ErrUnknownSymbol)
}
