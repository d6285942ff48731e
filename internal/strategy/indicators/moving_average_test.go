package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
)

func candlesFromCloses(closes ...float64) []*domain.Candle {
	out := make([]*domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = &domain.Candle{Close: c, IsFinal: true}
	}
	return out
}

func TestSMA(t *testing.T) {
	tests := []struct {
		name    string
		closes  []float64
		period  int
		want    float64
		wantErr bool
	}{
		{
			name:   "simple average",
			closes: []float64{1, 2, 3, 4, 5},
			period: 5,
			want:   3,
		},
		{
			name:   "uses only the trailing window",
			closes: []float64{100, 100, 10, 20, 30},
			period: 3,
			want:   20,
		},
		{
			name:    "not enough data",
			closes:  []float64{1, 2},
			period:  3,
			wantErr: true,
		},
		{
			name:    "invalid period",
			closes:  []float64{1, 2, 3},
			period:  0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SMA(candlesFromCloses(tt.closes...), tt.period)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSMASeries(t *testing.T) {
	values, valid, err := SMASeries(candlesFromCloses(1, 2, 3, 4, 5), 3)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false, true, true, true}, valid)
	assert.InDelta(t, 2.0, values[2], 1e-9)
	assert.InDelta(t, 3.0, values[3], 1e-9)
	assert.InDelta(t, 4.0, values[4], 1e-9)
}

func TestEMA(t *testing.T) {
	// Seeded with SMA(1,2,3)=2, multiplier 0.5:
	// ema(4) = (4-2)*0.5+2 = 3; ema(5) = (5-3)*0.5+3 = 4
	got, err := EMA(candlesFromCloses(1, 2, 3, 4, 5), 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-9)

	_, err = EMA(candlesFromCloses(1, 2), 3)
	assert.Error(t, err)
}
