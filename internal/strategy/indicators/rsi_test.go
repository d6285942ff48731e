package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSI(t *testing.T) {
	t.Run("all gains saturates at 100", func(t *testing.T) {
		got, err := RSI(candlesFromCloses(1, 2, 3, 4, 5, 6), 5)
		require.NoError(t, err)
		assert.Equal(t, 100.0, got)
	})

	t.Run("all losses saturates near 0", func(t *testing.T) {
		got, err := RSI(candlesFromCloses(6, 5, 4, 3, 2, 1), 5)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, got, 1e-9)
	})

	t.Run("flat history is neutral", func(t *testing.T) {
		got, err := RSI(candlesFromCloses(5, 5, 5, 5, 5, 5), 5)
		require.NoError(t, err)
		assert.Equal(t, 50.0, got)
	})

	t.Run("mixed moves stay in range", func(t *testing.T) {
		got, err := RSI(candlesFromCloses(10, 12, 11, 13, 12, 14, 13, 15), 5)
		require.NoError(t, err)
		assert.Greater(t, got, 50.0, "net uptrend should read above neutral")
		assert.Less(t, got, 100.0)
	})

	t.Run("not enough data", func(t *testing.T) {
		_, err := RSI(candlesFromCloses(1, 2, 3), 5)
		assert.Error(t, err)
	})
}
