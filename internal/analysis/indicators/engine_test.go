package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtb/internal/config"
	"dtb/pkg/models"
)

func testConfig() config.IndicatorsConfig {
	return config.IndicatorsConfig{
		SMAPeriods:   []int{10, 20, 50},
		EMAPeriods:   []int{10, 20, 50},
		RSIPeriod:    14,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		BBPeriod:     20,
		BBStdDev:     2.0,
		VolumePeriod: 20,
	}
}

// makeCandles строит детерминированную серию свечей: тренд плюс синусоида
func makeCandles(n int) []*models.Candle {
	candles := make([]*models.Candle, n)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		close := 100 + 0.3*float64(i) + 4*math.Sin(float64(i)/6)
		open := close - 0.5
		candles[i] = &models.Candle{
			Symbol:    "TESTUSDT",
			OpenTime:  start.AddDate(0, 0, i),
			Open:      open,
			High:      close + 1,
			Low:       open - 1,
			Close:     close,
			Volume:    1000 + 50*math.Sin(float64(i)/3),
			CloseTime: start.AddDate(0, 0, i+1),
		}
	}
	return candles
}

func TestComputeDeterministic(t *testing.T) {
	engine := NewEngine(testConfig())
	candles := makeCandles(100)

	first, err := engine.Compute(candles)
	require.NoError(t, err)
	second, err := engine.Compute(candles)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for name, series := range first {
		other := second[name]
		require.Len(t, other, len(series), "серия %s", name)
		for i := range series {
			if math.IsNaN(series[i]) {
				assert.True(t, math.IsNaN(other[i]), "серия %s, индекс %d", name, i)
				continue
			}
			assert.Equal(t, series[i], other[i], "серия %s, индекс %d", name, i)
		}
	}
}

func TestComputeLeadingUndefined(t *testing.T) {
	engine := NewEngine(testConfig())
	set, err := engine.Compute(makeCandles(100))
	require.NoError(t, err)

	// SMA-10: первые 9 значений не определены
	for i := 0; i < 9; i++ {
		assert.True(t, math.IsNaN(set["sma_10"][i]), "индекс %d", i)
	}
	assert.False(t, math.IsNaN(set["sma_10"][9]))

	// RSI-14: первые 14 значений не определены
	for i := 0; i < 14; i++ {
		assert.True(t, math.IsNaN(set["rsi_14"][i]), "индекс %d", i)
	}
	assert.False(t, math.IsNaN(set["rsi_14"][14]))
}

func TestComputeSMAValue(t *testing.T) {
	engine := NewEngine(testConfig())

	// Закрытия 1..20: SMA-10 на индексе 9 равна среднему 1..10
	candles := makeCandles(20)
	for i, c := range candles {
		c.Close = float64(i + 1)
	}

	set, err := engine.Compute(candles)
	require.NoError(t, err)
	assert.InDelta(t, 5.5, set["sma_10"][9], 1e-9)
	assert.InDelta(t, 15.5, set["sma_10"][19], 1e-9)
}

func TestComputeShortSeries(t *testing.T) {
	engine := NewEngine(testConfig())

	// Истории не хватает на длинные окна: серии помечены NaN,
	// а не рассчитаны по неполным данным
	set, err := engine.Compute(makeCandles(15))
	require.NoError(t, err)
	for _, v := range set["sma_50"] {
		assert.True(t, math.IsNaN(v))
	}
	for _, v := range set["macd_signal"] {
		assert.True(t, math.IsNaN(v))
	}
	// Короткие окна при этом определены
	assert.False(t, math.IsNaN(set["sma_10"][14]))
}

func TestComputeEmptySeries(t *testing.T) {
	engine := NewEngine(testConfig())
	_, err := engine.Compute(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestComputeRSIRange(t *testing.T) {
	engine := NewEngine(testConfig())
	set, err := engine.Compute(makeCandles(200))
	require.NoError(t, err)

	for i, v := range set["rsi_14"] {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0, "индекс %d", i)
		assert.LessOrEqual(t, v, 100.0, "индекс %d", i)
	}
}

func TestVolumeRatioConstantVolume(t *testing.T) {
	engine := NewEngine(testConfig())
	candles := makeCandles(60)
	for _, c := range candles {
		c.Volume = 1000
	}

	set, err := engine.Compute(candles)
	require.NoError(t, err)

	ratio, ok := set.Last("volume_ratio")
	require.True(t, ok)
	assert.InDelta(t, 1.0, ratio, 1e-9)
}

func TestSnapshotSkipsUndefined(t *testing.T) {
	engine := NewEngine(testConfig())
	set, err := engine.Compute(makeCandles(15))
	require.NoError(t, err)

	snapshot := set.Snapshot()
	_, hasShort := snapshot["sma_10"]
	_, hasLong := snapshot["sma_50"]
	assert.True(t, hasShort)
	assert.False(t, hasLong)
}
