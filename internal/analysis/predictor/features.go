package predictor

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"dtb/pkg/models"
)

// featureMatrix представляет инженерные признаки: строки выровнены 1:1
// со свечами, строки с неполной историей содержат NaN
type featureMatrix struct {
	names []string
	rows  [][]float64
}

// buildFeatures строит матрицу из 30 признаков по серии свечей.
// Набор повторяет признаки, на которых обучаются сохраненные модели,
// поэтому любое изменение здесь требует переобучения (см. проверку схемы).
func buildFeatures(candles []*models.Candle) *featureMatrix {
	n := len(candles)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		opens[i] = c.Open
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	columns := make(map[string][]float64)
	var names []string
	add := func(name string, series []float64) {
		names = append(names, name)
		columns[name] = series
	}

	// Доходности
	returns := pctChange(closes, 1)
	add("returns", returns)
	add("log_returns", logReturns(closes))

	// Отношение цены к скользящим средним
	for _, period := range []int{5, 10, 20, 50} {
		sma := leadingNaN(talibOrNaN(closes, period, func() []float64 { return talib.Sma(closes, period) }), period-1)
		add(fmt.Sprintf("price_to_sma_%d", period), ratio(closes, sma))
		ema := leadingNaN(talibOrNaN(closes, period, func() []float64 { return talib.Ema(closes, period) }), period-1)
		add(fmt.Sprintf("price_to_ema_%d", period), ratio(closes, ema))
	}

	// Импульс и скорость изменения
	add("momentum_5", diff(closes, 5))
	add("momentum_10", diff(closes, 10))
	add("roc_5", scale(pctChange(closes, 5), 100))

	// Волатильность доходностей
	add("volatility_10", rollingStd(returns, 10))
	add("volatility_20", rollingStd(returns, 20))

	// Осцилляторы
	add("rsi_14", leadingNaN(talibOrNaN(closes, 15, func() []float64 { return talib.Rsi(closes, 14) }), 14))

	if n >= 34 {
		macd, macdSignal, macdHist := talib.Macd(closes, 12, 26, 9)
		add("macd", leadingNaN(macd, 25))
		add("macd_signal", leadingNaN(macdSignal, 33))
		add("macd_hist", leadingNaN(macdHist, 33))
	} else {
		add("macd", nanSeries(n))
		add("macd_signal", nanSeries(n))
		add("macd_hist", nanSeries(n))
	}

	// Bollinger Bands: ширина полосы и позиция цены в полосе
	bbWidth := nanSeries(n)
	bbPosition := nanSeries(n)
	if n >= 20 {
		upper, middle, lower := talib.BBands(closes, 20, 2.0, 2.0, talib.SMA)
		for i := 19; i < n; i++ {
			if middle[i] != 0 {
				bbWidth[i] = (upper[i] - lower[i]) / middle[i]
			}
			if band := upper[i] - lower[i]; band != 0 {
				bbPosition[i] = (closes[i] - lower[i]) / band
			}
		}
	}
	add("bb_width", bbWidth)
	add("bb_position", bbPosition)

	// Объем
	volumeSMA := leadingNaN(talibOrNaN(volumes, 20, func() []float64 { return talib.Sma(volumes, 20) }), 19)
	add("volume_ratio", ratio(volumes, volumeSMA))
	add("volume_change", pctChange(volumes, 1))

	// Структура свечи
	add("high_low_ratio", ratio(highs, lows))
	add("close_open_ratio", ratio(closes, opens))

	// Лаговые доходности
	for lag := 1; lag <= 5; lag++ {
		add(fmt.Sprintf("return_lag_%d", lag), shift(returns, lag))
	}

	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, len(names))
		for j, name := range names {
			row[j] = columns[name][i]
		}
		rows[i] = row
	}

	return &featureMatrix{names: names, rows: rows}
}

// completeRows возвращает индексы строк без NaN
func (m *featureMatrix) completeRows() []int {
	var idx []int
	for i, row := range m.rows {
		if rowComplete(row) {
			idx = append(idx, i)
		}
	}
	return idx
}

func rowComplete(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// pctChange возвращает относительное изменение за lag периодов
func pctChange(series []float64, lag int) []float64 {
	out := nanSeries(len(series))
	for i := lag; i < len(series); i++ {
		if series[i-lag] != 0 {
			out[i] = (series[i] - series[i-lag]) / series[i-lag]
		}
	}
	return out
}

func logReturns(series []float64) []float64 {
	out := nanSeries(len(series))
	for i := 1; i < len(series); i++ {
		if series[i-1] > 0 && series[i] > 0 {
			out[i] = math.Log(series[i] / series[i-1])
		}
	}
	return out
}

func diff(series []float64, lag int) []float64 {
	out := nanSeries(len(series))
	for i := lag; i < len(series); i++ {
		out[i] = series[i] - series[i-lag]
	}
	return out
}

func ratio(a, b []float64) []float64 {
	out := nanSeries(len(a))
	for i := range a {
		if !math.IsNaN(b[i]) && b[i] != 0 {
			out[i] = a[i] / b[i]
		}
	}
	return out
}

func scale(series []float64, factor float64) []float64 {
	for i := range series {
		series[i] *= factor
	}
	return series
}

func shift(series []float64, lag int) []float64 {
	out := nanSeries(len(series))
	for i := lag; i < len(series); i++ {
		out[i] = series[i-lag]
	}
	return out
}

// rollingStd возвращает скользящее стандартное отклонение по окну
func rollingStd(series []float64, window int) []float64 {
	out := nanSeries(len(series))
	for i := window; i < len(series); i++ {
		slice := series[i-window+1 : i+1]
		if rowComplete(slice) {
			out[i] = stat.StdDev(slice, nil)
		}
	}
	return out
}

func talibOrNaN(input []float64, minLen int, compute func() []float64) []float64 {
	if len(input) < minLen {
		return nanSeries(len(input))
	}
	return compute()
}

func leadingNaN(series []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
