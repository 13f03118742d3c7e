package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"dtb/internal/config"
	"dtb/pkg/models"
)

// ErrInsufficientData возвращается, когда свечей нет вовсе
var ErrInsufficientData = errors.New("недостаточно данных для расчета индикаторов")

// Engine рассчитывает набор технических индикаторов по серии свечей.
// Чистая функция входных данных: одинаковые свечи всегда дают одинаковые
// значения.
type Engine struct {
	config config.IndicatorsConfig
}

// NewEngine создает новый движок индикаторов
func NewEngine(cfg config.IndicatorsConfig) *Engine {
	return &Engine{
		config: cfg,
	}
}

// Compute рассчитывает все индикаторы для серии свечей. Серии выровнены
// 1:1 со входом; значения, для которых не хватает истории, помечены NaN,
// а не рассчитаны по неполному окну.
func (e *Engine) Compute(candles []*models.Candle) (models.IndicatorSet, error) {
	if len(candles) == 0 {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	set := make(models.IndicatorSet)

	// Скользящие средние
	for _, period := range e.config.SMAPeriods {
		set[fmt.Sprintf("sma_%d", period)] = maskLeading(safeSeries(closes, period, func() []float64 {
			return talib.Sma(closes, period)
		}), period-1)
	}
	for _, period := range e.config.EMAPeriods {
		set[fmt.Sprintf("ema_%d", period)] = maskLeading(safeSeries(closes, period, func() []float64 {
			return talib.Ema(closes, period)
		}), period-1)
	}

	// RSI: первые period значений не определены
	rsiName := fmt.Sprintf("rsi_%d", e.config.RSIPeriod)
	set[rsiName] = maskLeading(safeSeries(closes, e.config.RSIPeriod+1, func() []float64 {
		return talib.Rsi(closes, e.config.RSIPeriod)
	}), e.config.RSIPeriod)

	// MACD: линия, сигнальная линия и гистограмма
	macdLookback := e.config.MACDSlow + e.config.MACDSignal - 1
	if n >= macdLookback {
		macd, signal, hist := talib.Macd(closes, e.config.MACDFast, e.config.MACDSlow, e.config.MACDSignal)
		set["macd"] = maskLeading(macd, e.config.MACDSlow-1)
		set["macd_signal"] = maskLeading(signal, macdLookback-1)
		set["macd_hist"] = maskLeading(hist, macdLookback-1)
	} else {
		set["macd"] = allNaN(n)
		set["macd_signal"] = allNaN(n)
		set["macd_hist"] = allNaN(n)
	}

	// Bollinger Bands
	if n >= e.config.BBPeriod {
		upper, middle, lower := talib.BBands(closes, e.config.BBPeriod, e.config.BBStdDev, e.config.BBStdDev, talib.SMA)
		set["bb_upper"] = maskLeading(upper, e.config.BBPeriod-1)
		set["bb_middle"] = maskLeading(middle, e.config.BBPeriod-1)
		set["bb_lower"] = maskLeading(lower, e.config.BBPeriod-1)
	} else {
		set["bb_upper"] = allNaN(n)
		set["bb_middle"] = allNaN(n)
		set["bb_lower"] = allNaN(n)
	}

	// Объемные индикаторы: средний объем и отношение текущего к среднему
	volumeSMA := maskLeading(safeSeries(volumes, e.config.VolumePeriod, func() []float64 {
		return talib.Sma(volumes, e.config.VolumePeriod)
	}), e.config.VolumePeriod-1)
	set[fmt.Sprintf("volume_sma_%d", e.config.VolumePeriod)] = volumeSMA

	volumeRatio := make([]float64, n)
	for i := range volumes {
		if math.IsNaN(volumeSMA[i]) || volumeSMA[i] == 0 {
			volumeRatio[i] = math.NaN()
		} else {
			volumeRatio[i] = volumes[i] / volumeSMA[i]
		}
	}
	set["volume_ratio"] = volumeRatio

	return set, nil
}

// safeSeries рассчитывает серию, если данных хватает на окно,
// иначе возвращает серию из NaN той же длины
func safeSeries(input []float64, minLen int, compute func() []float64) []float64 {
	if len(input) < minLen {
		return allNaN(len(input))
	}
	return compute()
}

// maskLeading помечает первые lookback значений как неопределенные.
// talib заполняет их нулями, что неотличимо от настоящего нуля.
func maskLeading(series []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}

func allNaN(n int) []float64 {
	series := make([]float64, n)
	for i := range series {
		series[i] = math.NaN()
	}
	return series
}
