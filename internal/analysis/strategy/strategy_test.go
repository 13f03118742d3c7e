package strategy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtb/internal/config"
	"dtb/pkg/models"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Weights: config.WeightsConfig{
			Trend:      0.3,
			Momentum:   0.25,
			Volume:     0.15,
			Prediction: 0.2,
			Sentiment:  0.1,
		},
		BuyThreshold:    0.25,
		SellThreshold:   -0.25,
		MinConfidence:   0.6,
		VolumeThreshold: 1.5,
		StopLossPct:     0.05,
		TakeProfitPct:   0.10,
	}
}

// testCandles строит минимальную историю с заданной ценой закрытия,
// последняя свеча бычья
func testCandles(lastClose float64) []*models.Candle {
	return []*models.Candle{
		{Symbol: "BTCUSDT", Open: lastClose, High: lastClose + 1, Low: lastClose - 1, Close: lastClose},
		{Symbol: "BTCUSDT", Open: lastClose - 1, High: lastClose + 1, Low: lastClose - 2, Close: lastClose},
	}
}

// bullishSet собирает индикаторы, однозначно указывающие на покупку
func bullishSet(price float64) models.IndicatorSet {
	return models.IndicatorSet{
		"sma_10":       []float64{price * 1.05},
		"sma_20":       []float64{price},
		"sma_50":       []float64{price * 0.9},
		"bb_upper":     []float64{price * 1.3},
		"bb_lower":     []float64{price * 0.95},
		"bb_middle":    []float64{price * 1.1},
		"rsi_14":       []float64{25},
		"macd_hist":    []float64{1.0},
		"volume_ratio": []float64{2.0},
	}
}

// bearishSet собирает индикаторы, однозначно указывающие на продажу
func bearishSet(price float64) models.IndicatorSet {
	return models.IndicatorSet{
		"sma_10":       []float64{price * 0.95},
		"sma_20":       []float64{price},
		"sma_50":       []float64{price * 1.1},
		"bb_upper":     []float64{price * 1.02},
		"bb_lower":     []float64{price * 0.8},
		"rsi_14":       []float64{80},
		"macd_hist":    []float64{-1.0},
		"volume_ratio": []float64{2.0},
	}
}

func hasReason(signal *models.Signal, substr string) bool {
	for _, r := range signal.Reasoning {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func TestBuySignalFromBullishInputs(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.MinConfidence = 0.1
	engine := NewEngine(cfg)

	prediction := &models.PredictionResult{PredictedChangePct: 4.0, ModelVersion: "rf-1"}
	sentiment := &models.SentimentResult{Score: 0.8, Label: "positive"}

	signal := engine.GenerateSignal("BTCUSDT", testCandles(100), bullishSet(100), prediction, sentiment, nil)

	assert.Equal(t, models.ActionBuy, signal.Action)
	assert.Greater(t, signal.Score, cfg.BuyThreshold)
	assert.Greater(t, signal.Confidence, 0.0)
	assert.Equal(t, 100.0, signal.CurrentPrice)
}

func TestSellSignalFromBearishInputs(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.MinConfidence = 0.1
	engine := NewEngine(cfg)

	// Медвежья свеча: закрытие ниже открытия
	candles := testCandles(100)
	candles[1].Open = 102

	prediction := &models.PredictionResult{PredictedChangePct: -4.0, ModelVersion: "rf-1"}
	sentiment := &models.SentimentResult{Score: -0.8, Label: "negative"}

	signal := engine.GenerateSignal("BTCUSDT", candles, bearishSet(100), prediction, sentiment, nil)

	assert.Equal(t, models.ActionSell, signal.Action)
	assert.Less(t, signal.Score, cfg.SellThreshold)
}

func TestNeutralInputsHold(t *testing.T) {
	engine := NewEngine(testStrategyConfig())

	set := models.IndicatorSet{
		"sma_10":       []float64{100},
		"sma_20":       []float64{100.01},
		"rsi_14":       []float64{50},
		"macd_hist":    []float64{0},
		"volume_ratio": []float64{0.3},
	}

	signal := engine.GenerateSignal("BTCUSDT", testCandles(100), set, nil, nil, nil)
	assert.Equal(t, models.ActionHold, signal.Action)
}

// Отсутствующие входы исключаются из взвешивания: при единственной
// доступной категории итоговая оценка равна её вкладу независимо от веса
func TestRenormalizationOverAvailableInputs(t *testing.T) {
	engine := NewEngine(testStrategyConfig())

	trendOnly := models.IndicatorSet{
		"sma_10": []float64{105},
		"sma_20": []float64{100},
	}

	signal := engine.GenerateSignal("BTCUSDT", testCandles(100), trendOnly, nil, nil, nil)

	assert.InDelta(t, 0.4, signal.Score, 1e-9)
	assert.True(t, hasReason(signal, "Прогноз цены недоступен"))
	assert.True(t, hasReason(signal, "Оценка настроения недоступна"))
}

// Отсутствующий вход — не то же самое, что вход с нулевой оценкой:
// нулевое настроение тянет положительную оценку к нулю
func TestAbsentInputDiffersFromZeroInput(t *testing.T) {
	engine := NewEngine(testStrategyConfig())
	candles := testCandles(100)
	set := bullishSet(100)

	without := engine.GenerateSignal("BTCUSDT", candles, set, nil, nil, nil)
	withZero := engine.GenerateSignal("BTCUSDT", candles, set, nil,
		&models.SentimentResult{Score: 0, Label: "neutral"}, nil)

	require.Greater(t, without.Score, 0.0)
	assert.Less(t, withZero.Score, without.Score)
}

func TestMinConfidenceGateDowngradesToHold(t *testing.T) {
	engine := NewEngine(testStrategyConfig())

	// Оценка 0.4 чуть выше порога покупки 0.25: уверенность
	// (0.4-0.25)/0.75 = 0.2 ниже порога 0.6
	trendOnly := models.IndicatorSet{
		"sma_10": []float64{105},
		"sma_20": []float64{100},
	}

	signal := engine.GenerateSignal("BTCUSDT", testCandles(100), trendOnly, nil, nil, nil)

	assert.Equal(t, models.ActionHold, signal.Action)
	assert.True(t, hasReason(signal, "понижен до HOLD"))
}

func TestStopLossForcesSell(t *testing.T) {
	engine := NewEngine(testStrategyConfig())

	// Куплено по 100, цена 94: убыток 6% за порогом 5%.
	// Бычьи индикаторы не спасают позицию — риск имеет приоритет.
	position := &models.Position{Symbol: "BTCUSDT", Quantity: 10, AvgPrice: 100, TotalCost: 1000}
	signal := engine.GenerateSignal("BTCUSDT", testCandles(94), bullishSet(94), nil, nil, position)

	assert.Equal(t, models.ActionSell, signal.Action)
	assert.Equal(t, 1.0, signal.Confidence)
	assert.True(t, hasReason(signal, "Стоп-лосс"))
}

func TestTakeProfitForcesSell(t *testing.T) {
	engine := NewEngine(testStrategyConfig())

	// Куплено по 100, цена 111: прибыль 11% за порогом 10%
	position := &models.Position{Symbol: "BTCUSDT", Quantity: 10, AvgPrice: 100, TotalCost: 1000}
	signal := engine.GenerateSignal("BTCUSDT", testCandles(111), bullishSet(111), nil, nil, position)

	assert.Equal(t, models.ActionSell, signal.Action)
	assert.Equal(t, 1.0, signal.Confidence)
	assert.True(t, hasReason(signal, "Тейк-профит"))
}

func TestPositionWithinBandsKeepsSignal(t *testing.T) {
	engine := NewEngine(testStrategyConfig())

	// Убыток 2% внутри порогов: риск-менеджмент не вмешивается
	position := &models.Position{Symbol: "BTCUSDT", Quantity: 10, AvgPrice: 100, TotalCost: 1000}
	signal := engine.GenerateSignal("BTCUSDT", testCandles(98), bullishSet(98), nil, nil, position)

	assert.False(t, hasReason(signal, "Стоп-лосс"))
	assert.False(t, hasReason(signal, "Тейк-профит"))
}

// Инвариант: уверенность всегда в [0,1] при любых комбинациях входов
func TestConfidenceAlwaysInRange(t *testing.T) {
	engine := NewEngine(testStrategyConfig())
	candles := testCandles(100)

	sets := []models.IndicatorSet{
		bullishSet(100),
		bearishSet(100),
		{"sma_10": []float64{105}, "sma_20": []float64{100}},
		{},
	}
	predictions := []*models.PredictionResult{
		nil,
		{PredictedChangePct: 20},
		{PredictedChangePct: -20},
	}
	sentiments := []*models.SentimentResult{
		nil,
		{Score: 1, Label: "positive"},
		{Score: -1, Label: "negative"},
	}
	positions := []*models.Position{
		nil,
		{Symbol: "BTCUSDT", Quantity: 10, AvgPrice: 100},
		{Symbol: "BTCUSDT", Quantity: 10, AvgPrice: 200},
	}

	for _, set := range sets {
		for _, pred := range predictions {
			for _, sent := range sentiments {
				for _, pos := range positions {
					signal := engine.GenerateSignal("BTCUSDT", candles, set, pred, sent, pos)
					assert.GreaterOrEqual(t, signal.Confidence, 0.0)
					assert.LessOrEqual(t, signal.Confidence, 1.0)
					assert.GreaterOrEqual(t, signal.Score, -1.0)
					assert.LessOrEqual(t, signal.Score, 1.0)
				}
			}
		}
	}
}

// Пустая история свечей дает нейтральный HOLD, а не панику
func TestEmptyCandlesHold(t *testing.T) {
	engine := NewEngine(testStrategyConfig())

	signal := engine.GenerateSignal("BTCUSDT", nil, models.IndicatorSet{}, nil, nil, nil)
	require.NotNil(t, signal)
	assert.Equal(t, models.ActionHold, signal.Action)
	assert.Equal(t, 0.0, signal.Confidence)
	assert.Equal(t, "BTCUSDT", signal.Symbol)
}

// Пороги на границе диапазона не дают NaN: уверенность остается в [0,1]
func TestExtremeThresholdsConfidence(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.BuyThreshold = 1
	cfg.SellThreshold = -1
	engine := NewEngine(cfg)

	// Единственная категория с максимальной оценкой: итог ровно на пороге
	buy := engine.GenerateSignal("BTCUSDT", testCandles(100), models.IndicatorSet{},
		&models.PredictionResult{PredictedChangePct: 20}, nil, nil)
	assert.Equal(t, models.ActionBuy, buy.Action)
	assert.Equal(t, 1.0, buy.Confidence)

	sell := engine.GenerateSignal("BTCUSDT", testCandles(100), models.IndicatorSet{},
		&models.PredictionResult{PredictedChangePct: -20}, nil, nil)
	assert.Equal(t, models.ActionSell, sell.Action)
	assert.Equal(t, 1.0, sell.Confidence)
}

func TestHoldConfidenceNeutrality(t *testing.T) {
	engine := NewEngine(testStrategyConfig())

	// Полностью нейтральные входы: HOLD с максимальной уверенностью
	signal := engine.GenerateSignal("BTCUSDT", testCandles(100), models.IndicatorSet{}, nil, nil, nil)
	assert.Equal(t, models.ActionHold, signal.Action)
	assert.Equal(t, 1.0, signal.Confidence)
	assert.Equal(t, 0.0, signal.Score)
}
