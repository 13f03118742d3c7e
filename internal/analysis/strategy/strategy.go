package strategy

import (
	"fmt"
	"math"
	"time"

	"dtb/internal/config"
	"dtb/pkg/models"
)

// Engine генерирует торговый сигнал из индикаторов, необязательного
// прогноза цены и необязательной оценки настроения. Чистая функция своих
// входов: сам никуда не обращается, отсутствующие входы исключаются из
// взвешивания, а не считаются нулем.
type Engine struct {
	config config.StrategyConfig
}

// NewEngine создает новый движок стратегии
func NewEngine(cfg config.StrategyConfig) *Engine {
	return &Engine{
		config: cfg,
	}
}

// category представляет одну категорию сигнала с её вкладом
type category struct {
	score  float64
	weight float64
	ok     bool
}

// GenerateSignal генерирует сигнал для символа. position — открытая позиция
// портфеля по символу или nil; используется только для стоп-лосса и
// тейк-профита. Пустая серия свечей дает нейтральный HOLD с нулевой
// уверенностью.
func (e *Engine) GenerateSignal(
	symbol string,
	candles []*models.Candle,
	set models.IndicatorSet,
	prediction *models.PredictionResult,
	sentiment *models.SentimentResult,
	position *models.Position,
) *models.Signal {
	if len(candles) == 0 {
		return &models.Signal{
			Symbol:     symbol,
			Action:     models.ActionHold,
			Confidence: 0,
			Reasoning:  []string{"История свечей пуста: сигнал не рассчитан"},
			Indicators: map[string]float64{},
			Timestamp:  time.Now(),
		}
	}

	currentPrice := candles[len(candles)-1].Close
	var reasoning []string

	// Категории оцениваются в фиксированном порядке, каждая дает
	// ограниченный вклад в диапазоне [-1, 1]
	trend := e.scoreTrend(set, currentPrice, &reasoning)
	momentum := e.scoreMomentum(set, &reasoning)
	volume := e.scoreVolume(set, candles, &reasoning)
	pred := e.scorePrediction(prediction, &reasoning)
	sent := e.scoreSentiment(sentiment, &reasoning)

	// Взвешенная сумма по доступным категориям: веса отсутствующих
	// входов не попадают в знаменатель
	var weightedSum, totalWeight float64
	for _, c := range []category{trend, momentum, volume, pred, sent} {
		if !c.ok {
			continue
		}
		weightedSum += c.score * c.weight
		totalWeight += c.weight
	}

	score := 0.0
	if totalWeight > 0 {
		score = weightedSum / totalWeight
	}
	reasoning = append(reasoning, fmt.Sprintf("Итоговая оценка %.3f (порог покупки %.2f, порог продажи %.2f)",
		score, e.config.BuyThreshold, e.config.SellThreshold))

	action, confidence := e.actionFromScore(score)
	reasoning = append(reasoning, fmt.Sprintf("Оценка дает действие %s с уверенностью %.2f", action, confidence))

	// Порог минимальной уверенности: слабые сигналы не исполняются,
	// но исходное действие остается в обосновании
	if action != models.ActionHold && confidence < e.config.MinConfidence {
		reasoning = append(reasoning, fmt.Sprintf("Уверенность %.2f ниже порога %.2f: %s понижен до HOLD",
			confidence, e.config.MinConfidence, action))
		action = models.ActionHold
	}

	// Риск-менеджмент имеет приоритет над оценкой: убыток или прибыль
	// открытой позиции за порогом принудительно закрывает позицию
	if position != nil && position.Quantity > 0 && position.AvgPrice > 0 {
		pnlPct := (currentPrice - position.AvgPrice) / position.AvgPrice
		switch {
		case pnlPct <= -e.config.StopLossPct:
			action = models.ActionSell
			confidence = 1.0
			reasoning = append(reasoning, fmt.Sprintf(
				"Стоп-лосс: убыток %.2f%% превысил порог %.2f%%, принудительная продажа",
				pnlPct*100, e.config.StopLossPct*100))
		case pnlPct >= e.config.TakeProfitPct:
			action = models.ActionSell
			confidence = 1.0
			reasoning = append(reasoning, fmt.Sprintf(
				"Тейк-профит: прибыль %.2f%% достигла порога %.2f%%, фиксация прибыли",
				pnlPct*100, e.config.TakeProfitPct*100))
		}
	}

	return &models.Signal{
		Symbol:       symbol,
		Action:       action,
		Confidence:   confidence,
		Score:        score,
		Reasoning:    reasoning,
		Indicators:   set.Snapshot(),
		Prediction:   prediction,
		Sentiment:    sentiment,
		CurrentPrice: currentPrice,
		Timestamp:    time.Now(),
	}
}

// actionFromScore отображает оценку в действие. Уверенность растет с
// расстоянием за порогом и ограничена [0,1]; для HOLD уверенность —
// степень нейтральности оценки.
func (e *Engine) actionFromScore(score float64) (string, float64) {
	switch {
	case score >= e.config.BuyThreshold:
		// Порог на границе диапазона: любое срабатывание максимально уверенно
		if span := 1 - e.config.BuyThreshold; span > 0 {
			return models.ActionBuy, clamp((score-e.config.BuyThreshold)/span, 0, 1)
		}
		return models.ActionBuy, 1
	case score <= e.config.SellThreshold:
		if span := 1 + e.config.SellThreshold; span > 0 {
			return models.ActionSell, clamp((e.config.SellThreshold-score)/span, 0, 1)
		}
		return models.ActionSell, 1
	default:
		limit := math.Max(e.config.BuyThreshold, -e.config.SellThreshold)
		return models.ActionHold, clamp(1-math.Abs(score)/limit, 0, 1)
	}
}

// scoreTrend оценивает трендовые индикаторы: пересечение скользящих
// средних и положение цены относительно полос Боллинджера
func (e *Engine) scoreTrend(set models.IndicatorSet, price float64, reasoning *[]string) category {
	smaShort, okShort := set.Last("sma_10")
	smaLong, okLong := set.Last("sma_20")
	if !okShort || !okLong {
		*reasoning = append(*reasoning, "Трендовые индикаторы недоступны: мало истории")
		return category{}
	}

	var score float64
	if smaShort > smaLong {
		score += 0.4
	} else {
		score -= 0.4
	}

	if smaTrend, ok := set.Last("sma_50"); ok {
		if price > smaTrend {
			score += 0.2
		} else {
			score -= 0.2
		}
	}

	upper, okUpper := set.Last("bb_upper")
	lower, okLower := set.Last("bb_lower")
	if okUpper && okLower && upper > lower {
		// Позиция цены в полосе: 0 — нижняя граница, 1 — верхняя
		percentB := (price - lower) / (upper - lower)
		switch {
		case percentB > 1:
			score -= 0.4 // выход за верхнюю полосу — перекупленность
		case percentB < 0:
			score += 0.4 // выход за нижнюю полосу — перепроданность
		default:
			score += (0.5 - percentB) * 0.4
		}
	}

	score = clamp(score, -1, 1)
	*reasoning = append(*reasoning, fmt.Sprintf(
		"Тренд: SMA10 %.2f против SMA20 %.2f, вклад %.2f", smaShort, smaLong, score))
	return category{score: score, weight: e.config.Weights.Trend, ok: true}
}

// scoreMomentum оценивает импульс: зоны RSI и гистограмму MACD
func (e *Engine) scoreMomentum(set models.IndicatorSet, reasoning *[]string) category {
	rsi, okRSI := set.Last("rsi_14")
	if !okRSI {
		*reasoning = append(*reasoning, "Импульсные индикаторы недоступны: мало истории")
		return category{}
	}

	// RSI: перепроданность тянет к покупке, перекупленность — к продаже
	var rsiScore float64
	switch {
	case rsi < 30:
		rsiScore = (30 - rsi) / 30
	case rsi > 70:
		rsiScore = -(rsi - 70) / 30
	default:
		rsiScore = (50 - rsi) / 50 * 0.3
	}

	// Гистограмма MACD: знак задает направление, величина нормируется
	// по максимуму серии
	var macdScore float64
	if hist, ok := set.Last("macd_hist"); ok {
		maxAbs := 0.0
		for _, h := range set["macd_hist"] {
			if !math.IsNaN(h) && math.Abs(h) > maxAbs {
				maxAbs = math.Abs(h)
			}
		}
		if maxAbs > 0 {
			macdScore = hist / maxAbs
		}
	}

	score := clamp(rsiScore*0.6+macdScore*0.4, -1, 1)
	*reasoning = append(*reasoning, fmt.Sprintf("Импульс: RSI %.1f, вклад %.2f", rsi, score))
	return category{score: score, weight: e.config.Weights.Momentum, ok: true}
}

// scoreVolume оценивает подтверждение объемом: направление последней
// свечи, усиленное отношением объема к среднему
func (e *Engine) scoreVolume(set models.IndicatorSet, candles []*models.Candle, reasoning *[]string) category {
	ratio, ok := set.Last("volume_ratio")
	if !ok {
		*reasoning = append(*reasoning, "Объемные индикаторы недоступны: мало истории")
		return category{}
	}

	last := candles[len(candles)-1]
	direction := 1.0
	if last.Close < last.Open {
		direction = -1.0
	}

	// Объем ниже среднего почти не подтверждает движение
	strength := clamp((ratio-0.5)/(e.config.VolumeThreshold-0.5), 0, 1)
	score := direction * strength

	*reasoning = append(*reasoning, fmt.Sprintf(
		"Объем: отношение к среднему %.2f, вклад %.2f", ratio, score))
	return category{score: score, weight: e.config.Weights.Volume, ok: true}
}

// scorePrediction оценивает прогноз модели: знак и величина ожидаемого
// изменения, насыщение на 5%
func (e *Engine) scorePrediction(prediction *models.PredictionResult, reasoning *[]string) category {
	if prediction == nil {
		*reasoning = append(*reasoning, "Прогноз цены недоступен: вход исключен из оценки")
		return category{}
	}

	score := clamp(prediction.PredictedChangePct/5, -1, 1)
	*reasoning = append(*reasoning, fmt.Sprintf(
		"Прогноз: модель %s ожидает изменение %.2f%%, вклад %.2f",
		prediction.ModelVersion, prediction.PredictedChangePct, score))
	return category{score: score, weight: e.config.Weights.Prediction, ok: true}
}

// scoreSentiment оценивает настроение AI-провайдера
func (e *Engine) scoreSentiment(sentiment *models.SentimentResult, reasoning *[]string) category {
	if sentiment == nil {
		*reasoning = append(*reasoning, "Оценка настроения недоступна: вход исключен из оценки")
		return category{}
	}

	score := clamp(sentiment.Score, -1, 1)
	*reasoning = append(*reasoning, fmt.Sprintf(
		"Настроение: %s (%.2f), вклад %.2f", sentiment.Label, sentiment.Score, score))
	return category{score: score, weight: e.config.Weights.Sentiment, ok: true}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
