package models

import (
	"math"
	"time"
)

// Действия торгового сигнала
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Candle представляет дневную свечу
type Candle struct {
	Symbol    string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// IndicatorSet представляет набор индикаторов: имя -> серия значений,
// выровненная 1:1 со входными свечами. Начальные значения, для которых
// не хватает истории, помечены NaN.
type IndicatorSet map[string][]float64

// Last возвращает последнее определенное значение индикатора
func (s IndicatorSet) Last(name string) (float64, bool) {
	series, ok := s[name]
	if !ok || len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Snapshot возвращает последние определенные значения всех индикаторов
func (s IndicatorSet) Snapshot() map[string]float64 {
	snapshot := make(map[string]float64, len(s))
	for name := range s {
		if v, ok := s.Last(name); ok {
			snapshot[name] = v
		}
	}
	return snapshot
}

// PredictionResult представляет прогноз модели для следующего дня
type PredictionResult struct {
	PredictedPrice     float64            `json:"predicted_price"`
	PredictedChangePct float64            `json:"predicted_change_pct"`
	ConfidenceLow      float64            `json:"confidence_low"`
	ConfidenceHigh     float64            `json:"confidence_high"`
	ModelVersion       string             `json:"model_version"`
	FeatureImportance  map[string]float64 `json:"feature_importance,omitempty"`
}

// SentimentResult представляет оценку настроения от AI-провайдера
type SentimentResult struct {
	Score     float64 `json:"score"` // от -1 до 1
	Label     string  `json:"label"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Signal представляет торговый сигнал для одного символа
type Signal struct {
	Symbol       string             `json:"symbol"`
	Action       string             `json:"action"`
	Confidence   float64            `json:"confidence"`
	Score        float64            `json:"score"`
	Reasoning    []string           `json:"reasoning"`
	Indicators   map[string]float64 `json:"indicators"`
	Prediction   *PredictionResult  `json:"price_prediction,omitempty"`
	Sentiment    *SentimentResult   `json:"sentiment,omitempty"`
	CurrentPrice float64            `json:"current_price"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Position представляет открытую позицию в портфеле
type Position struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	AvgPrice  float64 `json:"avg_price"`
	TotalCost float64 `json:"total_cost"`
}

// PortfolioState представляет полное состояние портфеля для сохранения
type PortfolioState struct {
	CashBalance    float64    `json:"cash_balance"`
	Positions      []Position `json:"positions"`
	TotalValue     float64    `json:"total_value"`
	InitialBalance float64    `json:"initial_balance"`
	RealizedPnL    float64    `json:"realized_pnl"`
	LastUpdated    time.Time  `json:"last_updated"`
}

// Order представляет исполненный ордер, запись не изменяется после создания
type Order struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionRecord представляет итог одной торговой сессии для истории
type SessionRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Date            string    `json:"date"`
	SymbolsAnalyzed int       `json:"symbols_analyzed"`
	Signals         []*Signal `json:"signals"`
	Orders          []*Order  `json:"orders"`
	PortfolioValue  float64   `json:"portfolio_value"`
	CashBalance     float64   `json:"cash_balance"`
}
