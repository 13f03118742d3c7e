package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dtb/internal/analysis/indicators"
	"dtb/internal/analysis/predictor"
	"dtb/internal/analysis/strategy"
	"dtb/internal/broker"
	"dtb/internal/config"
	"dtb/internal/storage"
	"dtb/pkg/logger"
	"dtb/pkg/models"
)

// DataSource представляет источник рыночных данных
type DataSource interface {
	GetDailyCandles(ctx context.Context, symbol string, days int) ([]*models.Candle, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// SentimentProvider представляет необязательного AI-провайдера настроения
type SentimentProvider interface {
	AnalyzeSentiment(ctx context.Context, symbol string, candles []*models.Candle) (*models.SentimentResult, error)
}

// Deps собирает зависимости бота. Sentiment и Recorder могут быть nil.
type Deps struct {
	Data      DataSource
	Sentiment SentimentProvider
	Predictor *predictor.Predictor
	Broker    *broker.PaperBroker
	Store     storage.Store
	Recorder  *storage.InfluxDBRecorder
}

// Bot оркестрирует дневную торговую сессию: анализ символов строго
// по одному, исполнение сигналов через брокера, сохранение состояния
// и истории. Ошибка одного символа не прерывает сессию.
type Bot struct {
	config     *config.Config
	data       DataSource
	sentiment  SentimentProvider
	predictor  *predictor.Predictor
	indicators *indicators.Engine
	strategy   *strategy.Engine
	broker     *broker.PaperBroker
	store      storage.Store
	recorder   *storage.InfluxDBRecorder
}

// New создает бота
func New(cfg *config.Config, deps Deps) *Bot {
	return &Bot{
		config:     cfg,
		data:       deps.Data,
		sentiment:  deps.Sentiment,
		predictor:  deps.Predictor,
		indicators: indicators.NewEngine(cfg.Indicators),
		strategy:   strategy.NewEngine(cfg.Strategy),
		broker:     deps.Broker,
		store:      deps.Store,
		recorder:   deps.Recorder,
	}
}

// LoadPortfolio восстанавливает портфель из хранилища. Отсутствие
// состояния — первый запуск, брокер остается с начальным балансом.
// Поврежденное состояние фатально для всего запуска.
func (b *Bot) LoadPortfolio() error {
	data, err := b.store.Load(storage.KeyPortfolioState)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Info("Сохраненный портфель не найден, начинаем с начального баланса",
			zap.Float64("initial_balance", b.config.Trading.InitialBalance))
		return nil
	}
	if err != nil {
		return err
	}

	var state models.PortfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("ошибка разбора состояния портфеля: %w", err)
	}
	if err := b.broker.Restore(&state); err != nil {
		return fmt.Errorf("ошибка восстановления портфеля: %w", err)
	}

	logger.Info("Портфель восстановлен",
		zap.Float64("cash_balance", state.CashBalance),
		zap.Int("positions", len(state.Positions)))
	return nil
}

// TrainModels обучает и сохраняет модели прогнозирования для символов.
// Ошибка одного символа не прерывает обучение остальных.
func (b *Bot) TrainModels(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		candles, err := b.data.GetDailyCandles(ctx, symbol, b.config.Model.TrainingDays)
		if err != nil {
			logger.Error("Не удалось получить историю для обучения",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		if _, err := b.predictor.Train(symbol, candles); err != nil {
			logger.Error("Не удалось обучить модель",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if err := b.predictor.SaveModel(symbol); err != nil {
			logger.Error("Не удалось сохранить модель",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// LoadModels загружает сохраненные модели. Отсутствие модели — штатная
// ситуация: прогноз для символа будет отсутствующим входом.
func (b *Bot) LoadModels(symbols []string) {
	for _, symbol := range symbols {
		err := b.predictor.LoadModel(symbol)
		switch {
		case err == nil:
			logger.Info("Модель загружена", zap.String("symbol", symbol))
		case errors.Is(err, predictor.ErrModelUnavailable):
			logger.Info("Модель отсутствует, анализ без прогноза", zap.String("symbol", symbol))
		default:
			logger.Warn("Не удалось загрузить модель", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// AnalyzeSymbol анализирует один символ и возвращает сигнал.
// Сбои необязательных коллабораторов деградируют соответствующий вход
// до отсутствующего; фатальна только недоступность рыночных данных.
func (b *Bot) AnalyzeSymbol(ctx context.Context, symbol string) (*models.Signal, error) {
	candles, err := b.data.GetDailyCandles(ctx, symbol, b.config.Trading.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("рыночные данные недоступны для %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("пустая история для %s", symbol)
	}

	set, err := b.indicators.Compute(candles)
	if err != nil {
		return nil, fmt.Errorf("ошибка расчета индикаторов для %s: %w", symbol, err)
	}

	prediction, err := b.predictor.Predict(symbol, candles)
	if err != nil {
		prediction = nil
		switch {
		case errors.Is(err, predictor.ErrModelUnavailable):
			logger.Debug("Прогноз недоступен: модель не обучена", zap.String("symbol", symbol))
		case errors.Is(err, predictor.ErrSchemaMismatch):
			logger.Warn("Прогноз недоступен: несовпадение схемы признаков",
				zap.String("symbol", symbol), zap.Error(err))
		default:
			logger.Warn("Прогноз недоступен", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	var sentiment *models.SentimentResult
	if b.sentiment != nil {
		sentiment, err = b.sentiment.AnalyzeSentiment(ctx, symbol, candles)
		if err != nil {
			sentiment = nil
			logger.Warn("Оценка настроения недоступна", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	position := b.broker.Position(symbol)
	signal := b.strategy.GenerateSignal(symbol, candles, set, prediction, sentiment, position)

	logger.Info("Сигнал сгенерирован",
		zap.String("symbol", symbol),
		zap.String("action", signal.Action),
		zap.Float64("confidence", signal.Confidence),
		zap.Float64("score", signal.Score))
	return signal, nil
}

// RunSession проводит полную торговую сессию: последовательный анализ
// символов, исполнение сигналов (если включено) и сохранение итогов.
// Мутации брокера строго упорядочены: каждый ордер видит актуальный остаток.
func (b *Bot) RunSession(ctx context.Context, symbols []string, execute bool) (*models.SessionRecord, error) {
	now := time.Now()
	record := &models.SessionRecord{
		Timestamp:       now,
		Date:            now.Format("2006-01-02"),
		SymbolsAnalyzed: len(symbols),
		Signals:         []*models.Signal{},
		Orders:          []*models.Order{},
	}

	currentPrices := make(map[string]float64)

	for _, symbol := range symbols {
		signal, err := b.AnalyzeSymbol(ctx, symbol)
		if err != nil {
			logger.Error("Символ пропущен", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		record.Signals = append(record.Signals, signal)
		currentPrices[symbol] = signal.CurrentPrice

		if !execute || signal.Action == models.ActionHold {
			continue
		}

		price, err := b.data.GetCurrentPrice(ctx, symbol)
		if err != nil {
			price = signal.CurrentPrice
			logger.Warn("Текущая цена недоступна, исполнение по цене закрытия",
				zap.String("symbol", symbol), zap.Error(err))
		} else {
			currentPrices[symbol] = price
		}

		order, err := b.broker.ExecuteSignal(signal, price, b.config.Trading.DefaultQuantity)
		if err != nil {
			// Отклоненный ордер сохраняет сигнал в истории, но не состояние
			logger.Warn("Ордер отклонен",
				zap.String("symbol", symbol),
				zap.String("action", signal.Action),
				zap.Error(err))
			continue
		}
		if order != nil {
			record.Orders = append(record.Orders, order)
			logger.Info("Ордер исполнен",
				zap.String("symbol", order.Symbol),
				zap.String("side", order.Side),
				zap.Float64("quantity", order.Quantity),
				zap.Float64("price", order.Price))
		}
	}

	state := b.broker.State(currentPrices)
	record.PortfolioValue = state.TotalValue
	record.CashBalance = state.CashBalance

	if err := b.persistSession(record, state); err != nil {
		return record, err
	}
	b.recordMetrics(ctx, record, state)

	logger.Info("Сессия завершена",
		zap.Int("signals", len(record.Signals)),
		zap.Int("orders", len(record.Orders)),
		zap.Float64("portfolio_value", record.PortfolioValue))
	return record, nil
}

// persistSession сохраняет состояние портфеля, запись истории
// и дневной отчет анализа
func (b *Bot) persistSession(record *models.SessionRecord, state *models.PortfolioState) error {
	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации портфеля: %w", err)
	}
	if err := b.store.Save(storage.KeyPortfolioState, stateJSON); err != nil {
		return fmt.Errorf("ошибка сохранения портфеля: %w", err)
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи сессии: %w", err)
	}
	if err := b.store.Append(storage.KeyTradingHistory, recordJSON); err != nil {
		return fmt.Errorf("ошибка записи истории: %w", err)
	}

	analysisJSON, err := json.MarshalIndent(record.Signals, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации анализа: %w", err)
	}
	if err := b.store.Save(storage.AnalysisKey(record.Date), analysisJSON); err != nil {
		return fmt.Errorf("ошибка сохранения анализа: %w", err)
	}
	return nil
}

// recordMetrics пишет сигналы и портфель в InfluxDB, если рекордер настроен.
// Ошибки записи метрик не влияют на результат сессии.
func (b *Bot) recordMetrics(ctx context.Context, record *models.SessionRecord, state *models.PortfolioState) {
	if b.recorder == nil {
		return
	}
	for _, signal := range record.Signals {
		if err := b.recorder.RecordSignal(ctx, signal); err != nil {
			logger.Warn("Не удалось записать сигнал в InfluxDB", zap.Error(err))
		}
	}
	if err := b.recorder.RecordPortfolio(ctx, state); err != nil {
		logger.Warn("Не удалось записать портфель в InfluxDB", zap.Error(err))
	}
}
