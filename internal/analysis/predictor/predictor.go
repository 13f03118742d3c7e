package predictor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"dtb/internal/config"
	"dtb/internal/storage"
	"dtb/pkg/logger"
	"dtb/pkg/models"
)

// Ошибки прогнозирования
var (
	ErrInsufficientData = errors.New("недостаточно данных для модели")
	ErrModelUnavailable = errors.New("модель для символа не обучена")
	ErrSchemaMismatch   = errors.New("схема признаков модели не совпадает с текущим расчетом")
)

// Версия формата модели: меняется при несовместимых изменениях
// набора признаков или структуры леса
const modelVersion = "rf-1"

// minTrainingSamples минимум полных строк для обучения
const minTrainingSamples = 50

// Model представляет обученную модель с её схемой признаков и
// метаданными обучения. Сериализуется целиком: восстановленная модель
// воспроизводит прогнозы исходной в точности.
type Model struct {
	Symbol       string      `msgpack:"symbol"`
	Version      string      `msgpack:"version"`
	FeatureNames []string    `msgpack:"feature_names"`
	Scaler       *Scaler     `msgpack:"scaler"`
	Forest       *Forest     `msgpack:"forest"`
	TrainedAt    time.Time   `msgpack:"trained_at"`
	TrainStart   time.Time   `msgpack:"train_start"`
	TrainEnd     time.Time   `msgpack:"train_end"`
	Metrics      TrainResult `msgpack:"metrics"`
}

// TrainResult представляет метрики обучения
type TrainResult struct {
	TrainR2     float64 `msgpack:"train_r2"`
	ValR2       float64 `msgpack:"val_r2"`
	TrainRMSE   float64 `msgpack:"train_rmse"`
	ValRMSE     float64 `msgpack:"val_rmse"`
	NumSamples  int     `msgpack:"num_samples"`
	NumFeatures int     `msgpack:"num_features"`
}

// Predictor обучает и применяет модели прогнозирования цены по символам
type Predictor struct {
	config config.ModelConfig
	store  storage.Store

	mu     sync.RWMutex
	models map[string]*Model
}

// New создает новый предиктор
func New(cfg config.ModelConfig, store storage.Store) *Predictor {
	return &Predictor{
		config: cfg,
		store:  store,
		models: make(map[string]*Model),
	}
}

// Train обучает модель для символа на исторических свечах.
// Валидационная выборка — хронологический хвост, без перемешивания,
// чтобы не заглядывать в будущее.
func (p *Predictor) Train(symbol string, candles []*models.Candle) (*TrainResult, error) {
	matrix := buildFeatures(candles)

	// Целевая переменная — цена закрытия следующего дня, поэтому
	// последняя строка в обучение не попадает
	var x [][]float64
	var y []float64
	for _, i := range matrix.completeRows() {
		if i+1 >= len(candles) {
			break
		}
		x = append(x, matrix.rows[i])
		y = append(y, candles[i+1].Close)
	}

	if len(x) < minTrainingSamples {
		return nil, fmt.Errorf("%w: %d пригодных строк (требуется %d)",
			ErrInsufficientData, len(x), minTrainingSamples)
	}

	split := int(float64(len(x)) * (1 - p.config.ValidationSplit))
	trainX, valX := x[:split], x[split:]
	trainY, valY := y[:split], y[split:]

	scaler := fitScaler(trainX)
	scaledTrain := make([][]float64, len(trainX))
	for i, row := range trainX {
		scaledTrain[i] = scaler.Transform(row)
	}

	forest := trainForest(scaledTrain, trainY, forestParams{
		numTrees: p.config.NumTrees,
		maxDepth: p.config.MaxDepth,
		minLeaf:  p.config.MinLeaf,
		seed:     p.config.Seed,
	})

	metrics := TrainResult{
		NumSamples:  len(x),
		NumFeatures: len(matrix.names),
	}
	metrics.TrainR2, metrics.TrainRMSE = evaluate(forest, scaler, trainX, trainY)
	metrics.ValR2, metrics.ValRMSE = evaluate(forest, scaler, valX, valY)

	model := &Model{
		Symbol:       symbol,
		Version:      modelVersion,
		FeatureNames: matrix.names,
		Scaler:       scaler,
		Forest:       forest,
		TrainedAt:    time.Now(),
		TrainStart:   candles[0].OpenTime,
		TrainEnd:     candles[len(candles)-1].OpenTime,
		Metrics:      metrics,
	}

	p.mu.Lock()
	p.models[symbol] = model
	p.mu.Unlock()

	logger.Info("Модель обучена",
		zap.String("symbol", symbol),
		zap.Float64("val_r2", metrics.ValR2),
		zap.Float64("val_rmse", metrics.ValRMSE),
		zap.Int("samples", metrics.NumSamples))

	return &metrics, nil
}

// Predict прогнозирует цену закрытия следующего дня по последним свечам.
// Без обученной модели возвращает ErrModelUnavailable: отсутствие прогноза —
// штатная ситуация, которую стратегия обрабатывает как "вход недоступен".
func (p *Predictor) Predict(symbol string, candles []*models.Candle) (*models.PredictionResult, error) {
	p.mu.RLock()
	model, ok := p.models[symbol]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrModelUnavailable
	}

	matrix := buildFeatures(candles)

	// Схема признаков восстановленной модели обязана совпадать с текущей
	if !equalNames(model.FeatureNames, matrix.names) {
		return nil, fmt.Errorf("%w: модель %s", ErrSchemaMismatch, symbol)
	}

	if len(matrix.rows) == 0 {
		return nil, fmt.Errorf("%w: пустая серия свечей", ErrInsufficientData)
	}

	last := matrix.rows[len(matrix.rows)-1]
	if !rowComplete(last) {
		return nil, fmt.Errorf("%w: последняя строка признаков не полна", ErrInsufficientData)
	}

	predicted, perTree := model.Forest.Predict(model.Scaler.Transform(last))

	sort.Float64s(perTree)
	low := stat.Quantile(0.05, stat.Empirical, perTree, nil)
	high := stat.Quantile(0.95, stat.Empirical, perTree, nil)

	currentPrice := candles[len(candles)-1].Close
	changePct := (predicted - currentPrice) / currentPrice * 100

	importance := make(map[string]float64, len(model.FeatureNames))
	for i, name := range model.FeatureNames {
		importance[name] = model.Forest.Importance[i]
	}

	return &models.PredictionResult{
		PredictedPrice:     predicted,
		PredictedChangePct: changePct,
		ConfidenceLow:      low,
		ConfidenceHigh:     high,
		ModelVersion:       model.Version,
		FeatureImportance:  importance,
	}, nil
}

// HasModel сообщает, есть ли обученная модель для символа
func (p *Predictor) HasModel(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.models[symbol]
	return ok
}

// SaveModel сохраняет модель символа в хранилище
func (p *Predictor) SaveModel(symbol string) error {
	p.mu.RLock()
	model, ok := p.models[symbol]
	p.mu.RUnlock()
	if !ok {
		return ErrModelUnavailable
	}

	data, err := msgpack.Marshal(model)
	if err != nil {
		return fmt.Errorf("ошибка сериализации модели %s: %w", symbol, err)
	}
	if err := p.store.Save(storage.ModelKey(symbol), data); err != nil {
		return fmt.Errorf("ошибка сохранения модели %s: %w", symbol, err)
	}
	return nil
}

// LoadModel восстанавливает модель символа из хранилища
func (p *Predictor) LoadModel(symbol string) error {
	data, err := p.store.Load(storage.ModelKey(symbol))
	if errors.Is(err, storage.ErrNotFound) {
		return ErrModelUnavailable
	}
	if err != nil {
		return fmt.Errorf("ошибка загрузки модели %s: %w", symbol, err)
	}

	var model Model
	if err := msgpack.Unmarshal(data, &model); err != nil {
		return fmt.Errorf("ошибка десериализации модели %s: %w", symbol, err)
	}
	if model.Version != modelVersion {
		return fmt.Errorf("%w: версия артефакта %s, ожидается %s",
			ErrSchemaMismatch, model.Version, modelVersion)
	}

	p.mu.Lock()
	p.models[symbol] = &model
	p.mu.Unlock()
	return nil
}

// evaluate возвращает R² и RMSE леса на выборке
func evaluate(forest *Forest, scaler *Scaler, x [][]float64, y []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	estimates := make([]float64, len(x))
	var sumSq float64
	for i, row := range x {
		estimates[i], _ = forest.Predict(scaler.Transform(row))
		d := estimates[i] - y[i]
		sumSq += d * d
	}
	r2 := stat.RSquaredFrom(estimates, y, nil)
	rmse := math.Sqrt(sumSq / float64(len(x)))
	return r2, rmse
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
