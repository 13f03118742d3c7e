package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"dtb/pkg/logger"

	"go.uber.org/zap"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance    BinanceConfig    `yaml:"binance"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Trading    TradingConfig    `yaml:"trading"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Model      ModelConfig      `yaml:"model"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Storage    StorageConfig    `yaml:"storage"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// OpenAIConfig содержит настройки AI-провайдера (необязателен)
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Symbols         []string `yaml:"symbols"`
	InitialBalance  float64  `yaml:"initial_balance"`
	DefaultQuantity float64  `yaml:"default_quantity"`
	LookbackDays    int      `yaml:"lookback_days"`
	ExecuteTrades   bool     `yaml:"execute_trades"`
	Schedule        string   `yaml:"schedule"`
}

// IndicatorsConfig содержит окна технических индикаторов
type IndicatorsConfig struct {
	SMAPeriods   []int   `yaml:"sma_periods"`
	EMAPeriods   []int   `yaml:"ema_periods"`
	RSIPeriod    int     `yaml:"rsi_period"`
	MACDFast     int     `yaml:"macd_fast"`
	MACDSlow     int     `yaml:"macd_slow"`
	MACDSignal   int     `yaml:"macd_signal"`
	BBPeriod     int     `yaml:"bb_period"`
	BBStdDev     float64 `yaml:"bb_stddev"`
	VolumePeriod int     `yaml:"volume_period"`
}

// ModelConfig содержит гиперпараметры модели прогнозирования
type ModelConfig struct {
	NumTrees        int     `yaml:"num_trees"`
	MaxDepth        int     `yaml:"max_depth"`
	MinLeaf         int     `yaml:"min_leaf"`
	ValidationSplit float64 `yaml:"validation_split"`
	TrainingDays    int     `yaml:"training_days"`
	Seed            int64   `yaml:"seed"`
}

// StrategyConfig содержит веса и пороги стратегии
type StrategyConfig struct {
	Weights         WeightsConfig `yaml:"weights"`
	BuyThreshold    float64       `yaml:"buy_threshold"`
	SellThreshold   float64       `yaml:"sell_threshold"`
	MinConfidence   float64       `yaml:"min_confidence"`
	VolumeThreshold float64       `yaml:"volume_threshold"`
	StopLossPct     float64       `yaml:"stop_loss_pct"`
	TakeProfitPct   float64       `yaml:"take_profit_pct"`
}

// WeightsConfig содержит веса категорий сигнала
type WeightsConfig struct {
	Trend      float64 `yaml:"trend"`
	Momentum   float64 `yaml:"momentum"`
	Volume     float64 `yaml:"volume"`
	Prediction float64 `yaml:"prediction"`
	Sentiment  float64 `yaml:"sentiment"`
}

// StorageConfig содержит настройки хранения данных
type StorageConfig struct {
	DataDir  string         `yaml:"data_dir"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// InfluxDBConfig содержит настройки записи сигналов в InfluxDB
type InfluxDBConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	logger.Info("Загружена конфигурация",
		zap.String("path", path),
		zap.Strings("symbols", config.Trading.Symbols))
	return config, nil
}

// defaults возвращает конфигурацию со значениями по умолчанию
func defaults() *Config {
	return &Config{
		Trading: TradingConfig{
			InitialBalance:  100000,
			DefaultQuantity: 10,
			LookbackDays:    90,
		},
		Indicators: IndicatorsConfig{
			SMAPeriods:   []int{10, 20, 50},
			EMAPeriods:   []int{10, 20, 50},
			RSIPeriod:    14,
			MACDFast:     12,
			MACDSlow:     26,
			MACDSignal:   9,
			BBPeriod:     20,
			BBStdDev:     2.0,
			VolumePeriod: 20,
		},
		Model: ModelConfig{
			NumTrees:        100,
			MaxDepth:        10,
			MinLeaf:         5,
			ValidationSplit: 0.2,
			TrainingDays:    365,
			Seed:            42,
		},
		Strategy: StrategyConfig{
			Weights: WeightsConfig{
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
		},
		Storage: StorageConfig{
			DataDir: "trading_data",
		},
	}
}

// validate проверяет согласованность конфигурации
func (c *Config) validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("не задан ни один торговый символ")
	}
	if c.Trading.InitialBalance <= 0 {
		return fmt.Errorf("начальный баланс должен быть положительным: %f", c.Trading.InitialBalance)
	}
	if c.Strategy.BuyThreshold <= c.Strategy.SellThreshold {
		return fmt.Errorf("порог покупки (%f) должен быть выше порога продажи (%f)",
			c.Strategy.BuyThreshold, c.Strategy.SellThreshold)
	}
	if c.Strategy.BuyThreshold >= 1 || c.Strategy.SellThreshold <= -1 {
		return fmt.Errorf("пороги должны лежать строго внутри (-1,1): покупка %f, продажа %f",
			c.Strategy.BuyThreshold, c.Strategy.SellThreshold)
	}
	if c.Strategy.MinConfidence < 0 || c.Strategy.MinConfidence > 1 {
		return fmt.Errorf("минимальная уверенность должна быть в диапазоне [0,1]: %f", c.Strategy.MinConfidence)
	}
	if c.Model.ValidationSplit <= 0 || c.Model.ValidationSplit >= 1 {
		return fmt.Errorf("доля валидационной выборки должна быть в диапазоне (0,1): %f", c.Model.ValidationSplit)
	}
	return nil
}
