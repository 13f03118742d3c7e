package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dtb/internal/ai"
	"dtb/internal/analysis/predictor"
	"dtb/internal/bot"
	"dtb/internal/broker"
	"dtb/internal/config"
	"dtb/internal/exchange"
	"dtb/internal/report"
	"dtb/internal/storage"
	"dtb/pkg/logger"
	"dtb/pkg/models"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	symbolsFlag := flag.String("symbols", "", "список символов через запятую (переопределяет конфигурацию)")
	train := flag.Bool("train", false, "обучить и сохранить модели прогнозирования")
	execute := flag.Bool("execute", false, "исполнять сигналы (иначе только анализ)")
	schedule := flag.String("schedule", "", "cron-расписание запуска сессий (переопределяет конфигурацию)")
	flag.Parse()

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	symbols := cfg.Trading.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}
	executeTrades := *execute || cfg.Trading.ExecuteTrades

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Получен сигнал завершения")
		cancel()
	}()

	// Инициализируем хранилище
	store, err := storage.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
	}

	// Необязательный рекордер сигналов
	var recorder *storage.InfluxDBRecorder
	if cfg.Storage.InfluxDB.Enabled {
		recorder, err = storage.NewInfluxDBRecorder(cfg.Storage.InfluxDB)
		if err != nil {
			logger.Warn("InfluxDB недоступен, запись метрик отключена", zap.Error(err))
		} else {
			defer recorder.Close()
		}
	}

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Необязательный AI-провайдер: без ключа анализ идет без настроения
	var sentiment bot.SentimentProvider
	if cfg.OpenAI.APIKey != "" {
		provider, err := ai.NewOpenAIProvider(cfg.OpenAI)
		if err != nil {
			logger.Warn("AI-провайдер недоступен, анализ без настроения", zap.Error(err))
		} else {
			sentiment = provider
		}
	}

	pred := predictor.New(cfg.Model, store)
	paperBroker := broker.NewPaperBroker(cfg.Trading.InitialBalance)

	tradingBot := bot.New(cfg, bot.Deps{
		Data:      client,
		Sentiment: sentiment,
		Predictor: pred,
		Broker:    paperBroker,
		Store:     store,
		Recorder:  recorder,
	})

	// Режим обучения: обучаем модели и выходим
	if *train {
		tradingBot.TrainModels(ctx, symbols)
		return
	}

	if err := tradingBot.LoadPortfolio(); err != nil {
		logger.Fatal("Ошибка восстановления портфеля", zap.Error(err))
	}
	tradingBot.LoadModels(symbols)

	runSession := func() {
		record, err := tradingBot.RunSession(ctx, symbols, executeTrades)
		if err != nil {
			logger.Error("Ошибка торговой сессии", zap.Error(err))
			return
		}
		state := paperBroker.State(currentPrices(record))
		fmt.Println(report.RenderSession(record, state))
	}

	cronSchedule := cfg.Trading.Schedule
	if *schedule != "" {
		cronSchedule = *schedule
	}

	// Без расписания — одна сессия и выход
	if cronSchedule == "" {
		runSession()
		return
	}

	// Режим планировщика: сессии по cron-расписанию до сигнала завершения
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cronSchedule, runSession); err != nil {
		logger.Fatal("Некорректное cron-расписание", zap.String("schedule", cronSchedule), zap.Error(err))
	}
	scheduler.Start()
	logger.Info("Планировщик запущен", zap.String("schedule", cronSchedule))

	<-ctx.Done()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("Планировщик остановлен")
}

// currentPrices собирает цены сигналов сессии для оценки портфеля
func currentPrices(record *models.SessionRecord) map[string]float64 {
	prices := make(map[string]float64, len(record.Signals))
	for _, signal := range record.Signals {
		prices[signal.Symbol] = signal.CurrentPrice
	}
	return prices
}
