package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"dtb/internal/config"
	"dtb/pkg/models"
)

// InfluxDBRecorder записывает сгенерированные сигналы в InfluxDB как
// временной ряд для внешних дашбордов. Необязательный компонент:
// ошибки записи логируются вызывающей стороной и не прерывают сессию.
type InfluxDBRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxDBRecorder создает рекордер сигналов
func NewInfluxDBRecorder(cfg config.InfluxDBConfig) (*InfluxDBRecorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
	}, nil
}

// Close закрывает соединение с базой данных
func (r *InfluxDBRecorder) Close() {
	r.client.Close()
}

// RecordSignal записывает сигнал как точку временного ряда
func (r *InfluxDBRecorder) RecordSignal(ctx context.Context, signal *models.Signal) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol": signal.Symbol,
			"action": signal.Action,
		},
		map[string]interface{}{
			"score":      signal.Score,
			"confidence": signal.Confidence,
			"price":      signal.CurrentPrice,
		},
		signal.Timestamp,
	)

	if err := r.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("ошибка записи сигнала в InfluxDB: %w", err)
	}
	return nil
}

// RecordPortfolio записывает стоимость портфеля после сессии
func (r *InfluxDBRecorder) RecordPortfolio(ctx context.Context, state *models.PortfolioState) error {
	point := influxdb2.NewPoint(
		"portfolio",
		nil,
		map[string]interface{}{
			"cash_balance": state.CashBalance,
			"total_value":  state.TotalValue,
			"realized_pnl": state.RealizedPnL,
			"positions":    len(state.Positions),
		},
		state.LastUpdated,
	)

	if err := r.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("ошибка записи портфеля в InfluxDB: %w", err)
	}
	return nil
}
