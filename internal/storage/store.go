package storage

import "errors"

// Ключи хранилища
const (
	KeyPortfolioState = "portfolio_state.json"
	KeyTradingHistory = "trading_history.json"
)

// ErrNotFound возвращается, когда ключ отсутствует в хранилище
var ErrNotFound = errors.New("ключ не найден в хранилище")

// Store представляет узкий контракт долговременного хранилища:
// сохранение по ключу, загрузка по ключу и добавление записи
// в JSON-массив (история дополняется, но не переписывается).
type Store interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, error)
	Append(key string, entry []byte) error
}

// ModelKey возвращает ключ артефакта модели для символа
func ModelKey(symbol string) string {
	return "models/" + symbol + ".bin"
}

// AnalysisKey возвращает ключ дневного отчета анализа
func AnalysisKey(date string) string {
	return "analysis/analysis_" + date + ".json"
}
