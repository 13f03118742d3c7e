package broker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"dtb/pkg/logger"
	"dtb/pkg/models"
)

// Ошибки исполнения ордеров
var (
	ErrInsufficientFunds    = errors.New("недостаточно средств для покупки")
	ErrInsufficientPosition = errors.New("недостаточно бумаг в позиции для продажи")
	ErrInvalidState         = errors.New("некорректное состояние портфеля")
)

// PaperBroker представляет симулятор брокера: денежный остаток, позиции
// и журнал ордеров без реальных сделок. Единственный изменяемый общий
// ресурс конвейера, поэтому все мутации идут под одним мьютексом.
type PaperBroker struct {
	mu             sync.Mutex
	cashBalance    float64
	initialBalance float64
	positions      map[string]*models.Position
	orders         []*models.Order
	realizedPnL    float64
	lastUpdated    time.Time
}

// NewPaperBroker создает брокера с начальным балансом
func NewPaperBroker(initialBalance float64) *PaperBroker {
	return &PaperBroker{
		cashBalance:    initialBalance,
		initialBalance: initialBalance,
		positions:      make(map[string]*models.Position),
		lastUpdated:    time.Now(),
	}
}

// ExecuteSignal исполняет сигнал по текущей цене. HOLD не меняет состояние
// и не создает ордер. Отклоненный ордер не записывается, состояние
// не меняется.
func (b *PaperBroker) ExecuteSignal(signal *models.Signal, price, quantity float64) (*models.Order, error) {
	if signal.Action == models.ActionHold {
		return nil, nil
	}
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("некорректные параметры ордера: количество %f, цена %f", quantity, price)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch signal.Action {
	case models.ActionBuy:
		return b.buy(signal.Symbol, price, quantity)
	case models.ActionSell:
		return b.sell(signal.Symbol, price, quantity)
	default:
		return nil, fmt.Errorf("неизвестное действие сигнала: %s", signal.Action)
	}
}

// buy уменьшает остаток и создает либо дополняет позицию по
// средневзвешенной цене
func (b *PaperBroker) buy(symbol string, price, quantity float64) (*models.Order, error) {
	cost := price * quantity
	if cost > b.cashBalance {
		return nil, fmt.Errorf("%w: требуется %.2f, доступно %.2f", ErrInsufficientFunds, cost, b.cashBalance)
	}

	b.cashBalance -= cost

	if pos, ok := b.positions[symbol]; ok {
		newQty := pos.Quantity + quantity
		newCost := pos.TotalCost + cost
		pos.Quantity = newQty
		pos.TotalCost = newCost
		pos.AvgPrice = newCost / newQty
	} else {
		b.positions[symbol] = &models.Position{
			Symbol:    symbol,
			Quantity:  quantity,
			AvgPrice:  price,
			TotalCost: cost,
		}
	}

	return b.record(symbol, models.ActionBuy, price, quantity), nil
}

// sell увеличивает остаток и уменьшает позицию. Средняя цена при частичной
// продаже не меняется: реализованная прибыль учитывается отдельно.
func (b *PaperBroker) sell(symbol string, price, quantity float64) (*models.Order, error) {
	pos, ok := b.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: нет позиции по %s", ErrInsufficientPosition, symbol)
	}
	if quantity > pos.Quantity {
		return nil, fmt.Errorf("%w: запрошено %.4f, в позиции %.4f", ErrInsufficientPosition, quantity, pos.Quantity)
	}

	b.cashBalance += price * quantity
	b.realizedPnL += quantity * (price - pos.AvgPrice)

	pos.Quantity -= quantity
	pos.TotalCost = pos.Quantity * pos.AvgPrice
	if pos.Quantity == 0 {
		delete(b.positions, symbol)
	}

	return b.record(symbol, models.ActionSell, price, quantity), nil
}

func (b *PaperBroker) record(symbol, side string, price, quantity float64) *models.Order {
	order := &models.Order{
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Timestamp: time.Now(),
	}
	b.orders = append(b.orders, order)
	b.lastUpdated = order.Timestamp
	return order
}

// Position возвращает копию позиции по символу или nil
func (b *PaperBroker) Position(symbol string) *models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return nil
	}
	copied := *pos
	return &copied
}

// CashBalance возвращает текущий денежный остаток
func (b *PaperBroker) CashBalance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cashBalance
}

// RealizedPnL возвращает накопленную реализованную прибыль
func (b *PaperBroker) RealizedPnL() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realizedPnL
}

// TotalValue возвращает полную стоимость портфеля по текущим ценам.
// Для символа без текущей цены используется его средняя цена покупки —
// явный задокументированный фолбэк на последнюю известную оценку.
func (b *PaperBroker) TotalValue(currentPrices map[string]float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.cashBalance
	for symbol, pos := range b.positions {
		price, ok := currentPrices[symbol]
		if !ok {
			price = pos.AvgPrice
			logger.Warn("Нет текущей цены для позиции, используется средняя цена покупки",
				zap.String("symbol", symbol), zap.Float64("avg_price", pos.AvgPrice))
		}
		total += pos.Quantity * price
	}
	return total
}

// State экспортирует полное состояние портфеля. TotalValue рассчитывается
// по переданным текущим ценам с тем же фолбэком, что и TotalValue.
func (b *PaperBroker) State(currentPrices map[string]float64) *models.PortfolioState {
	totalValue := b.TotalValue(currentPrices)

	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]models.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		positions = append(positions, *pos)
	}
	// Стабильный порядок в сохраняемом JSON
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})

	return &models.PortfolioState{
		CashBalance:    b.cashBalance,
		Positions:      positions,
		TotalValue:     totalValue,
		InitialBalance: b.initialBalance,
		RealizedPnL:    b.realizedPnL,
		LastUpdated:    b.lastUpdated,
	}
}

// Restore восстанавливает брокера из сохраненного состояния.
// Поврежденное состояние — фатальная ошибка для запуска: торговать
// от неизвестного баланса нельзя.
func (b *PaperBroker) Restore(state *models.PortfolioState) error {
	if state.CashBalance < 0 {
		return fmt.Errorf("%w: отрицательный остаток %.2f", ErrInvalidState, state.CashBalance)
	}

	positions := make(map[string]*models.Position, len(state.Positions))
	for _, pos := range state.Positions {
		if pos.Quantity < 0 || pos.AvgPrice < 0 {
			return fmt.Errorf("%w: позиция %s с количеством %.4f и ценой %.4f",
				ErrInvalidState, pos.Symbol, pos.Quantity, pos.AvgPrice)
		}
		if _, exists := positions[pos.Symbol]; exists {
			return fmt.Errorf("%w: дублирующая позиция %s", ErrInvalidState, pos.Symbol)
		}
		copied := pos
		positions[pos.Symbol] = &copied
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cashBalance = state.CashBalance
	b.initialBalance = state.InitialBalance
	b.realizedPnL = state.RealizedPnL
	b.positions = positions
	b.lastUpdated = state.LastUpdated
	return nil
}

// Orders возвращает копию журнала ордеров
func (b *PaperBroker) Orders() []*models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Order, len(b.orders))
	copy(out, b.orders)
	return out
}
