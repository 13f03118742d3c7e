package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dtb/pkg/models"
)

// Стили консольного отчета
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("240"))
	buyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	sellStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	holdStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	valueStyle  = lipgloss.NewStyle().Bold(true)
)

// RenderSession форматирует итоги сессии для вывода в консоль
func RenderSession(record *models.SessionRecord, state *models.PortfolioState) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("Торговая сессия %s", record.Date)))
	sb.WriteString("\n\n")

	// Сигналы
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-6s %-12s %-10s", "СИМВОЛ", "СИГНАЛ", "УВЕРЕННОСТЬ", "ЦЕНА")))
	sb.WriteString("\n")
	for _, signal := range record.Signals {
		sb.WriteString(fmt.Sprintf("%-12s %s %-12s %-10s\n",
			signal.Symbol,
			renderAction(signal.Action),
			fmt.Sprintf("%.2f", signal.Confidence),
			fmt.Sprintf("%.2f", signal.CurrentPrice)))
		for _, reason := range signal.Reasoning {
			sb.WriteString(dimStyle.Render("  • " + reason))
			sb.WriteString("\n")
		}
	}

	// Ордера
	sb.WriteString("\n")
	if len(record.Orders) == 0 {
		sb.WriteString(dimStyle.Render("Ордеров не исполнено"))
		sb.WriteString("\n")
	} else {
		sb.WriteString(headerStyle.Render("Исполненные ордера"))
		sb.WriteString("\n")
		for _, order := range record.Orders {
			sb.WriteString(fmt.Sprintf("%s %s %.4f x %.2f\n",
				renderAction(order.Side), order.Symbol, order.Quantity, order.Price))
		}
	}

	// Портфель
	sb.WriteString("\n")
	sb.WriteString(headerStyle.Render("Портфель"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Денежный остаток:  %s\n", valueStyle.Render(fmt.Sprintf("%.2f", state.CashBalance))))
	sb.WriteString(fmt.Sprintf("Полная стоимость:  %s\n", valueStyle.Render(fmt.Sprintf("%.2f", state.TotalValue))))
	sb.WriteString(fmt.Sprintf("Реализованный P&L: %s\n", renderPnL(state.RealizedPnL)))
	for _, pos := range state.Positions {
		sb.WriteString(fmt.Sprintf("  %-12s %.4f @ %.2f (вложено %.2f)\n",
			pos.Symbol, pos.Quantity, pos.AvgPrice, pos.TotalCost))
	}

	return sb.String()
}

// renderAction раскрашивает действие: покупка зеленым, продажа красным
func renderAction(action string) string {
	switch action {
	case models.ActionBuy:
		return buyStyle.Render(fmt.Sprintf("%-6s", action))
	case models.ActionSell:
		return sellStyle.Render(fmt.Sprintf("%-6s", action))
	default:
		return holdStyle.Render(fmt.Sprintf("%-6s", action))
	}
}

func renderPnL(pnl float64) string {
	text := fmt.Sprintf("%+.2f", pnl)
	if pnl >= 0 {
		return buyStyle.Render(text)
	}
	return sellStyle.Render(text)
}
