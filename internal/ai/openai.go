package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"dtb/internal/config"
	"dtb/pkg/models"
)

const systemPrompt = "You are a financial sentiment analyzer. Given a market summary, " +
	"respond with a JSON object only: {\"score\": number between -1 and 1, " +
	"\"label\": \"positive\"|\"negative\"|\"neutral\", \"reasoning\": short explanation}."

// OpenAIProvider представляет AI-провайдера оценки настроения рынка.
// Необязательный компонент: без ключа API провайдер не создается,
// и настроение остается отсутствующим входом стратегии.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider создает провайдера. Пустой ключ — ошибка конфигурации:
// молчаливый нейтральный провайдер скрывал бы отсутствие входа.
func NewOpenAIProvider(cfg config.OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("не задан ключ API OpenAI")
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}

	return &OpenAIProvider{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
	}, nil
}

// AnalyzeSentiment запрашивает оценку настроения по сводке рыночных данных
func (p *OpenAIProvider) AnalyzeSentiment(ctx context.Context, symbol string, candles []*models.Candle) (*models.SentimentResult, error) {
	if len(candles) < 2 {
		return nil, fmt.Errorf("недостаточно свечей для сводки по %s", symbol)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: marketSummary(symbol, candles)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("пустой ответ OpenAI для %s", symbol)
	}

	return parseSentiment(resp.Choices[0].Message.Content)
}

// marketSummary готовит компактную текстовую сводку для модели
func marketSummary(symbol string, candles []*models.Candle) string {
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	changePct := (last.Close - prev.Close) / prev.Close * 100

	high, low := last.Close, last.Close
	var avgVolume float64
	for _, c := range candles {
		if c.Close > high {
			high = c.Close
		}
		if c.Close < low {
			low = c.Close
		}
		avgVolume += c.Volume
	}
	avgVolume /= float64(len(candles))

	return fmt.Sprintf(
		"Symbol: %s\nLatest close: %.2f\nDaily change: %.2f%%\nPeriod high: %.2f\nPeriod low: %.2f\nLatest volume: %.0f\nAverage volume: %.0f",
		symbol, last.Close, changePct, high, low, last.Volume, avgVolume)
}

// parseSentiment разбирает JSON-ответ модели. Модель не всегда отвечает
// строгим JSON, поэтому есть фолбэк по ключевым словам.
func parseSentiment(content string) (*models.SentimentResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var result models.SentimentResult
	if err := json.Unmarshal([]byte(content), &result); err == nil {
		if result.Score < -1 || result.Score > 1 {
			return nil, fmt.Errorf("оценка настроения вне диапазона [-1,1]: %f", result.Score)
		}
		return &result, nil
	}

	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "positive"):
		return &models.SentimentResult{Score: 0.5, Label: "positive", Reasoning: content}, nil
	case strings.Contains(lower, "negative"):
		return &models.SentimentResult{Score: -0.5, Label: "negative", Reasoning: content}, nil
	case strings.Contains(lower, "neutral"):
		return &models.SentimentResult{Score: 0, Label: "neutral", Reasoning: content}, nil
	}
	return nil, fmt.Errorf("не удалось разобрать ответ модели: %q", content)
}
