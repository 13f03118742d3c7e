package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
trading:
  symbols:
    - BTCUSDT
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 100000.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 100, cfg.Model.NumTrees)
	assert.Equal(t, 0.25, cfg.Strategy.BuyThreshold)
	assert.Equal(t, -0.25, cfg.Strategy.SellThreshold)
	assert.Equal(t, "trading_data", cfg.Storage.DataDir)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
trading:
  symbols: [ETHUSDT]
  initial_balance: 5000
model:
  num_trees: 25
  seed: 7
strategy:
  min_confidence: 0.4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 25, cfg.Model.NumTrees)
	assert.Equal(t, int64(7), cfg.Model.Seed)
	assert.Equal(t, 0.4, cfg.Strategy.MinConfidence)
	// Незатронутые секции сохраняют значения по умолчанию
	assert.Equal(t, 14, cfg.Indicators.RSIPeriod)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "нет.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "trading: [это не структура")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name:    "нет символов",
			content: `trading: {symbols: []}`,
		},
		{
			name: "отрицательный баланс",
			content: `
trading:
  symbols: [BTCUSDT]
  initial_balance: -1
`,
		},
		{
			name: "порог покупки ниже порога продажи",
			content: `
trading:
  symbols: [BTCUSDT]
strategy:
  buy_threshold: -0.5
  sell_threshold: 0.5
`,
		},
		{
			name: "порог покупки на границе диапазона",
			content: `
trading:
  symbols: [BTCUSDT]
strategy:
  buy_threshold: 1.0
`,
		},
		{
			name: "порог продажи на границе диапазона",
			content: `
trading:
  symbols: [BTCUSDT]
strategy:
  sell_threshold: -1.0
`,
		},
		{
			name: "уверенность вне диапазона",
			content: `
trading:
  symbols: [BTCUSDT]
strategy:
  min_confidence: 1.5
`,
		},
		{
			name: "некорректная доля валидации",
			content: `
trading:
  symbols: [BTCUSDT]
model:
  validation_split: 1.0
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}
