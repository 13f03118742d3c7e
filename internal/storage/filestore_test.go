package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	return store, dir
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	data := []byte(`{"cash_balance": 10000}`)
	require.NoError(t, store.Save(KeyPortfolioState, data))

	loaded, err := store.Load(KeyPortfolioState)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

func TestLoadMissingKey(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Load("missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveCreatesSubdirectories(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Save(ModelKey("BTCUSDT"), []byte{0x01, 0x02}))

	_, err := os.Stat(filepath.Join(dir, "models", "BTCUSDT.bin"))
	assert.NoError(t, err)
}

func TestSaveOverwrites(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save("key.json", []byte(`{"v":1}`)))
	require.NoError(t, store.Save("key.json", []byte(`{"v":2}`)))

	loaded, err := store.Load("key.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(loaded))
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Save("key.json", []byte(`{}`)))

	_, err := os.Stat(filepath.Join(dir, "key.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

// История только дополняется: ранние записи сохраняются байт в байт
func TestAppendPreservesHistory(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Append(KeyTradingHistory, []byte(`{"date":"2026-08-21"}`)))
	require.NoError(t, store.Append(KeyTradingHistory, []byte(`{"date":"2026-08-22"}`)))
	require.NoError(t, store.Append(KeyTradingHistory, []byte(`{"date":"2026-08-23"}`)))

	data, err := store.Load(KeyTradingHistory)
	require.NoError(t, err)

	var history []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history, 3)
	assert.JSONEq(t, `{"date":"2026-08-21"}`, string(history[0]))
	assert.JSONEq(t, `{"date":"2026-08-23"}`, string(history[2]))
}

func TestAppendToMissingKeyStartsArray(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Append("history.json", []byte(`{"n":1}`)))

	data, err := store.Load("history.json")
	require.NoError(t, err)

	var history []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &history))
	assert.Len(t, history, 1)
}

func TestAppendRejectsCorruptHistory(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save("history.json", []byte("не json")))
	err := store.Append("history.json", []byte(`{"n":1}`))
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "models/BTCUSDT.bin", ModelKey("BTCUSDT"))
	assert.Equal(t, "analysis/analysis_2026-08-23.json", AnalysisKey("2026-08-23"))
}
