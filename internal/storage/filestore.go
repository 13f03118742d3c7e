package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore реализует Store поверх каталога с файлами.
// Формат файлов — JSON (история — JSON-массив), ключ — относительный путь.
type FileStore struct {
	dir string
}

// NewFileStore создает файловое хранилище в указанном каталоге
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога хранилища: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save сохраняет данные по ключу. Запись атомарная: сначала во временный
// файл, затем переименование, чтобы сбой не оставил файл полузаписанным.
func (s *FileStore) Save(key string, data []byte) error {
	path := filepath.Join(s.dir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("ошибка создания каталога для ключа %s: %w", key, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("ошибка записи файла %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("ошибка переименования файла %s: %w", tmp, err)
	}
	return nil
}

// Load загружает данные по ключу
func (s *FileStore) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа %s: %w", key, err)
	}
	return data, nil
}

// Append добавляет запись в конец JSON-массива по ключу.
// Существующие записи не изменяются.
func (s *FileStore) Append(key string, entry []byte) error {
	var history []json.RawMessage

	data, err := s.Load(key)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &history); err != nil {
			return fmt.Errorf("ошибка разбора истории %s: %w", key, err)
		}
	case err == ErrNotFound:
		// Первый запуск: начинаем с пустой истории
	default:
		return err
	}

	history = append(history, json.RawMessage(entry))

	out, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации истории %s: %w", key, err)
	}
	return s.Save(key, out)
}
