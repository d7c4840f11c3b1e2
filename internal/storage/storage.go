package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/prothunter/internal/models"
)

// JSONStore keeps the latest record set of a run in a single JSON file.
type JSONStore struct {
	mu       sync.RWMutex
	filename string
}

func NewJSONStore(filename string) *JSONStore {
	return &JSONStore{filename: filename}
}

func (s *JSONStore) Path() string {
	return s.filename
}

// Save replaces the file contents with records, in order. A nil slice is
// written as an empty array.
func (s *JSONStore) Save(records []models.OutputRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if records == nil {
		records = []models.OutputRecord{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	if dir := filepath.Dir(s.filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Write to temp file first for atomicity
	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpFile, err)
	}

	if err := os.Rename(tmpFile, s.filename); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.filename, err)
	}
	return nil
}

// Load returns the records of the last saved run. A missing file yields no
// records and no error.
func (s *JSONStore) Load() ([]models.OutputRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.filename, err)
	}

	var records []models.OutputRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.filename, err)
	}
	return records, nil
}

// Latest serves the saved records to readers that expect a context.
func (s *JSONStore) Latest(_ context.Context) ([]models.OutputRecord, error) {
	return s.Load()
}
