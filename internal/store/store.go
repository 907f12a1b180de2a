// Package store persists the runtime configuration as a JSON document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SensorDoc is one persisted sensor. Threshold is in Fahrenheit, the same
// unit the control API uses.
type SensorDoc struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Topic     string  `json:"topic"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit,omitempty"`
}

// Document is the persisted configuration.
type Document struct {
	CycleDurationMinutes int         `json:"cycle_duration_minutes"`
	Sensors              []SensorDoc `json:"sensors"`
}

// FileStore reads and writes a Document at a fixed path.
type FileStore struct {
	path string
}

// NewFileStore returns a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// LoadOrInit reads the document. If the file does not exist, defaults is
// written and returned.
func (s *FileStore) LoadOrInit(defaults Document) (Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.Save(defaults); err != nil {
			return Document{}, err
		}
		return defaults, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read config: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse config %s: %w", s.path, err)
	}
	if doc.CycleDurationMinutes <= 0 {
		doc.CycleDurationMinutes = defaults.CycleDurationMinutes
	}
	if doc.Sensors == nil {
		doc.Sensors = defaults.Sensors
	}
	return doc, nil
}

// Save replaces the document atomically.
func (s *FileStore) Save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
