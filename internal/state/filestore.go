package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"logsentinel/internal/reader"
	"logsentinel/pkg/models"
)

const (
	offsetsFile   = "log_offsets.json"
	incidentsFile = "open_incidents.json"
)

// FileStore persists state as JSON files in a directory. Writes go
// through a temp file and rename so a crash never leaves a torn file.
type FileStore struct {
	dir string
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// LoadOffsets reads persisted checkpoints. A missing file is an empty map.
func (s *FileStore) LoadOffsets() (map[string]reader.Checkpoint, error) {
	out := make(map[string]reader.Checkpoint)
	if err := s.load(offsetsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveOffsets atomically persists checkpoints.
func (s *FileStore) SaveOffsets(offsets map[string]reader.Checkpoint) error {
	return s.save(offsetsFile, offsets)
}

// LoadIncidents reads the persisted open-incident arena.
func (s *FileStore) LoadIncidents() (map[string]*models.Incident, error) {
	out := make(map[string]*models.Incident)
	if err := s.load(incidentsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveIncidents atomically persists the open-incident arena.
func (s *FileStore) SaveIncidents(incidents map[string]*models.Incident) error {
	return s.save(incidentsFile, incidents)
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) load(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse state file %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) save(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state file %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file %s: %w", name, err)
	}
	return nil
}
