package state

import (
	"logsentinel/internal/reader"
	"logsentinel/pkg/models"
)

// Store persists pipeline state across restarts: per-source read
// checkpoints and the open-incident arena keyed by fingerprint.
type Store interface {
	LoadOffsets() (map[string]reader.Checkpoint, error)
	SaveOffsets(offsets map[string]reader.Checkpoint) error
	LoadIncidents() (map[string]*models.Incident, error)
	SaveIncidents(incidents map[string]*models.Incident) error
	Close() error
}
