// Package storage persists the mirror's two durable artifacts: the JSON
// manifest document and the per-instrument CSV series files. Both writers
// overwrite whole files atomically via a temp file and rename, so readers
// never observe a partial write.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/johnayoung/go-kline-mirror/internal/models"
)

// ManifestStore reads and writes the manifest document at a fixed path.
type ManifestStore struct {
	path   string
	logger *slog.Logger
}

// NewManifestStore creates a manifest store for the given file path.
func NewManifestStore(path string, logger *slog.Logger) *ManifestStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestStore{path: path, logger: logger}
}

// Path returns the manifest file path.
func (s *ManifestStore) Path() string {
	return s.path
}

// Load reads the manifest from disk. A missing file yields a well-formed
// empty document, persisted immediately so the path exists from the first
// run. A malformed file is logged and replaced with a fresh document
// rather than aborting the run.
func (s *ManifestStore) Load(exchange string) (*models.Manifest, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		m := models.NewManifest(exchange)
		if err := s.Save(m); err != nil {
			return nil, fmt.Errorf("failed to initialize manifest: %w", err)
		}
		s.logger.Info("created new manifest", "path", s.path)
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("manifest is malformed, starting fresh", "path", s.path, "error", err)
		return models.NewManifest(exchange), nil
	}
	m.Normalize(exchange)
	return &m, nil
}

// Save writes the whole document atomically.
func (s *ManifestStore) Save(m *models.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}
