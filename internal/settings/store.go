package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store is the single owner of the watermark settings. It keeps the current
// value in memory and rewrites the whole settings file on every change.
//
// Update and Reset are serialized; readers never wait on disk I/O and never
// observe a value that was not fully persisted.
type Store struct {
	path     string
	defaults WatermarkSettings
	logger   *slog.Logger

	// writeMu serializes Update/Reset, mu guards current.
	writeMu sync.Mutex
	mu      sync.RWMutex
	current WatermarkSettings
}

// NewStore creates a Store backed by the file at path and loads its state.
// defaults are used for a missing or unreadable file and by Reset.
func NewStore(path string, defaults WatermarkSettings, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:     path,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "settings")),
	}
	s.current = s.Load()
	return s
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Defaults returns the process defaults.
func (s *Store) Defaults() WatermarkSettings {
	return s.defaults
}

// Load reads the persisted settings. A missing file, malformed JSON or
// out-of-range values all yield the defaults; the condition is logged and
// never returned. Keys absent from the file take their default value.
func (s *Store) Load() WatermarkSettings {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read settings file, using defaults",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return s.defaults
	}

	loaded := s.defaults
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn("malformed settings file, using defaults",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return s.defaults
	}

	if err := loaded.Validate(); err != nil {
		s.logger.Warn("invalid settings file, using defaults",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return s.defaults
	}

	return loaded
}

// Get returns the current value of one field. An absent (zero) value falls
// back to a fresh read of the file, which tolerates out-of-band edits.
// Unknown fields return nil.
func (s *Store) Get(field Field) any {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if v, ok := cur.value(field); ok {
		return v
	}
	v, _ := s.Load().value(field)
	return v
}

// Snapshot returns a copy of the current settings. Jobs take one snapshot
// and use it for their whole lifetime.
func (s *Store) Snapshot() WatermarkSettings {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if cur.Text == "" || cur.FontSize == 0 || cur.FontColor == "" || cur.Position == "" {
		cur = cur.fillFrom(s.Load())
	}
	return cur
}

// Update merges changes into the current settings and persists the result.
// The merged value is validated before anything is mutated; on a validation
// or write error both the in-memory state and the file keep their previous
// content.
func (s *Store) Update(changes Changes) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := changes.apply(s.current)
	s.mu.RUnlock()

	if err := next.Validate(); err != nil {
		return err
	}

	if err := s.save(next); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.logger.Info("watermark settings updated",
		slog.String("text", next.Text),
		slog.Int("font_size", next.FontSize),
		slog.String("font_color", next.FontColor),
		slog.String("position", string(next.Position)),
	)
	return nil
}

// Reset restores every field to the process defaults.
func (s *Store) Reset() error {
	return s.Update(ChangesFrom(s.defaults))
}

// save writes the settings file atomically via a temp file in the same
// directory followed by a rename.
func (s *Store) save(v WatermarkSettings) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
