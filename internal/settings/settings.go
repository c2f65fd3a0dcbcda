// Package settings provides a small persistent key-value store backed by a
// YAML file. It holds state the app writes at runtime, such as the selected
// model tier and the transcription history, separately from the
// hand-edited config file.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Well-known keys.
const (
	KeyModelTier = "modelTier"
	KeyHistory   = "transcriptionHistory"
)

// Store is a string-keyed byte store.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) error
}

// FileStore keeps all values in memory and rewrites the whole file on every
// mutation.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// Open loads the store at path. A missing file yields an empty store; the
// file is created on the first write. A file that cannot be read or parsed
// is logged and also yields an empty store, and an unparsable file is moved
// aside to path+".bad" so the next write does not destroy it.
func Open(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "settings")
	s := &FileStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s
	}
	if err != nil {
		log.Warn("settings unreadable, starting empty", "path", path, "err", err)
		return s
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		s.values = make(map[string]string)
		bad := path + ".bad"
		if rerr := os.Rename(path, bad); rerr != nil {
			log.Warn("settings corrupt, starting empty", "path", path, "err", err, "rename_err", rerr)
		} else {
			log.Warn("settings corrupt, moved aside", "path", path, "backup", bad, "err", err)
		}
		return s
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Get returns the value for key.
func (s *FileStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return []byte(v), true
}

// Set stores value under key and persists the store. On a write failure the
// in-memory value is kept and the error returned.
func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = string(value)
	return s.saveLocked()
}

// Delete removes key. Deleting a missing key is a no-op and does not touch
// the file.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.saveLocked()
}

// Keys returns the stored keys in sorted order.
func (s *FileStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *FileStore) saveLocked() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}

	// Write to a temp file in the same dir, then rename over the old file.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("settings: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("settings: replace %s: %w", s.path, err)
	}
	return nil
}

// Memory is an in-memory Store.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
