package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const snapshotVersion = 1

var (
	// ErrBadStorePath rejects construction without a usable path.
	ErrBadStorePath = errors.New("storage: missing store path")
	// ErrBadSnapshot means the persisted file exists but cannot be decoded.
	ErrBadSnapshot = errors.New("storage: snapshot payload is invalid")
)

// FileConfig wires one file-backed store. An empty Passphrase keeps the
// snapshot in plain JSON; a non-empty one seals it at rest.
type FileConfig struct {
	Path       string
	Passphrase string
	Logger     zerolog.Logger
}

// FileStore is a file-backed key-value namespace. The in-memory map is
// the truth; each mutation rewrites the whole snapshot on disk.
type FileStore struct {
	path   string
	secret string
	log    zerolog.Logger

	mu   sync.RWMutex
	data map[string]string
}

// persistedState versions the snapshot so the layout can change without
// silently misreading old files.
type persistedState struct {
	Version int               `json:"version"`
	Data    map[string]string `json:"data"`
}

func NewFileStore(cfg FileConfig) (*FileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, ErrBadStorePath
	}
	s := &FileStore{
		path:   path,
		secret: strings.TrimSpace(cfg.Passphrase),
		log:    cfg.Logger,
		data:   make(map[string]string),
	}
	if err := s.bootstrap(); err != nil {
		return nil, err
	}
	return s, nil
}

// bootstrap loads an existing snapshot. A missing file is a fresh store;
// the first mutation creates it.
func (s *FileStore) bootstrap() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if s.secret != "" {
		raw, err = unseal(s.secret, raw)
		if err != nil {
			return err
		}
	}
	var state persistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if state.Version != snapshotVersion {
		return fmt.Errorf("%w: version %d", ErrBadSnapshot, state.Version)
	}
	if state.Data != nil {
		s.data = state.Data
	}
	s.log.Debug().Int("keys", len(s.data)).Str("path", s.path).Msg("storage snapshot loaded")
	return nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.persistLocked()
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.persistLocked()
}

func (s *FileStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the current key population. Admin HTTP surface.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *FileStore) persistLocked() error {
	payload, err := json.Marshal(persistedState{Version: snapshotVersion, Data: s.data})
	if err != nil {
		return err
	}
	if s.secret != "" {
		payload, err = seal(s.secret, payload)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o600)
}
