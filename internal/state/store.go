package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists EngineState as a single JSON document.
// Writes are atomic (write-then-rename) so a crashed save never leaves a
// torn state file behind.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by baseDir/state.json.
func NewStore(baseDir string) *Store {
	return &Store{path: filepath.Join(baseDir, "state.json")}
}

// Load reads the persisted state. A missing file yields the zero deployment
// state rather than an error, so first runs need no setup step.
func (s *Store) Load() (EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewEngineState(), nil
		}
		return EngineState{}, fmt.Errorf("read state: %w", err)
	}

	st := NewEngineState()
	if err := json.Unmarshal(data, &st); err != nil {
		return EngineState{}, fmt.Errorf("parse state: %w", err)
	}
	return st, nil
}

// Save writes the state atomically.
func (s *Store) Save(st EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}
