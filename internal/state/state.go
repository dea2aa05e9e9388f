// Package state persists the migration job between runs so an interrupted
// migration can resume from its stored offsets.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/migration"
)

const DefaultPath = "~/.chatmirror/migration.yaml"

// State is the on-disk checkpoint.
type State struct {
	LastUpdated time.Time      `yaml:"last_updated"`
	Job         *migration.Job `yaml:"job,omitempty"`
}

// Load reads the checkpoint from disk. A missing file yields an empty state.
func Load(path string) (*State, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := &State{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	return s, nil
}

// Save writes the checkpoint through a temporary file so a crash mid-write
// leaves the previous checkpoint intact.
func (s *State) Save(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	s.LastUpdated = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}

// Clear removes the checkpoint. A missing file is not an error.
func Clear(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Store serialises checkpoint writes to one file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store for path, or DefaultPath when empty.
func NewStore(path string) *Store {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	return &Store{path: path}
}

// Path returns the checkpoint file.
func (s *Store) Path() string { return s.path }

// Checkpoint saves job. It matches migration.CheckpointFunc.
func (s *Store) Checkpoint(job *migration.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&State{Job: job}).Save(s.path)
}

// Job returns the stored job, or nil when none was saved.
func (s *Store) Job() (*migration.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	return st.Job, nil
}

// Clear removes the stored job.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Clear(s.path)
}
