package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrStateNotFound reports that no state file exists for the run yet.
var ErrStateNotFound = errors.New("run state not found")

// StateStore persists run state between transitions.
type StateStore interface {
	Save(state State) error
	Load() (State, error)
}

// Repository stores run state as a JSON document on disk.
type Repository struct {
	path string
}

// NewRepository returns a repository backed by the given file path.
func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

// Save writes the state atomically by renaming over the previous snapshot.
func (r *Repository) Save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace run state: %w", err)
	}
	return nil
}

// Load reads the most recent snapshot.
func (r *Repository) Load() (State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read run state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode run state: %w", err)
	}
	return state.Clone(), nil
}
