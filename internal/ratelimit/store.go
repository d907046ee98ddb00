package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"candidate-harvester/internal/models"
)

// Store persists the ledger state. Load reports ok=false when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (models.LedgerState, bool, error)
	Save(ctx context.Context, state models.LedgerState) error
}

// FileStore keeps the ledger in a small JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the ledger file. A missing file is not an error.
func (s *FileStore) Load(_ context.Context) (models.LedgerState, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.LedgerState{}, false, nil
		}
		return models.LedgerState{}, false, fmt.Errorf("read ledger %s: %w", s.path, err)
	}

	var state models.LedgerState
	if err := json.Unmarshal(data, &state); err != nil {
		return models.LedgerState{}, false, fmt.Errorf("decode ledger %s: %w", s.path, err)
	}
	return state, true, nil
}

// Save writes the ledger through a temp file and rename so readers never see a partial record.
func (s *FileStore) Save(_ context.Context, state models.LedgerState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
