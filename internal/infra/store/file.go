package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"tomme-assistant/internal/domain"
)

const memoryFile = "memory.json"

// FileStore keeps the conversation memory as a single JSON document.
type FileStore struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	if fs == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}
	if dir == "" {
		dir = "."
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating memory dir: %w", err)
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, memoryFile)
}

// Load returns an empty state when nothing has been saved yet.
func (s *FileStore) Load(_ context.Context) (domain.MemoryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path())
	if errors.Is(err, os.ErrNotExist) {
		return domain.MemoryState{Preferences: map[string]string{}}, nil
	}
	if err != nil {
		return domain.MemoryState{}, fmt.Errorf("reading memory: %w", err)
	}

	var state domain.MemoryState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.MemoryState{}, fmt.Errorf("decoding memory: %w", err)
	}
	if state.Preferences == nil {
		state.Preferences = map[string]string{}
	}
	return state, nil
}

func (s *FileStore) Save(ctx context.Context, state domain.MemoryState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding memory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path() + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing memory: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("replacing memory: %w", err)
	}
	return nil
}
