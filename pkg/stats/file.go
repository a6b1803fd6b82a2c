package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/charmbracelet/log"
)

// FileBackend persists the counter state as a single JSON document. Saves
// write to a temp path and rename so a reader never observes a half-written
// file.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Kind() string { return "file" }

// Path returns the stats document location.
func (b *FileBackend) Path() string { return b.path }

// Load reads the stats document. A missing file is not an error; a malformed
// one is logged and treated as absent so the engine starts fresh and
// overwrites it on the next save.
func (b *FileBackend) Load() (*CounterState, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stats file: %w", err)
	}
	state := NewCounterState()
	if err := json.Unmarshal(raw, state); err != nil {
		log.Warn("stats file malformed, starting fresh", "path", b.path, "error", err)
		return nil, nil
	}
	state.normalize()
	return state, nil
}

func (b *FileBackend) Save(state *CounterState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("mkdir stats dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write stats temp: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("rename stats file: %w", err)
	}
	return nil
}

// LogEvent is unsupported for file storage.
func (b *FileBackend) LogEvent(context.Context, CallEvent) error { return nil }

// Exists reports whether a stats document is present on disk, used to decide
// whether a legacy file snapshot should be migrated into the database.
func (b *FileBackend) Exists() bool {
	st, err := os.Stat(b.path)
	return err == nil && !st.IsDir()
}
