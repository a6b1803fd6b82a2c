// Package backup writes timestamped JSON snapshots of the counter state and
// keeps only the newest few around.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultKeep    = 3
	filenamePrefix = "stats-"
	filenameSuffix = ".json"
	// Nanosecond precision keeps names unique for back-to-back backups.
	timestampLayout = "20060102T150405.000000000"
)

// Info describes one backup file, derived entirely from the filesystem.
type Info struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Manager owns a backup directory. Create and prune are best-effort from the
// caller's point of view: errors are returned for logging but never abort a
// rollover or reset.
type Manager struct {
	dir  string
	keep int
}

func NewManager(dir string) *Manager {
	return &Manager{dir: dir, keep: defaultKeep}
}

// Dir returns the backup directory path.
func (m *Manager) Dir() string { return m.dir }

// Create serializes v into a timestamped file and prunes older backups
// beyond the retention count.
func (m *Manager) Create(v any) (string, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir backup dir: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	name := filenamePrefix + time.Now().UTC().Format(timestampLayout) + filenameSuffix
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := m.prune(); err != nil {
		return name, fmt.Errorf("prune backups: %w", err)
	}
	return name, nil
}

// prune deletes all but the newest keep backups, oldest first. Modification
// time orders them; the embedded timestamp in the name breaks ties.
func (m *Manager) prune() error {
	infos, err := m.list()
	if err != nil {
		return err
	}
	if len(infos) <= m.keep {
		return nil
	}
	// list returns newest first; everything past keep goes.
	var firstErr error
	for _, info := range infos[m.keep:] {
		if err := os.Remove(filepath.Join(m.dir, info.Name)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// List returns backup metadata sorted newest first.
func (m *Manager) List() ([]Info, error) {
	return m.list()
}

func (m *Manager) list() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filenamePrefix) || !strings.HasSuffix(name, filenameSuffix) {
			continue
		}
		st, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: name, Size: st.Size(), ModTime: st.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ModTime.Equal(infos[j].ModTime) {
			return infos[i].Name > infos[j].Name
		}
		return infos[i].ModTime.After(infos[j].ModTime)
	})
	return infos, nil
}
