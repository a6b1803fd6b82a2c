package stats

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "data", "stats.json"))

	state := NewCounterState()
	state.TotalCalls = 7
	state.DailyCalls["2025-01-01"] = 7
	state.LastResetDate = "2025-01-01"
	if err := b.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := b.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TotalCalls != 7 || loaded.DailyCalls["2025-01-01"] != 7 {
		t.Fatalf("unexpected loaded state: %+v", loaded)
	}
	if loaded.LastResetDate != "2025-01-01" {
		t.Fatalf("unexpected watermark: %s", loaded.LastResetDate)
	}
}

func TestFileBackendMissingFileIsNotAnError(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "stats.json"))
	state, err := b.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state for missing file, got %+v", state)
	}
	if b.Exists() {
		t.Fatal("expected Exists to be false")
	}
}

func TestFileBackendCorruptFileTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	b := NewFileBackend(path)
	state, err := b.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state != nil {
		t.Fatalf("expected corrupt file treated as absent, got %+v", state)
	}
}

func TestFileBackendSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(filepath.Join(dir, "stats.json"))
	if err := b.Save(NewCounterState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stats.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("expected temp file renamed away")
	}
	if !b.Exists() {
		t.Fatal("expected Exists to be true")
	}
}

func TestFileBackendLogEventIsNoOp(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "stats.json"))
	if err := b.LogEvent(context.Background(), CallEvent{Endpoint: "/api/search"}); err != nil {
		t.Fatalf("expected no-op event log, got %v", err)
	}
}
