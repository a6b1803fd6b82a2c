package stats

import (
	"reflect"
	"testing"
)

func stateWith(total uint64, daily map[string]uint64) *CounterState {
	s := NewCounterState()
	s.TotalCalls = total
	for k, v := range daily {
		s.DailyCalls[k] = v
	}
	return s
}

func TestMergeTakesMaxima(t *testing.T) {
	a := stateWith(10, map[string]uint64{"2025-01-01": 10, "2025-01-02": 1})
	b := stateWith(7, map[string]uint64{"2025-01-01": 4, "2025-01-03": 6})

	got := Merge(a, b)
	if got.TotalCalls != 10 {
		t.Fatalf("expected max total 10, got %d", got.TotalCalls)
	}
	want := map[string]uint64{"2025-01-01": 10, "2025-01-02": 1, "2025-01-03": 6}
	if !reflect.DeepEqual(got.DailyCalls, want) {
		t.Fatalf("unexpected merged daily map: %v", got.DailyCalls)
	}
}

func TestMergeIsCommutativeAndIdempotent(t *testing.T) {
	a := stateWith(10, map[string]uint64{"2025-01-01": 10})
	a.WeeklyCalls["2025-W01"] = 3
	b := stateWith(12, map[string]uint64{"2025-01-01": 4, "2025-01-02": 2})
	b.MonthlyCalls["2025-01"] = 9

	ab := Merge(a, b)
	ba := Merge(b, a)
	if !reflect.DeepEqual(ab, ba) {
		t.Fatalf("merge not commutative: %v vs %v", ab, ba)
	}
	again := Merge(ab, b)
	if !reflect.DeepEqual(ab, again) {
		t.Fatalf("merge not idempotent: %v vs %v", ab, again)
	}
}

func TestMergeWithNil(t *testing.T) {
	a := stateWith(5, map[string]uint64{"2025-01-01": 5})
	if got := Merge(a, nil); got.TotalCalls != 5 {
		t.Fatalf("expected merge with nil to keep state, got %d", got.TotalCalls)
	}
	if got := Merge(nil, a); got.TotalCalls != 5 {
		t.Fatalf("expected merge with nil to keep state, got %d", got.TotalCalls)
	}
	if got := Merge(nil, nil); got.TotalCalls != 0 {
		t.Fatalf("expected empty merge, got %d", got.TotalCalls)
	}
}

func TestMergeNeverDecreases(t *testing.T) {
	a := stateWith(100, map[string]uint64{"2025-01-01": 60, "2025-01-02": 40})
	b := stateWith(1, map[string]uint64{"2025-01-01": 1})

	got := Merge(a, b)
	if got.TotalCalls != 100 || got.DailyCalls["2025-01-01"] != 60 {
		t.Fatalf("merge decreased counters: %+v", got)
	}
}

func TestMigrateFileSnapshotIntoEmptyBackend(t *testing.T) {
	src := &fakeBackend{state: stateWith(10, map[string]uint64{"2025-01-01": 10})}
	dst := &fakeBackend{}

	if err := Migrate(src, dst); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	got, err := dst.Load()
	if err != nil {
		t.Fatalf("load destination: %v", err)
	}
	if got.TotalCalls != 10 || got.DailyCalls["2025-01-01"] != 10 {
		t.Fatalf("unexpected migrated state: %+v", got)
	}
	// The source is left for audit.
	srcState, _ := src.Load()
	if srcState == nil || srcState.TotalCalls != 10 {
		t.Fatal("expected source snapshot untouched")
	}
}

func TestMigrateTwiceIsANoOp(t *testing.T) {
	src := &fakeBackend{state: stateWith(10, map[string]uint64{"2025-01-01": 10})}
	dst := &fakeBackend{state: stateWith(12, map[string]uint64{"2025-01-02": 2})}

	if err := Migrate(src, dst); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	first, _ := dst.Load()
	if err := Migrate(src, dst); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	second, _ := dst.Load()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second migration changed state: %+v vs %+v", first, second)
	}
	if second.TotalCalls != 12 || second.DailyCalls["2025-01-01"] != 10 || second.DailyCalls["2025-01-02"] != 2 {
		t.Fatalf("unexpected merged state: %+v", second)
	}
}
