package store

import (
	"testing"
)

func TestAppend_AssignsSequentialIDs(t *testing.T) {
	s := New(100)
	for i := 0; i < 5; i++ {
		s.Append(AppendRequest{Level: "info", Message: "m"})
	}

	res := s.Query(Filter{}, Pagination{Order: "asc"})
	if len(res.Entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(res.Entries))
	}
	for i, rec := range res.Entries {
		if rec.ID != uint64(i+1) {
			t.Errorf("entry %d: expected id %d, got %d", i, i+1, rec.ID)
		}
	}
}

func TestAppend_EvictsOldestAtCapacity(t *testing.T) {
	s := New(2)
	s.Append(AppendRequest{Level: "info", Message: "first"})
	s.Append(AppendRequest{Level: "info", Message: "second"})
	s.Append(AppendRequest{Level: "info", Message: "third"})

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", s.Len())
	}

	res := s.Query(Filter{}, Pagination{Order: "asc"})
	if res.Entries[0].ID != 2 || res.Entries[1].ID != 3 {
		t.Errorf("expected ids [2 3], got [%d %d]", res.Entries[0].ID, res.Entries[1].ID)
	}

	stats := s.GetStats()
	if stats.Evicted != 1 {
		t.Errorf("expected evicted=1, got %d", stats.Evicted)
	}
	if stats.Appended != 3 {
		t.Errorf("expected appended=3, got %d", stats.Appended)
	}
}

func TestAppend_IDsSurviveHeavyEviction(t *testing.T) {
	s := New(3)
	for i := 0; i < 10; i++ {
		s.Append(AppendRequest{Level: "info", Message: "m"})
	}

	res := s.Query(Filter{}, Pagination{Order: "asc"})
	want := []uint64{8, 9, 10}
	for i, rec := range res.Entries {
		if rec.ID != want[i] {
			t.Errorf("entry %d: expected id %d, got %d", i, want[i], rec.ID)
		}
	}
}

func TestClear_KeepsIDSequenceAndCounters(t *testing.T) {
	s := New(100)
	s.Append(AppendRequest{Level: "info", Message: "a"})
	s.Append(AppendRequest{Level: "error", Message: "b"})

	if removed := s.Clear(); removed != 2 {
		t.Fatalf("expected Clear to report 2, got %d", removed)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d entries", s.Len())
	}

	// The id sequence continues; cleared records never come back.
	rec := s.Append(AppendRequest{Level: "info", Message: "c"})
	if rec.ID != 3 {
		t.Errorf("expected id 3 after clear, got %d", rec.ID)
	}

	stats := s.GetStats()
	if stats.Appended != 3 {
		t.Errorf("expected appended=3 after clear, got %d", stats.Appended)
	}
	if stats.LevelCounts["info"] != 2 || stats.LevelCounts["error"] != 1 {
		t.Errorf("unexpected level counts after clear: %v", stats.LevelCounts)
	}
}

func TestAppend_NormalizesLevelAndDefaults(t *testing.T) {
	s := New(10)
	rec := s.Append(AppendRequest{Level: "  WARN ", Message: "m"})

	if rec.Level != "warn" {
		t.Errorf("expected level 'warn', got %q", rec.Level)
	}
	if rec.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}
	if rec.Tags == nil {
		t.Error("expected tags to be an empty slice, not nil")
	}
}
