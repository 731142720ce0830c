package source

import (
	"testing"
	"time"
)

func TestParsePartitionDate(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"events_20250223.csv", "2025-02-23", true},
		{"2025-02-23.csv.zst", "2025-02-23", true},
		{"raw/2025/events-2025-03-01.csv", "2025-03-01", true},
		{"events.csv", "", false},
		{"events_20251340.csv", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePartitionDate(tt.name)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.Format("2006-01-02") != tt.want {
				t.Errorf("date = %s, want %s", got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestPartitionIndex_AddFile(t *testing.T) {
	idx := NewPartitionIndex()

	if !idx.AddFile("raw/events_20250224.csv", 10) {
		t.Error("csv file should be added")
	}
	if !idx.AddFile("raw/events_20250223.CSV.zst", 10) {
		t.Error("compressed csv file should be added")
	}
	if idx.AddFile("raw/events_20250224.csv", 10) {
		t.Error("duplicate key should be ignored")
	}
	if idx.AddFile("raw/_manifest.json", 10) {
		t.Error("non-partition file should be ignored")
	}

	idx.Sort()
	files := idx.Files()
	if idx.Count() != 2 {
		t.Fatalf("expected 2 files, got %d", idx.Count())
	}
	if files[0].Name != "events_20250223.CSV.zst" {
		t.Errorf("files not sorted by key: %v", files)
	}
	if files[1].Date.IsZero() {
		t.Error("partition date should be parsed")
	}
}

func TestPartitionIndex_Window(t *testing.T) {
	idx := NewPartitionIndex()
	idx.AddFile("events_20250221.csv", 1)
	idx.AddFile("events_20250222.csv", 1)
	idx.AddFile("events_20250223.csv", 1)
	idx.AddFile("backfill.csv", 1)
	idx.Sort()

	if got := len(idx.Window(time.Time{}, time.Time{})); got != 4 {
		t.Errorf("unbounded window should return all files, got %d", got)
	}

	from := time.Date(2025, 2, 22, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 23, 0, 0, 0, 0, time.UTC)
	got := idx.Window(from, to)
	if len(got) != 2 {
		t.Fatalf("expected 2 files in window, got %d", len(got))
	}
	if got[0].Name != "events_20250222.csv" || got[1].Name != "events_20250223.csv" {
		t.Errorf("unexpected window: %v", got)
	}

	if got := idx.Window(from, time.Time{}); len(got) != 2 {
		t.Errorf("open upper bound should return 2 dated files, got %d", len(got))
	}
}
