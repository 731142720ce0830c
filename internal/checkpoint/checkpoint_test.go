package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestFileManagerRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	m, err := NewManager(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()

	if _, err := m.Load(ctx, "web_events"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}

	cp := &Checkpoint{
		Dataset:          "web_events",
		RunID:            "r1",
		InputFingerprint: "sha256:aa",
		Checksums:        map[string]string{"stg_events": "sha256:01"},
		RowCounts:        map[string]int64{"stg_events": 12},
		UpdatedAt:        time.Date(2025, 2, 23, 10, 0, 0, 0, time.UTC),
	}
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cp.RunID = "r2"
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := m.Load(ctx, "web_events")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.RunID != "r2" {
		t.Errorf("RunID = %s, want r2", got.RunID)
	}
	if got.Checksums["stg_events"] != "sha256:01" || got.RowCounts["stg_events"] != 12 {
		t.Errorf("unexpected checkpoint: %+v", got)
	}
	if !got.UpdatedAt.Equal(cp.UpdatedAt) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}

	if _, err := m.Load(ctx, "other"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("datasets should not share checkpoints, got %v", err)
	}
}

func TestSameInput(t *testing.T) {
	cp := &Checkpoint{InputFingerprint: "sha256:aa"}

	tests := []struct {
		name string
		cp   *Checkpoint
		fp   string
		want bool
	}{
		{"match", cp, "sha256:aa", true},
		{"differs", cp, "sha256:bb", false},
		{"empty fingerprint", cp, "", false},
		{"nil checkpoint", nil, "sha256:aa", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cp.SameInput(tt.fp); got != tt.want {
				t.Errorf("SameInput(%q) = %v, want %v", tt.fp, got, tt.want)
			}
		})
	}
}

func TestNoopManager(t *testing.T) {
	m, err := NewManager(Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()
	if err := m.Save(ctx, &Checkpoint{Dataset: "web_events"}); err != nil {
		t.Errorf("noop Save failed: %v", err)
	}
	if _, err := m.Load(ctx, "web_events"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestSaveRequiresDataset(t *testing.T) {
	m, err := NewManager(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Save(context.Background(), &Checkpoint{}); err == nil {
		t.Error("expected error for empty dataset")
	}
}
