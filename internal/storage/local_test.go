package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testManifest(ref TableRef, data []byte) *Manifest {
	return &Manifest{
		Run: RunInfo{
			Dataset:               ref.Dataset,
			RunID:                 ref.RunID,
			InputFingerprint:      "sha256:feed",
			InputPartitions:       2,
			InputRows:             10,
			SessionTimeoutMinutes: 30,
			LookbackDays:          7,
			SchemaVersion:         "1.0.0",
		},
		Tables: map[string]TableInfo{
			ref.Table: {
				File:     "part-0.parquet",
				Checksum: "sha256:abc123",
				RowCount: 10,
				ByteSize: int64(len(data)),
			},
		},
		Producer: ProducerInfo{
			Name:    "event-warehouse",
			Version: "test",
		},
		CreatedAt: time.Date(2025, 2, 23, 10, 0, 0, 0, time.UTC),
	}
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}

func TestLocalStoreAtomicOperations(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewLocalStore(tmpDir, "warehouse/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := TableRef{Dataset: "web_events", RunID: "r1", Table: "fct_sessions"}

	parquetData := []byte("fake parquet data for testing")
	manifest := testManifest(ref, parquetData)

	tempParquet, err := store.WriteTableTemp(ctx, ref, parquetData)
	if err != nil {
		t.Fatalf("WriteTableTemp failed: %v", err)
	}
	if !exists(t, filepath.Join(tmpDir, tempParquet)) {
		t.Error("temp parquet file should exist")
	}

	tempManifest, err := store.WriteManifestTemp(ctx, ref, manifest)
	if err != nil {
		t.Fatalf("WriteManifestTemp failed: %v", err)
	}
	if !exists(t, filepath.Join(tmpDir, tempManifest)) {
		t.Error("temp manifest file should exist")
	}

	finalParquet := filepath.Join(tmpDir, ref.Path("warehouse/"))
	finalManifest := filepath.Join(tmpDir, ref.ManifestPath("warehouse/"))
	if exists(t, finalParquet) {
		t.Error("final parquet should not exist before Finalize")
	}

	if err := store.Finalize(ctx, ref, []string{tempParquet, tempManifest}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if !exists(t, finalParquet) {
		t.Error("final parquet should exist after Finalize")
	}
	if !exists(t, finalManifest) {
		t.Error("final manifest should exist after Finalize")
	}
	if exists(t, filepath.Join(tmpDir, tempParquet)) {
		t.Error("temp parquet should be removed after Finalize")
	}

	data, err := store.ReadObject(ctx, ref.Path("warehouse/"))
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	if string(data) != string(parquetData) {
		t.Error("parquet data mismatch")
	}

	got, err := ReadManifest(ctx, store, ref)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if got.Run.RunID != "r1" || got.Tables["fct_sessions"].RowCount != 10 {
		t.Errorf("manifest round trip mismatch: %+v", got)
	}
}

func TestLocalStoreFinalizeWrongKeyCount(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ref := TableRef{Dataset: "web_events", RunID: "r1", Table: "stg_events"}
	if err := store.Finalize(context.Background(), ref, []string{"only-one"}); err == nil {
		t.Error("expected error for a single temp key")
	}
}

func TestLocalStoreFinalizeMissingTempRollsBack(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir, "")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := TableRef{Dataset: "web_events", RunID: "r1", Table: "fct_orders"}

	tempParquet, err := store.WriteTableTemp(ctx, ref, []byte("data"))
	if err != nil {
		t.Fatalf("WriteTableTemp failed: %v", err)
	}

	err = store.Finalize(ctx, ref, []string{tempParquet, "web_events/missing.tmp"})
	if err == nil {
		t.Fatal("expected Finalize to fail on a missing temp file")
	}
	if exists(t, filepath.Join(tmpDir, ref.Path(""))) {
		t.Error("moved parquet should be rolled back")
	}
}

func TestLocalStoreAbort(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewLocalStore(tmpDir, "warehouse/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := TableRef{Dataset: "web_events", RunID: "r2", Table: "fct_attribution"}

	tempParquet, _ := store.WriteTableTemp(ctx, ref, []byte("test data"))
	tempManifest, _ := store.WriteManifestTemp(ctx, ref, testManifest(ref, nil))

	if !exists(t, filepath.Join(tmpDir, tempParquet)) {
		t.Error("temp parquet should exist before Abort")
	}

	if err := store.Abort(ctx, []string{tempParquet, tempManifest}); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	if exists(t, filepath.Join(tmpDir, tempParquet)) {
		t.Error("temp parquet should be removed after Abort")
	}
	if exists(t, filepath.Join(tmpDir, tempManifest)) {
		t.Error("temp manifest should be removed after Abort")
	}

	// Aborting twice is harmless.
	if err := store.Abort(ctx, []string{tempParquet, tempManifest}); err != nil {
		t.Errorf("second Abort failed: %v", err)
	}
}

func TestLocalStoreHeadAndList(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "warehouse/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := TableRef{Dataset: "web_events", RunID: "r3", Table: "stg_events"}

	testData := []byte("test parquet data for head test")
	if err := store.WriteTable(ctx, ref, testData); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}

	key := ref.Path("warehouse/")
	info, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if info.Size != int64(len(testData)) {
		t.Errorf("Head size = %d, want %d", info.Size, len(testData))
	}

	keys, err := store.List(ctx, RunPath("warehouse/", "web_events", "r3"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	found := false
	for _, k := range keys {
		if k == key {
			found = true
		}
	}
	if !found {
		t.Errorf("List should include %s, got %v", key, keys)
	}

	ok, err := store.Exists(ctx, key)
	if err != nil || !ok {
		t.Errorf("Exists(%s) = %v, %v", key, ok, err)
	}
	if !strings.HasPrefix(store.URI(key), "file://") {
		t.Errorf("unexpected URI %s", store.URI(key))
	}
}

func TestPointerRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "warehouse/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ctx := context.Background()

	if _, err := ReadPointer(ctx, store, "web_events"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first publish, got %v", err)
	}

	for _, runID := range []string{"r1", "r2"} {
		p := &RunPointer{
			Dataset:          "web_events",
			RunID:            runID,
			RunPath:          RunPath(store.Prefix(), "web_events", runID),
			Tables:           map[string]string{"stg_events": "x"},
			Checksums:        map[string]string{"stg_events": "sha256:1"},
			InputFingerprint: "sha256:in",
			PublishedAt:      time.Date(2025, 2, 23, 0, 0, 0, 0, time.UTC),
		}
		if err := WritePointer(ctx, store, p); err != nil {
			t.Fatalf("WritePointer failed: %v", err)
		}
	}

	got, err := ReadPointer(ctx, store, "web_events")
	if err != nil {
		t.Fatalf("ReadPointer failed: %v", err)
	}
	if got.RunID != "r2" {
		t.Errorf("pointer run = %s, want r2", got.RunID)
	}
	if got.RunPath != "warehouse/web_events/run=r2" {
		t.Errorf("pointer path = %s", got.RunPath)
	}
}

func TestNewAtomicStoreValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  StorageConfig
	}{
		{"local without dir", StorageConfig{Backend: "local"}},
		{"gcs without bucket", StorageConfig{Backend: "gcs"}},
		{"s3 without bucket", StorageConfig{Backend: "s3"}},
		{"unknown backend", StorageConfig{Backend: "ftp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAtomicStore(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	store, err := NewAtomicStore(StorageConfig{Backend: "local", LocalDir: t.TempDir()})
	if err != nil {
		t.Fatalf("local backend failed: %v", err)
	}
	if _, ok := store.(*LocalStore); !ok {
		t.Errorf("expected *LocalStore, got %T", store)
	}
}
