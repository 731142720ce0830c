package metadata

import (
	"context"
	"sync"
)

// MemoryWriter keeps the catalog in process. It backs dry runs and tests.
type MemoryWriter struct {
	mu       sync.Mutex
	datasets map[string]int64
	runs     map[int64][]RunRecord
}

// NewMemoryWriter creates an empty in-process catalog.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{
		datasets: make(map[string]int64),
		runs:     make(map[int64][]RunRecord),
	}
}

// EnsureDataset registers the dataset and returns its id.
func (w *MemoryWriter) EnsureDataset(_ context.Context, info DatasetInfo) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if id, ok := w.datasets[info.Dataset]; ok {
		return id, nil
	}
	id := int64(len(w.datasets) + 1)
	w.datasets[info.Dataset] = id
	return id, nil
}

// RecordRun appends the run. Re-recording a run id replaces it.
func (w *MemoryWriter) RecordRun(_ context.Context, rec RunRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.known(rec.DatasetID) {
		return ErrUnknownDataset
	}
	runs := w.runs[rec.DatasetID]
	for i := range runs {
		if runs[i].RunID == rec.RunID {
			runs[i] = rec
			return nil
		}
	}
	w.runs[rec.DatasetID] = append(runs, rec)
	return nil
}

// LastRun returns the most recently recorded run.
func (w *MemoryWriter) LastRun(_ context.Context, datasetID int64) (*RunRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	runs := w.runs[datasetID]
	if len(runs) == 0 {
		return nil, nil
	}
	rec := runs[len(runs)-1]
	return &rec, nil
}

// Runs returns every recorded run of a dataset in record order.
func (w *MemoryWriter) Runs(datasetID int64) []RunRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]RunRecord(nil), w.runs[datasetID]...)
}

func (w *MemoryWriter) known(id int64) bool {
	for _, v := range w.datasets {
		if v == id {
			return true
		}
	}
	return false
}

// Close is a no-op.
func (w *MemoryWriter) Close() error { return nil }

var _ Writer = (*MemoryWriter)(nil)
