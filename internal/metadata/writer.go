package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"time"
)

// ErrUnknownDataset is returned when a run is recorded before EnsureDataset.
var ErrUnknownDataset = errors.New("dataset not registered")

// CatalogConfig configures the run catalog. An empty DSN disables it.
type CatalogConfig struct {
	PostgresDSN string
}

// DatasetInfo identifies a published dataset.
type DatasetInfo struct {
	Dataset       string
	SchemaVersion string
	Description   string
}

// TableRecord is one table of a recorded run.
type TableRecord struct {
	Table    string
	Path     string
	Checksum string
	RowCount int64
	ByteSize int64
}

// RunRecord is the lineage entry of one published run.
type RunRecord struct {
	DatasetID        int64
	RunID            string
	InputFingerprint string
	InputPartitions  int
	InputRows        int64
	Checksum         string // combined checksum of all tables
	PrevHash         string // Checksum of the previous run, empty for the first
	RunPath          string
	StorageURI       string
	ProducerVersion  string
	ProducerGitSHA   string
	SourceType       string
	SourceLocation   string
	Tables           []TableRecord
	PublishedAt      time.Time
}

// Writer records dataset and run lineage.
type Writer interface {
	// EnsureDataset registers the dataset and returns its id.
	EnsureDataset(ctx context.Context, info DatasetInfo) (int64, error)

	// RecordRun writes the lineage entry of a published run.
	RecordRun(ctx context.Context, rec RunRecord) error

	// LastRun returns the most recent run of a dataset, or nil if none.
	LastRun(ctx context.Context, datasetID int64) (*RunRecord, error)

	Close() error
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(cfg)
}

// CombinedChecksum hashes per-table checksums in table order. It identifies
// a table set independent of map iteration order.
func CombinedChecksum(checksums map[string]string) string {
	tables := make([]string, 0, len(checksums))
	for t := range checksums {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	h := sha256.New()
	for _, t := range tables {
		h.Write([]byte(t))
		h.Write([]byte{0})
		h.Write([]byte(checksums[t]))
		h.Write([]byte{'\n'})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

type noopWriter struct{}

func (noopWriter) EnsureDataset(context.Context, DatasetInfo) (int64, error) { return 0, nil }
func (noopWriter) RecordRun(context.Context, RunRecord) error                { return nil }
func (noopWriter) LastRun(context.Context, int64) (*RunRecord, error)        { return nil, nil }
func (noopWriter) Close() error                                              { return nil }
