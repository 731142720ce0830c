package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned by ReadObject when the key does not exist.
var ErrNotFound = errors.New("object not found")

// TableRef describes one table of one published run.
type TableRef struct {
	Dataset string // "web_events"
	RunID   string // "20250223T101500Z-1a2b3c4d"
	Table   string // "fct_sessions"
}

// Path returns the storage path for this table's parquet file.
func (r TableRef) Path(prefix string) string {
	return r.DirPath(prefix) + "/part-0.parquet"
}

// ManifestPath returns the storage path for this table's manifest.
func (r TableRef) ManifestPath(prefix string) string {
	return r.DirPath(prefix) + "/_manifest.json"
}

// DirPath returns the directory path for this table.
func (r TableRef) DirPath(prefix string) string {
	return fmt.Sprintf("%s/%s", RunPath(prefix, r.Dataset, r.RunID), r.Table)
}

// RunPath returns the directory holding every table of a run.
func RunPath(prefix, dataset, runID string) string {
	return fmt.Sprintf("%s%s/run=%s", prefix, dataset, runID)
}

// PointerPath returns the key of the dataset's current-run pointer.
func PointerPath(prefix, dataset string) string {
	return fmt.Sprintf("%s%s/_CURRENT.json", prefix, dataset)
}

// Manifest describes the contents of a table directory.
type Manifest struct {
	Run       RunInfo              `json:"run"`
	Tables    map[string]TableInfo `json:"tables"`
	Producer  ProducerInfo         `json:"producer"`
	CreatedAt time.Time            `json:"created_at"`
}

// RunInfo identifies the run that produced a table.
type RunInfo struct {
	Dataset               string `json:"dataset"`
	RunID                 string `json:"run_id"`
	InputFingerprint      string `json:"input_fingerprint"`
	InputPartitions       int    `json:"input_partitions"`
	InputRows             int64  `json:"input_rows"`
	SessionTimeoutMinutes int    `json:"session_timeout_minutes"`
	LookbackDays          int    `json:"lookback_days"`
	SchemaVersion         string `json:"schema_version"`
}

// TableInfo describes a single table file.
type TableInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the run.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// RunPointer names the run readers should use. It is the last object written
// by a publish, so a reader that resolves it sees a complete table set.
type RunPointer struct {
	Dataset          string            `json:"dataset"`
	RunID            string            `json:"run_id"`
	RunPath          string            `json:"run_path"`
	Tables           map[string]string `json:"tables"` // table -> parquet key
	Checksums        map[string]string `json:"checksums"`
	InputFingerprint string            `json:"input_fingerprint"`
	PublishedAt      time.Time         `json:"published_at"`
}

// TableStore abstracts writing run outputs to storage.
type TableStore interface {
	// WriteTable writes parquet bytes for a table.
	WriteTable(ctx context.Context, ref TableRef, parquetBytes []byte) error

	// WriteManifest writes a table manifest.
	WriteManifest(ctx context.Context, ref TableRef, manifest *Manifest) error

	// WriteObject replaces the object at key in a single atomic write.
	WriteObject(ctx context.Context, key string, data []byte) error

	// ReadObject returns the object at key, or ErrNotFound.
	ReadObject(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Prefix returns the key prefix all outputs are written under.
	Prefix() string

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// AtomicStore extends TableStore with staged writes.
// This is the preferred interface for production use.
type AtomicStore interface {
	TableStore

	// WriteTableTemp writes parquet bytes to a temporary location.
	// Returns the temp key that can be passed to Finalize.
	WriteTableTemp(ctx context.Context, ref TableRef, parquetBytes []byte) (tempKey string, err error)

	// WriteManifestTemp writes a manifest to a temporary location.
	WriteManifestTemp(ctx context.Context, ref TableRef, manifest *Manifest) (tempKey string, err error)

	// Finalize moves the parquet and manifest temp files, in that order, to
	// their canonical location. For object stores this is copy+delete; for
	// the local filesystem it's rename. On failure nothing is left behind.
	Finalize(ctx context.Context, ref TableRef, tempKeys []string) error

	// Abort removes temporary files without publishing.
	Abort(ctx context.Context, tempKeys []string) error

	// Delete removes objects. Missing keys are not an error.
	Delete(ctx context.Context, keys []string) error

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local
	ModTime time.Time
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string // /path/to/warehouse/

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Common
	Prefix string // "warehouse/" (path prefix within bucket or local dir)
}

// NewAtomicStore creates a storage backend based on configuration.
// All supported backends (local, gcs, s3) implement AtomicStore.
func NewAtomicStore(cfg StorageConfig) (AtomicStore, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCSBucket required for gcs backend")
		}
		return NewGCSStore(cfg.GCSBucket, cfg.Prefix)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3Bucket required for s3 backend")
		}
		return NewS3Store(cfg.S3Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// WritePointer replaces the dataset's current-run pointer.
func WritePointer(ctx context.Context, store TableStore, p *RunPointer) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run pointer: %w", err)
	}
	return store.WriteObject(ctx, PointerPath(store.Prefix(), p.Dataset), data)
}

// ReadPointer returns the dataset's current run, or ErrNotFound when nothing
// has been published yet.
func ReadPointer(ctx context.Context, store TableStore, dataset string) (*RunPointer, error) {
	data, err := store.ReadObject(ctx, PointerPath(store.Prefix(), dataset))
	if err != nil {
		return nil, err
	}
	var p RunPointer
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode run pointer: %w", err)
	}
	return &p, nil
}

// ReadManifest returns the manifest of a published table.
func ReadManifest(ctx context.Context, store TableStore, ref TableRef) (*Manifest, error) {
	data, err := store.ReadObject(ctx, ref.ManifestPath(store.Prefix()))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
