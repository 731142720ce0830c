package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// RawEvent is one row of a raw event partition. Nullable columns are nil when
// the cell was empty or the column is missing from the partition.
type RawEvent struct {
	PageURL   string
	Timestamp string
	EventName string
	UserAgent *string
	Referrer  *string
	EventData *string

	// Client identifier under its two accepted column names.
	ClientID      *string // client_id
	ClientIDAlias *string // clientId

	Partition string // source file base name
}

// PartitionFile is a single daily partition in the source.
type PartitionFile struct {
	Key  string    // path or object key
	Name string    // base name, used as the partition tag
	Date time.Time // zero when the name carries no date
	Size int64
}

// PartitionSource lists and opens raw event partitions.
type PartitionSource interface {
	List(ctx context.Context) ([]PartitionFile, error)
	Open(ctx context.Context, file PartitionFile) (io.ReadCloser, error)
	Close() error
}

// SourceConfig selects and configures a partition source.
type SourceConfig struct {
	Mode      string // "local" | "gcs" | "s3"
	LocalPath string
	Bucket    string
	Prefix    string
	Endpoint  string // custom S3 endpoint for MinIO/R2/B2
	Region    string
}

var (
	ErrInvalidSourceMode = errors.New("invalid source mode")
	ErrNoPartitions      = errors.New("no partitions found")
	ErrMissingColumns    = errors.New("required columns missing")
)

// NewPartitionSource constructs a partition source based on the configured mode.
func NewPartitionSource(cfg SourceConfig) (PartitionSource, error) {
	switch cfg.Mode {
	case "local":
		return NewLocalSource(cfg.LocalPath)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs source")
		}
		return NewGCSSource(cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 source")
		}
		return NewS3Source(cfg.Bucket, cfg.Prefix, cfg.Endpoint, cfg.Region)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourceMode, cfg.Mode)
	}
}

// Location describes where partitions are read from, for lineage records.
func (c SourceConfig) Location() string {
	switch c.Mode {
	case "gcs":
		return fmt.Sprintf("gs://%s/%s", c.Bucket, c.Prefix)
	case "s3":
		return fmt.Sprintf("s3://%s/%s", c.Bucket, c.Prefix)
	case "local":
		return c.LocalPath
	default:
		return c.Mode
	}
}
