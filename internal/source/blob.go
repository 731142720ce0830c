package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
)

// BlobSource reads partition files from a gocloud.dev bucket (GCS, S3, or any
// other registered driver).
type BlobSource struct {
	bucket *blob.Bucket
	prefix string
}

// NewGCSSource creates a source over a GCS bucket.
// Uses Application Default Credentials (ADC) for authentication.
func NewGCSSource(bucketName, prefix string) (*BlobSource, error) {
	return OpenBlobSource(context.Background(), fmt.Sprintf("gs://%s", bucketName), prefix)
}

// NewS3Source creates a source over S3-compatible storage.
// endpoint can be empty for AWS S3, or a custom URL for B2/R2/MinIO.
func NewS3Source(bucketName, prefix, endpoint, region string) (*BlobSource, error) {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	return OpenBlobSource(context.Background(), bucketURL, prefix)
}

// OpenBlobSource opens a bucket by URL.
func OpenBlobSource(ctx context.Context, bucketURL, prefix string) (*BlobSource, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &BlobSource{bucket: bucket, prefix: prefix}, nil
}

// List returns all partition objects under the prefix in order.
func (s *BlobSource) List(ctx context.Context) ([]PartitionFile, error) {
	index := NewPartitionIndex()

	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.prefix, err)
		}
		if obj.IsDir {
			continue
		}
		index.AddFile(obj.Key, obj.Size)
	}

	index.Sort()
	return index.Files(), nil
}

// Open opens a partition object for reading.
func (s *BlobSource) Open(ctx context.Context, file PartitionFile) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, file.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Key, err)
	}
	return r, nil
}

// Close releases the bucket connection.
func (s *BlobSource) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ PartitionSource = (*BlobSource)(nil)
