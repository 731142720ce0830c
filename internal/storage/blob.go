package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
	"gocloud.dev/gcerrors"
)

// BlobStore writes run outputs to a gocloud.dev bucket (GCS, S3 or any other
// registered driver).
type BlobStore struct {
	bucket    *blob.Bucket
	uriPrefix string // "gs://bucket"
	prefix    string
}

// NewGCSStore creates a new GCS store.
// Uses Application Default Credentials (ADC) for authentication.
func NewGCSStore(bucketName, prefix string) (*BlobStore, error) {
	bucketURL := fmt.Sprintf("gs://%s", bucketName)
	store, err := OpenBlobStore(context.Background(), bucketURL, prefix)
	if err != nil {
		return nil, err
	}
	store.uriPrefix = bucketURL
	return store, nil
}

// NewS3Store creates a new S3-compatible store.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func NewS3Store(bucketName, prefix, endpoint, region string) (*BlobStore, error) {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}

	openURL := bucketURL
	if len(params) > 0 {
		openURL = bucketURL + "?" + params.Encode()
	}

	store, err := OpenBlobStore(context.Background(), openURL, prefix)
	if err != nil {
		return nil, err
	}
	store.uriPrefix = bucketURL
	return store, nil
}

// OpenBlobStore opens a bucket by URL.
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &BlobStore{
		bucket:    bucket,
		uriPrefix: bucketURL,
		prefix:    prefix,
	}, nil
}

func (s *BlobStore) write(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// WriteTable writes parquet bytes to the bucket.
func (s *BlobStore) WriteTable(ctx context.Context, ref TableRef, data []byte) error {
	return s.write(ctx, ref.Path(s.prefix), data)
}

// WriteManifest writes a manifest to the bucket.
func (s *BlobStore) WriteManifest(ctx context.Context, ref TableRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.write(ctx, ref.ManifestPath(s.prefix), data)
}

// WriteObject replaces the object at key. Object writes are atomic on GCS and S3.
func (s *BlobStore) WriteObject(ctx context.Context, key string, data []byte) error {
	return s.write(ctx, key, data)
}

// ReadObject reads the object at key.
func (s *BlobStore) ReadObject(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if an object exists.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Prefix returns the key prefix.
func (s *BlobStore) Prefix() string {
	return s.prefix
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("%s/%s", s.uriPrefix, key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// --- AtomicStore implementation ---

// WriteTableTemp writes parquet bytes to a temporary location.
func (s *BlobStore) WriteTableTemp(ctx context.Context, ref TableRef, data []byte) (string, error) {
	tempKey := ref.Path(s.prefix) + ".tmp." + uuid.New().String()
	if err := s.write(ctx, tempKey, data); err != nil {
		return "", err
	}
	return tempKey, nil
}

// WriteManifestTemp writes a manifest to a temporary location.
func (s *BlobStore) WriteManifestTemp(ctx context.Context, ref TableRef, manifest *Manifest) (string, error) {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	tempKey := ref.ManifestPath(s.prefix) + ".tmp." + uuid.New().String()
	if err := s.write(ctx, tempKey, data); err != nil {
		return "", err
	}
	return tempKey, nil
}

// Finalize moves temp objects to their canonical location.
// Uses copy + delete pattern.
func (s *BlobStore) Finalize(ctx context.Context, ref TableRef, tempKeys []string) error {
	finalKeys := []string{
		ref.Path(s.prefix),
		ref.ManifestPath(s.prefix),
	}

	if len(tempKeys) != len(finalKeys) {
		return fmt.Errorf("expected %d temp keys, got %d", len(finalKeys), len(tempKeys))
	}

	// Copy all temp files to final locations
	for i, tempKey := range tempKeys {
		finalKey := finalKeys[i]

		if err := s.copyObject(ctx, tempKey, finalKey); err != nil {
			// Rollback: delete any copied objects
			for j := 0; j < i; j++ {
				s.bucket.Delete(ctx, finalKeys[j])
			}
			// Clean up temp files
			s.Abort(ctx, tempKeys)
			return fmt.Errorf("finalize %s -> %s: %w", tempKey, finalKey, err)
		}
	}

	// Delete all temp files after successful copy
	for _, tempKey := range tempKeys {
		s.bucket.Delete(ctx, tempKey) // ignore errors
	}

	return nil
}

// copyObject copies an object within the bucket.
func (s *BlobStore) copyObject(ctx context.Context, srcKey, dstKey string) error {
	r, err := s.bucket.NewReader(ctx, srcKey, nil)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcKey, err)
	}
	defer r.Close()

	w, err := s.bucket.NewWriter(ctx, dstKey, nil)
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dstKey, err)
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("copy to %s: %w", dstKey, err)
	}

	return w.Close()
}

// Abort removes temporary files without publishing.
func (s *BlobStore) Abort(ctx context.Context, tempKeys []string) error {
	return s.Delete(ctx, tempKeys)
}

// Delete removes objects. Missing keys are ignored.
func (s *BlobStore) Delete(ctx context.Context, keys []string) error {
	var lastErr error
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			lastErr = err
		}
	}
	return lastErr
}

// Head returns metadata about a stored object.
func (s *BlobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

// Verify BlobStore implements AtomicStore.
var _ AtomicStore = (*BlobStore)(nil)
