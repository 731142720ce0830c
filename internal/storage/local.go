package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore writes run outputs to the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
		prefix:  prefix,
	}, nil
}

func (s *LocalStore) abs(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// writeFile writes data under key using temp file + rename.
func (s *LocalStore) writeFile(key string, data []byte) error {
	path := s.abs(key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp." + uuid.New().String()
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

// writeTemp writes data next to key and returns the temp key.
func (s *LocalStore) writeTemp(key string, data []byte) (string, error) {
	tempKey := key + ".tmp." + uuid.New().String()
	path := s.abs(tempKey)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write temp file %s: %w", path, err)
	}
	return tempKey, nil
}

// WriteTable writes parquet bytes to the local filesystem.
func (s *LocalStore) WriteTable(ctx context.Context, ref TableRef, data []byte) error {
	return s.writeFile(ref.Path(s.prefix), data)
}

// WriteManifest writes a manifest file to the local filesystem.
func (s *LocalStore) WriteManifest(ctx context.Context, ref TableRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeFile(ref.ManifestPath(s.prefix), data)
}

// WriteObject replaces the file at key; rename makes the swap atomic.
func (s *LocalStore) WriteObject(ctx context.Context, key string, data []byte) error {
	return s.writeFile(key, data)
}

// ReadObject reads the file at key.
func (s *LocalStore) ReadObject(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.abs(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.abs(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Prefix returns the key prefix.
func (s *LocalStore) Prefix() string {
	return s.prefix
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(s.abs(key))
	if err != nil {
		absPath = s.abs(key)
	}
	return "file://" + filepath.ToSlash(absPath)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

// --- AtomicStore implementation ---

// WriteTableTemp writes parquet bytes to a temporary file.
func (s *LocalStore) WriteTableTemp(ctx context.Context, ref TableRef, data []byte) (string, error) {
	return s.writeTemp(ref.Path(s.prefix), data)
}

// WriteManifestTemp writes a manifest to a temporary file.
func (s *LocalStore) WriteManifestTemp(ctx context.Context, ref TableRef, manifest *Manifest) (string, error) {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeTemp(ref.ManifestPath(s.prefix), data)
}

// Finalize renames temp files to their canonical location.
func (s *LocalStore) Finalize(ctx context.Context, ref TableRef, tempKeys []string) error {
	finalKeys := []string{
		ref.Path(s.prefix),
		ref.ManifestPath(s.prefix),
	}

	if len(tempKeys) != len(finalKeys) {
		return fmt.Errorf("expected %d temp keys, got %d", len(finalKeys), len(tempKeys))
	}

	for i, tempKey := range tempKeys {
		if err := os.Rename(s.abs(tempKey), s.abs(finalKeys[i])); err != nil {
			// Rollback: remove what was already moved
			for j := 0; j < i; j++ {
				os.Remove(s.abs(finalKeys[j]))
			}
			s.Abort(ctx, tempKeys[i:])
			return fmt.Errorf("finalize %s -> %s: %w", tempKey, finalKeys[i], err)
		}
	}
	return nil
}

// Abort removes temporary files without publishing.
func (s *LocalStore) Abort(ctx context.Context, tempKeys []string) error {
	return s.Delete(ctx, tempKeys)
}

// Delete removes files. Missing files are ignored.
func (s *LocalStore) Delete(ctx context.Context, keys []string) error {
	var lastErr error
	for _, key := range keys {
		if err := os.Remove(s.abs(key)); err != nil && !os.IsNotExist(err) {
			lastErr = err
		}
	}
	return lastErr
}

// Head returns metadata about a stored file.
func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := os.Stat(s.abs(key))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return &ObjectInfo{
		Key:     key,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// List returns all keys with the given prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

// Verify LocalStore implements AtomicStore.
var _ AtomicStore = (*LocalStore)(nil)
