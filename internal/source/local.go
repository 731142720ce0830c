package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalSource reads partition files from the local filesystem.
type LocalSource struct {
	basePath string
}

// NewLocalSource creates a new local filesystem source.
func NewLocalSource(basePath string) (*LocalSource, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid local path %s: %w", basePath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local path %s is not a directory", basePath)
	}

	return &LocalSource{basePath: basePath}, nil
}

// List walks the directory tree and returns all partition files in order.
func (s *LocalSource) List(ctx context.Context) ([]PartitionFile, error) {
	index := NewPartitionIndex()

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		index.AddFile(path, info.Size())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	index.Sort()
	return index.Files(), nil
}

// Open opens a partition file for reading.
func (s *LocalSource) Open(ctx context.Context, file PartitionFile) (io.ReadCloser, error) {
	f, err := os.Open(file.Key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Key, err)
	}
	return f, nil
}

// Close is a no-op for local sources.
func (s *LocalSource) Close() error {
	return nil
}

var _ PartitionSource = (*LocalSource)(nil)
