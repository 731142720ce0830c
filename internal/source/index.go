package source

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

// PartitionIndex maintains an ordered list of partition files.
type PartitionIndex struct {
	files  []PartitionFile
	byName map[string]bool
}

// NewPartitionIndex creates an empty partition index.
func NewPartitionIndex() *PartitionIndex {
	return &PartitionIndex{
		files:  make([]PartitionFile, 0),
		byName: make(map[string]bool),
	}
}

// Partition date embedded in a file name: 20250223 or 2025-02-23.
// Example: events_20250223.csv, 2025-02-23.csv.zst
var partitionDatePattern = regexp.MustCompile(`(\d{4})-?(\d{2})-?(\d{2})`)

// IsPartitionFile reports whether the key names a CSV partition (optionally zstd-compressed).
func IsPartitionFile(key string) bool {
	base := strings.ToLower(path.Base(key))
	return strings.HasSuffix(base, ".csv") || strings.HasSuffix(base, ".csv.zst")
}

// IsCompressed reports whether the partition is zstd-compressed.
func IsCompressed(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".zst")
}

// ParsePartitionDate extracts the partition date from a file name.
func ParsePartitionDate(name string) (time.Time, bool) {
	m := partitionDatePattern.FindStringSubmatch(path.Base(name))
	if m == nil {
		return time.Time{}, false
	}
	d, err := time.Parse("20060102", m[1]+m[2]+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// AddFile adds a partition file to the index. Duplicate keys are ignored.
func (idx *PartitionIndex) AddFile(key string, size int64) bool {
	if !IsPartitionFile(key) || idx.byName[key] {
		return false
	}
	f := PartitionFile{
		Key:  key,
		Name: path.Base(key),
		Size: size,
	}
	if d, ok := ParsePartitionDate(f.Name); ok {
		f.Date = d
	}
	idx.files = append(idx.files, f)
	idx.byName[key] = true
	return true
}

// Sort orders files by key, which is the concatenation order of a run.
func (idx *PartitionIndex) Sort() {
	sort.Slice(idx.files, func(i, j int) bool {
		return idx.files[i].Key < idx.files[j].Key
	})
}

// Count returns the number of indexed files.
func (idx *PartitionIndex) Count() int {
	return len(idx.files)
}

// Files returns all indexed files in order.
func (idx *PartitionIndex) Files() []PartitionFile {
	return idx.files
}

// Window returns the files whose partition date falls in [from, to].
// A zero bound is open. Undated files are only returned when both bounds are zero.
func (idx *PartitionIndex) Window(from, to time.Time) []PartitionFile {
	if from.IsZero() && to.IsZero() {
		return idx.files
	}
	var out []PartitionFile
	for _, f := range idx.files {
		if f.Date.IsZero() {
			continue
		}
		if !from.IsZero() && f.Date.Before(from) {
			continue
		}
		if !to.IsZero() && f.Date.After(to) {
			continue
		}
		out = append(out, f)
	}
	return out
}
