package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint records the last run published for a dataset.
type Checkpoint struct {
	Dataset          string            `json:"dataset"`
	RunID            string            `json:"run_id"`
	InputFingerprint string            `json:"input_fingerprint"`
	Checksums        map[string]string `json:"checksums"`
	RowCounts        map[string]int64  `json:"row_counts,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// SameInput reports whether a run over the given fingerprint would reproduce
// this checkpoint's tables.
func (c *Checkpoint) SameInput(fingerprint string) bool {
	return c != nil && fingerprint != "" && c.InputFingerprint == fingerprint
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint of a dataset.
	Load(ctx context.Context, dataset string) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	// Ensure checkpoint directory exists
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists checkpoints to local files, one per dataset.
type fileManager struct {
	dir string
}

func (m *fileManager) checkpointPath(dataset string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(dataset)
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s.json", safe))
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context, dataset string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(dataset))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.Dataset == "" {
		return fmt.Errorf("checkpoint dataset is empty")
	}
	path := m.checkpointPath(cp.Dataset)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, dataset string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
