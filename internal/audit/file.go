package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
)

// FileBackup saves audit events to local files.
type FileBackup struct {
	dir string
	log *slog.Logger
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./audit-backup"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir, log: logging.Component("audit")}, nil
}

// Path returns the backup file of a run: {dataset}_{run_id}.json
func (f *FileBackup) Path(run RunInfo) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.json", run.Dataset, run.RunID))
}

// Save writes an event to its backup file.
func (f *FileBackup) Save(evt *RunEvent) error {
	path := f.Path(evt.Run)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	f.log.Debug("event backed up", "path", path)
	return nil
}

// Load reads an event back from its backup file.
func (f *FileBackup) Load(run RunInfo) (*RunEvent, error) {
	data, err := os.ReadFile(f.Path(run))
	if err != nil {
		return nil, err
	}
	var evt RunEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &evt, nil
}

// FileOnlyEmitter writes events to files only.
// Used when no audit endpoint is configured.
type FileOnlyEmitter struct {
	chainTracker *ChainTracker
	backup       *FileBackup
	log          *slog.Logger
}

// NewFileOnlyEmitter creates an emitter that only writes to local files.
func NewFileOnlyEmitter(backupDir string) (*FileOnlyEmitter, error) {
	chainTracker, err := NewChainTracker(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &FileOnlyEmitter{
		chainTracker: chainTracker,
		backup:       backup,
		log:          logging.Component("audit"),
	}, nil
}

// Emit chains the event and writes it to a local file.
func (e *FileOnlyEmitter) Emit(evt *RunEvent) error {
	head, _ := e.chainTracker.Head(evt.Run.ChainKey())
	stamp(evt)
	evt.SetChainHashes(head.EventHash)

	e.log.Info("file-only emit",
		"dataset", evt.Run.Dataset,
		"run_id", evt.Run.RunID,
		"event_hash", evt.Chain.EventHash,
	)

	if err := e.backup.Save(evt); err != nil {
		return err
	}

	if err := e.chainTracker.Advance(evt); err != nil {
		e.log.Warn("failed to update chain head", "error", err)
	}
	return nil
}

// Close releases resources.
func (e *FileOnlyEmitter) Close() error {
	return nil
}
