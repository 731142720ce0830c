package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/config"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
)

// Run is what the pipeline reports for a published run. It is converted to
// a RunEvent before emission.
type Run struct {
	Dataset          string
	RunID            string
	InputFingerprint string
	InputPartitions  int
	InputRows        int64
	Checksums        map[string]string
	RowCounts        map[string]int64
	ByteSizes        map[string]int64
	StoragePaths     map[string]string
	Producer         ProducerInfo
}

// Emitter is the interface for audit event emission.
type Emitter interface {
	EmitRun(ctx context.Context, run Run) error
	Close() error
}

// NewEmitter creates an emitter based on configuration. Construction
// failures degrade to a weaker emitter rather than failing the run.
func NewEmitter(cfg config.AuditConfig) Emitter {
	log := logging.Component("audit")

	if !cfg.Enabled {
		log.Info("disabled, using no-op emitter")
		return &noopEmitter{}
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			log.Warn("failed to create HTTP emitter, falling back to file-only", "error", err)
			return createFileOnlyEmitter(cfg)
		}
		log.Info("using HTTP emitter", "endpoint", cfg.Endpoint)
		return &httpEmitterWrapper{emitter: emitter}
	}

	return createFileOnlyEmitter(cfg)
}

func createFileOnlyEmitter(cfg config.AuditConfig) Emitter {
	log := logging.Component("audit")

	emitter, err := NewFileOnlyEmitter(cfg.BackupDir)
	if err != nil {
		log.Warn("failed to create file emitter, using no-op", "error", err)
		return &noopEmitter{}
	}
	log.Info("using file-only emitter", "dir", cfg.BackupDir)
	return &fileOnlyEmitterWrapper{emitter: emitter}
}

type httpEmitterWrapper struct {
	emitter *HTTPEmitter
}

func (w *httpEmitterWrapper) EmitRun(ctx context.Context, run Run) error {
	evt := NewRunEvent(run)
	return w.emitter.Emit(ctx, &evt)
}

func (w *httpEmitterWrapper) Close() error {
	return w.emitter.Close()
}

type fileOnlyEmitterWrapper struct {
	emitter *FileOnlyEmitter
}

func (w *fileOnlyEmitterWrapper) EmitRun(_ context.Context, run Run) error {
	evt := NewRunEvent(run)
	return w.emitter.Emit(&evt)
}

func (w *fileOnlyEmitterWrapper) Close() error {
	return w.emitter.Close()
}

// NewRunEvent converts a pipeline report into an unchained event.
func NewRunEvent(run Run) RunEvent {
	tables := make(map[string]TableInfo, len(run.Checksums))
	for table, checksum := range run.Checksums {
		tables[table] = TableInfo{
			Checksum:    checksum,
			RowCount:    run.RowCounts[table],
			ByteSize:    run.ByteSizes[table],
			StoragePath: run.StoragePaths[table],
		}
	}

	return RunEvent{
		Version:   EventVersion,
		EventType: EventType,
		Run: RunInfo{
			Dataset:          run.Dataset,
			RunID:            run.RunID,
			InputFingerprint: run.InputFingerprint,
			InputPartitions:  run.InputPartitions,
			InputRows:        run.InputRows,
		},
		Tables:   tables,
		Producer: run.Producer,
	}
}

// stamp fills the identity fields set at emission time.
func stamp(evt *RunEvent) {
	evt.Version = EventVersion
	evt.EventType = EventType
	if evt.EventID == "" {
		evt.EventID = "audit_evt_" + uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
}

type noopEmitter struct{}

func (n *noopEmitter) EmitRun(_ context.Context, _ Run) error {
	return nil
}

func (n *noopEmitter) Close() error {
	return nil
}
