// Package pipeline runs one batch: load raw partitions, derive the tables,
// and publish them as a single table set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/audit"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/config"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/metadata"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/metrics"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/storage"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/tables"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/transform"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

const producerName = "event-warehouse"

// ErrUnchangedInput is returned when skip_unchanged is set and the input
// fingerprint matches the last published run.
var ErrUnchangedInput = errors.New("input unchanged since last published run")

// Stage names, used in logs and metrics.
const (
	StageLoad      = "load"
	StageTransform = "transform"
	StageValidate  = "validate"
	StageEncode    = "encode"
	StagePublish   = "publish"
)

// Summary describes a finished run.
type Summary struct {
	Dataset          string
	RunID            string
	RunPath          string
	InputFingerprint string
	InputPartitions  int
	InputRows        int64
	RowCounts        map[string]int64
	Checksums        map[string]string
	Report           transform.Report
	Skipped          bool
	Duration         time.Duration
}

// Runner orchestrates a run.
type Runner struct {
	cfg        config.Config
	src        source.PartitionSource
	store      storage.AtomicStore
	meta       metadata.Writer
	audit      audit.Emitter
	checkpoint checkpoint.Manager
	now        func() time.Time
	datasetID  int64
	log        *slog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithCatalog replaces the catalog writer built from configuration.
func WithCatalog(w metadata.Writer) Option {
	return func(r *Runner) { r.meta = w }
}

// WithEmitter replaces the audit emitter built from configuration.
func WithEmitter(e audit.Emitter) Option {
	return func(r *Runner) { r.audit = e }
}

// WithCheckpoint replaces the checkpoint manager built from configuration.
func WithCheckpoint(m checkpoint.Manager) Option {
	return func(r *Runner) { r.checkpoint = m }
}

// WithClock sets the time source used for run ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a runner. Side systems (catalog, audit, checkpoint) that fail
// to initialize are replaced by no-ops; they never block a publish.
func New(cfg config.Config, src source.PartitionSource, store storage.AtomicStore, opts ...Option) *Runner {
	r := &Runner{
		cfg:   cfg,
		src:   src,
		store: store,
		now:   time.Now,
		log:   logging.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.meta == nil {
		meta, err := metadata.NewWriter(metadata.CatalogConfig{PostgresDSN: cfg.Catalog.PostgresDSN})
		if err != nil {
			r.log.Warn("catalog unavailable, lineage disabled", "error", err)
			meta, _ = metadata.NewWriter(metadata.CatalogConfig{})
		}
		r.meta = meta
	}
	if r.audit == nil {
		r.audit = audit.NewEmitter(cfg.Audit)
	}
	if r.checkpoint == nil {
		cp, err := checkpoint.NewManager(checkpoint.Config{
			Enabled: cfg.Checkpoint.Enabled,
			Dir:     cfg.Checkpoint.Dir,
		})
		if err != nil {
			r.log.Warn("failed to create checkpoint manager", "error", err)
			cp, _ = checkpoint.NewManager(checkpoint.Config{})
		}
		r.checkpoint = cp
	}
	return r
}

// Close releases the side systems.
func (r *Runner) Close() error {
	return errors.Join(r.meta.Close(), r.audit.Close())
}

// NewRunID returns a sortable, unique run id: 20250223T101500Z-1a2b3c4d.
func NewRunID(t time.Time) string {
	return t.UTC().Format("20060102T150405Z") + "-" + uuid.New().String()[:8]
}

// Run executes one batch. Any failure before the run pointer is replaced
// leaves the previously published run current.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	dataset := r.cfg.Dataset
	started := r.now()
	runID := NewRunID(started)
	log := logging.RunLogger(logging.CorrelationID(ctx), dataset, runID)

	r.ensureDataset(ctx, log)

	fail := func(stage string, err error) (*Summary, error) {
		if m := metrics.Get(); m != nil {
			m.IncRunsFailed(dataset, stage)
		}
		log.Error("run failed", "stage", stage, "error", err)
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	// Load
	var loaded *source.LoadResult
	if err := r.stage(dataset, StageLoad, func() error {
		loader, err := source.NewLoader(r.src, r.cfg.LoaderOptions())
		if err != nil {
			return err
		}
		defer loader.Close()
		loaded, err = loader.Load(ctx)
		return err
	}); err != nil {
		return fail(StageLoad, err)
	}
	log.Info("input loaded",
		"partitions", len(loaded.Partitions),
		"rows", len(loaded.Events),
		"fingerprint", loaded.Fingerprint,
	)
	if m := metrics.Get(); m != nil {
		m.SetInputRows(dataset, float64(len(loaded.Events)))
	}

	if r.cfg.Checkpoint.SkipUnchanged {
		if sum, ok := r.unchanged(ctx, log, loaded); ok {
			if m := metrics.Get(); m != nil {
				m.IncRunsSkipped(dataset)
			}
			return sum, ErrUnchangedInput
		}
	}

	// Transform
	var result *transform.Result
	if err := r.stage(dataset, StageTransform, func() error {
		var err error
		result, err = transform.Run(ctx, loaded.Events, r.cfg.Transform.Options())
		return err
	}); err != nil {
		return fail(StageTransform, err)
	}

	// Validate
	if err := r.stage(dataset, StageValidate, func() error {
		v := ValidateResult(result)
		for _, w := range v.Warnings {
			log.Warn("validation warning", "warning", w)
		}
		return v.Err()
	}); err != nil {
		return fail(StageValidate, err)
	}

	// Encode
	var output *tables.ParquetOutput
	if err := r.stage(dataset, StageEncode, func() error {
		var err error
		if output, err = tables.Encode(result, r.cfg.Parquet.Tables()); err != nil {
			return err
		}
		return ValidateOutput(output).Err()
	}); err != nil {
		return fail(StageEncode, err)
	}

	report := transform.Reconcile(result)
	job := &publishJob{
		runID:   runID,
		loaded:  loaded,
		output:  output,
		report:  report,
		started: started,
	}

	// Publish
	var pointer *storage.RunPointer
	if err := r.stage(dataset, StagePublish, func() error {
		var err error
		pointer, err = r.publish(ctx, log, job)
		return err
	}); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStorageErrors(dataset, r.cfg.Storage.Backend)
		}
		return fail(StagePublish, err)
	}

	// Side systems. The table set is already current; failures only warn.
	r.recordLineage(ctx, log, job)
	r.emitAudit(ctx, log, job)
	r.saveCheckpoint(ctx, log, job)

	elapsed := r.now().Sub(started)
	r.recordMetrics(job, elapsed)

	log.Info("run published",
		"run_path", pointer.RunPath,
		"events", output.RowCounts[transform.TableEvents],
		"sessions", output.RowCounts[transform.TableSessions],
		"orders", output.RowCounts[transform.TableOrders],
		"bytes", output.TotalBytes(),
		"duration", elapsed.String(),
	)

	return &Summary{
		Dataset:          dataset,
		RunID:            runID,
		RunPath:          pointer.RunPath,
		InputFingerprint: loaded.Fingerprint,
		InputPartitions:  len(loaded.Partitions),
		InputRows:        int64(len(loaded.Events)),
		RowCounts:        output.RowCounts,
		Checksums:        output.Checksums,
		Report:           report,
		Duration:         elapsed,
	}, nil
}

// stage runs fn and records its duration.
func (r *Runner) stage(dataset, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if m := metrics.Get(); m != nil {
		m.ObserveStageDuration(dataset, name, time.Since(start).Seconds())
	}
	return err
}

// unchanged reports whether the checkpointed run was built from the same
// input and is still the current run.
func (r *Runner) unchanged(ctx context.Context, log *slog.Logger, loaded *source.LoadResult) (*Summary, bool) {
	cp, err := r.checkpoint.Load(ctx, r.cfg.Dataset)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			log.Warn("failed to load checkpoint", "error", err)
		}
		return nil, false
	}
	if !cp.SameInput(loaded.Fingerprint) {
		return nil, false
	}

	current, err := storage.ReadPointer(ctx, r.store, r.cfg.Dataset)
	if err != nil || current.RunID != cp.RunID {
		log.Info("checkpoint run is not current, rebuilding", "checkpoint_run_id", cp.RunID)
		return nil, false
	}

	log.Info("input unchanged, skipping run", "current_run_id", cp.RunID)
	return &Summary{
		Dataset:          r.cfg.Dataset,
		RunID:            cp.RunID,
		RunPath:          current.RunPath,
		InputFingerprint: loaded.Fingerprint,
		InputPartitions:  len(loaded.Partitions),
		InputRows:        int64(len(loaded.Events)),
		RowCounts:        cp.RowCounts,
		Checksums:        cp.Checksums,
		Skipped:          true,
	}, true
}

// ensureDataset registers the dataset in the catalog and caches the ID.
func (r *Runner) ensureDataset(ctx context.Context, log *slog.Logger) {
	if r.datasetID > 0 {
		return
	}
	id, err := r.meta.EnsureDataset(ctx, metadata.DatasetInfo{
		Dataset:       r.cfg.Dataset,
		SchemaVersion: tables.SchemaVersion,
		Description:   "Enriched web events, sessions, orders and attribution",
	})
	if err != nil {
		log.Warn("failed to ensure dataset in catalog", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncMetadataErrors(r.cfg.Dataset)
		}
		return
	}
	r.datasetID = id
	if id > 0 {
		log.Debug("registered dataset in catalog", "dataset_id", id)
	}
}

func (r *Runner) recordMetrics(job *publishJob, elapsed time.Duration) {
	m := metrics.Get()
	if m == nil {
		return
	}
	dataset := r.cfg.Dataset
	m.IncRunsCompleted(dataset)
	m.ObserveRunDuration(dataset, elapsed.Seconds())
	m.SetLastSuccess(dataset, float64(r.now().Unix()))
	for table, rows := range job.output.RowCounts {
		m.SetTableRows(dataset, table, float64(rows))
		m.SetTableBytes(dataset, table, float64(len(job.output.Parquets[table])))
	}
}
