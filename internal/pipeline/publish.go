package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/audit"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/metadata"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/metrics"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/storage"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/tables"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/transform"
)

// Report files written next to the tables of a run.
const (
	ReportJSON     = "reconciliation.json"
	ReportMarkdown = "reconciliation.md"
)

// publishJob carries a built run through publishing and the side systems.
type publishJob struct {
	runID   string
	loaded  *source.LoadResult
	output  *tables.ParquetOutput
	report  transform.Report
	started time.Time

	published time.Time
	paths     map[string]string // table -> parquet key
}

func (j *publishJob) ref(dataset, table string) storage.TableRef {
	return storage.TableRef{Dataset: dataset, RunID: j.runID, Table: table}
}

// publish is the transactional lifecycle of a run.
//
// The order of operations must not be changed:
//  1. Write every table and its manifest to temp keys
//  2. Finalize each table under the run prefix
//  3. Write the reconciliation reports under the run prefix
//  4. Replace the dataset's run pointer
//
// Until step 4 readers still resolve the previous run. On failure every
// object written for this run is removed.
func (r *Runner) publish(ctx context.Context, log *slog.Logger, job *publishJob) (*storage.RunPointer, error) {
	dataset := r.cfg.Dataset
	prefix := r.store.Prefix()
	job.published = r.now().UTC()
	job.paths = make(map[string]string, len(transform.Tables))

	var written []string // final keys, for cleanup
	var staged [][]string
	cleanup := func() {
		for _, keys := range staged {
			if err := r.store.Abort(ctx, keys); err != nil {
				log.Warn("failed to abort temp files", "error", err)
			}
		}
		if err := r.store.Delete(ctx, written); err != nil {
			log.Warn("failed to remove partial run", "error", err)
		}
	}

	// Step 1: stage every table
	for _, table := range transform.Tables {
		ref := job.ref(dataset, table)
		data := job.output.Parquets[table]

		tempParquet, err := r.store.WriteTableTemp(ctx, ref, data)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("write parquet %s: %w", table, err)
		}
		tempManifest, err := r.store.WriteManifestTemp(ctx, ref, r.manifest(job, table))
		if err != nil {
			staged = append(staged, []string{tempParquet})
			cleanup()
			return nil, fmt.Errorf("write manifest %s: %w", table, err)
		}
		staged = append(staged, []string{tempParquet, tempManifest})
	}

	// Step 2: finalize
	for i, table := range transform.Tables {
		ref := job.ref(dataset, table)
		if err := r.store.Finalize(ctx, ref, staged[i]); err != nil {
			staged = staged[i+1:]
			cleanup()
			return nil, fmt.Errorf("finalize %s: %w", table, err)
		}
		written = append(written, ref.Path(prefix), ref.ManifestPath(prefix))
		job.paths[table] = ref.Path(prefix)

		log.Debug("wrote table",
			"table", table,
			"rows", job.output.RowCounts[table],
			"bytes", len(job.output.Parquets[table]),
			"checksum", job.output.Checksums[table],
		)
	}
	staged = nil

	// Step 3: reports
	runPath := storage.RunPath(prefix, dataset, job.runID)
	reportJSON, err := json.MarshalIndent(job.report, "", "  ")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	reports := []struct {
		name string
		data []byte
	}{
		{ReportJSON, reportJSON},
		{ReportMarkdown, []byte(job.report.Markdown())},
	}
	for _, rep := range reports {
		key := runPath + "/" + rep.name
		if err := r.store.WriteObject(ctx, key, rep.data); err != nil {
			cleanup()
			return nil, fmt.Errorf("write %s: %w", rep.name, err)
		}
		written = append(written, key)
	}

	// Step 4: swing the pointer
	pointer := &storage.RunPointer{
		Dataset:          dataset,
		RunID:            job.runID,
		RunPath:          runPath,
		Tables:           job.paths,
		Checksums:        job.output.Checksums,
		InputFingerprint: job.loaded.Fingerprint,
		PublishedAt:      job.published,
	}
	if err := storage.WritePointer(ctx, r.store, pointer); err != nil {
		cleanup()
		return nil, fmt.Errorf("write run pointer: %w", err)
	}

	log.Info("table set published", "run_path", r.store.URI(runPath))
	return pointer, nil
}

func (r *Runner) manifest(job *publishJob, table string) *storage.Manifest {
	data := job.output.Parquets[table]
	return &storage.Manifest{
		Run: storage.RunInfo{
			Dataset:               r.cfg.Dataset,
			RunID:                 job.runID,
			InputFingerprint:      job.loaded.Fingerprint,
			InputPartitions:       len(job.loaded.Partitions),
			InputRows:             int64(len(job.loaded.Events)),
			SessionTimeoutMinutes: r.cfg.Transform.SessionTimeoutMinutes,
			LookbackDays:          r.cfg.Transform.LookbackDays,
			SchemaVersion:         tables.SchemaVersion,
		},
		Tables: map[string]storage.TableInfo{
			table: {
				File:     "part-0.parquet",
				Checksum: job.output.Checksums[table],
				RowCount: job.output.RowCounts[table],
				ByteSize: int64(len(data)),
			},
		},
		Producer: storage.ProducerInfo{
			Name:    producerName,
			Version: Version,
			GitSHA:  GitSHA,
		},
		CreatedAt: job.published,
	}
}

// recordLineage chains the run to the previous run in the catalog.
func (r *Runner) recordLineage(ctx context.Context, log *slog.Logger, job *publishJob) {
	if r.datasetID == 0 {
		return
	}

	prevHash := ""
	if last, err := r.meta.LastRun(ctx, r.datasetID); err != nil {
		log.Warn("failed to read last run", "error", err)
	} else if last != nil {
		prevHash = last.Checksum
	}

	prefix := r.store.Prefix()
	var tableRecs []metadata.TableRecord
	for _, table := range transform.Tables {
		tableRecs = append(tableRecs, metadata.TableRecord{
			Table:    table,
			Path:     job.paths[table],
			Checksum: job.output.Checksums[table],
			RowCount: job.output.RowCounts[table],
			ByteSize: int64(len(job.output.Parquets[table])),
		})
	}

	runPath := storage.RunPath(prefix, r.cfg.Dataset, job.runID)
	err := r.meta.RecordRun(ctx, metadata.RunRecord{
		DatasetID:        r.datasetID,
		RunID:            job.runID,
		InputFingerprint: job.loaded.Fingerprint,
		InputPartitions:  len(job.loaded.Partitions),
		InputRows:        int64(len(job.loaded.Events)),
		Checksum:         metadata.CombinedChecksum(job.output.Checksums),
		PrevHash:         prevHash,
		RunPath:          runPath,
		StorageURI:       r.store.URI(runPath),
		ProducerVersion:  fmt.Sprintf("%s@%s", producerName, Version),
		ProducerGitSHA:   GitSHA,
		SourceType:       r.cfg.Source.Mode,
		SourceLocation:   r.cfg.Source.PartitionSource().Location(),
		Tables:           tableRecs,
		PublishedAt:      job.published,
	})
	if err != nil {
		log.Warn("failed to record lineage", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncMetadataErrors(r.cfg.Dataset)
		}
	}
}

// emitAudit must run after the pointer swap: the event references the
// published tables.
func (r *Runner) emitAudit(ctx context.Context, log *slog.Logger, job *publishJob) {
	byteSizes := make(map[string]int64, len(job.output.Parquets))
	for table, data := range job.output.Parquets {
		byteSizes[table] = int64(len(data))
	}

	err := r.audit.EmitRun(ctx, audit.Run{
		Dataset:          r.cfg.Dataset,
		RunID:            job.runID,
		InputFingerprint: job.loaded.Fingerprint,
		InputPartitions:  len(job.loaded.Partitions),
		InputRows:        int64(len(job.loaded.Events)),
		Checksums:        job.output.Checksums,
		RowCounts:        job.output.RowCounts,
		ByteSizes:        byteSizes,
		StoragePaths:     job.paths,
		Producer: audit.ProducerInfo{
			Name:    producerName,
			Version: Version,
			GitSHA:  GitSHA,
		},
	})
	if err != nil {
		log.Warn("failed to emit audit event", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncAuditErrors(r.cfg.Dataset)
		}
	}
}

// saveCheckpoint is the last step; it only records fully published runs.
func (r *Runner) saveCheckpoint(ctx context.Context, log *slog.Logger, job *publishJob) {
	err := r.checkpoint.Save(ctx, &checkpoint.Checkpoint{
		Dataset:          r.cfg.Dataset,
		RunID:            job.runID,
		InputFingerprint: job.loaded.Fingerprint,
		Checksums:        job.output.Checksums,
		RowCounts:        job.output.RowCounts,
		UpdatedAt:        job.published,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("failed to save checkpoint", "error", err)
	}
}
