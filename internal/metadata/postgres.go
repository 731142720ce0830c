package metadata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool         *pgxpool.Pool
	cfg          CatalogConfig
	log          *slog.Logger
	mu           sync.RWMutex
	datasetCache map[string]int64 // cache dataset IDs
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// A batch run needs few connections.
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool:         pool,
		cfg:          cfg,
		log:          logging.Component("metadata"),
		datasetCache: make(map[string]int64),
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to PostgreSQL catalog")
	return w, nil
}

// EnsureDataset registers or retrieves a dataset entry.
func (w *PostgresWriter) EnsureDataset(ctx context.Context, info DatasetInfo) (int64, error) {
	w.mu.RLock()
	if id, ok := w.datasetCache[info.Dataset]; ok {
		w.mu.RUnlock()
		return id, nil
	}
	w.mu.RUnlock()

	query := `
		INSERT INTO _meta_datasets (dataset, schema_version, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (dataset)
		DO UPDATE SET schema_version = EXCLUDED.schema_version, updated_at = NOW()
		RETURNING id
	`

	var id int64
	if err := w.pool.QueryRow(ctx, query, info.Dataset, info.SchemaVersion, info.Description).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure dataset: %w", err)
	}

	w.mu.Lock()
	w.datasetCache[info.Dataset] = id
	w.mu.Unlock()

	return id, nil
}

// RecordRun writes the run and its tables in one transaction.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.DatasetID == 0 {
		return fmt.Errorf("%w: DatasetID is required (call EnsureDataset first)", ErrUnknownDataset)
	}

	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO _meta_runs (
				dataset_id, run_id, input_fingerprint, input_partitions, input_rows,
				checksum, prev_hash, run_path, storage_uri,
				producer_version, producer_git_sha, source_type, source_location, published_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (dataset_id, run_id)
			DO UPDATE SET
				checksum = EXCLUDED.checksum,
				prev_hash = EXCLUDED.prev_hash,
				storage_uri = EXCLUDED.storage_uri,
				published_at = EXCLUDED.published_at
			RETURNING id
		`

		var runPK int64
		err := tx.QueryRow(ctx, query,
			rec.DatasetID,
			rec.RunID,
			rec.InputFingerprint,
			rec.InputPartitions,
			rec.InputRows,
			rec.Checksum,
			nullIfEmpty(rec.PrevHash),
			rec.RunPath,
			nullIfEmpty(rec.StorageURI),
			rec.ProducerVersion,
			nullIfEmpty(rec.ProducerGitSHA),
			nullIfEmpty(rec.SourceType),
			nullIfEmpty(rec.SourceLocation),
			rec.PublishedAt,
		).Scan(&runPK)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM _meta_run_tables WHERE run_pk = $1`, runPK); err != nil {
			return fmt.Errorf("clear run tables: %w", err)
		}

		batch := &pgx.Batch{}
		for _, t := range rec.Tables {
			batch.Queue(`
				INSERT INTO _meta_run_tables (run_pk, table_name, path, checksum, row_count, byte_size)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, runPK, t.Table, t.Path, t.Checksum, t.RowCount, t.ByteSize)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert run tables: %w", err)
		}

		w.log.Info("recorded run lineage",
			"run_id", rec.RunID,
			"tables", len(rec.Tables),
			"prev_hash", rec.PrevHash,
		)
		return nil
	})
}

// LastRun returns the most recent run record for hash chaining.
func (w *PostgresWriter) LastRun(ctx context.Context, datasetID int64) (*RunRecord, error) {
	query := `
		SELECT run_id, input_fingerprint, input_partitions, input_rows, checksum,
		       COALESCE(prev_hash, ''), run_path, COALESCE(storage_uri, ''),
		       producer_version, COALESCE(producer_git_sha, ''),
		       COALESCE(source_type, ''), COALESCE(source_location, ''), published_at
		FROM _meta_runs
		WHERE dataset_id = $1
		ORDER BY published_at DESC, id DESC
		LIMIT 1
	`

	rec := RunRecord{DatasetID: datasetID}
	err := w.pool.QueryRow(ctx, query, datasetID).Scan(
		&rec.RunID, &rec.InputFingerprint, &rec.InputPartitions, &rec.InputRows,
		&rec.Checksum, &rec.PrevHash, &rec.RunPath, &rec.StorageURI,
		&rec.ProducerVersion, &rec.ProducerGitSHA,
		&rec.SourceType, &rec.SourceLocation, &rec.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No previous run
		}
		return nil, fmt.Errorf("get last run: %w", err)
	}
	return &rec, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Writer = (*PostgresWriter)(nil)
