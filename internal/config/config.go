// Package config loads the warehouse configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/storage"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/tables"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/transform"
)

// DateLayout is the layout of the source window bounds.
const DateLayout = "2006-01-02"

type Config struct {
	Dataset    string           `yaml:"dataset" validate:"required,excludesall=/\\"`
	Source     SourceConfig     `yaml:"source"`
	Loader     LoaderConfig     `yaml:"loader"`
	Transform  TransformConfig  `yaml:"transform"`
	Parquet    ParquetConfig    `yaml:"parquet"`
	Storage    StorageConfig    `yaml:"storage"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Audit      AuditConfig      `yaml:"audit"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type SourceConfig struct {
	Mode     string `yaml:"mode" validate:"oneof=local gcs s3"`
	Path     string `yaml:"path" validate:"required_if=Mode local"`
	Bucket   string `yaml:"bucket" validate:"required_unless=Mode local"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	Region   string `yaml:"region"`
	From     string `yaml:"from" validate:"omitempty,datetime=2006-01-02"`
	To       string `yaml:"to" validate:"omitempty,datetime=2006-01-02"`
}

type LoaderConfig struct {
	Workers   int `yaml:"workers" validate:"min=1"`
	QueueSize int `yaml:"queue_size" validate:"min=0"`
	MaxRetry  int `yaml:"max_retry" validate:"min=1"`
	BackoffMs int `yaml:"backoff_ms" validate:"min=1"`
}

type TransformConfig struct {
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes" validate:"min=1"`
	LookbackDays          int `yaml:"lookback_days" validate:"min=0"`
	Workers               int `yaml:"workers" validate:"min=1"`
}

type ParquetConfig struct {
	Compression  string `yaml:"compression" validate:"oneof=snappy zstd none"`
	RowGroupRows int    `yaml:"row_group_rows" validate:"min=1"`
}

type StorageConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=local gcs s3"`
	Bucket   string `yaml:"bucket" validate:"required_unless=Backend local"`
	Prefix   string `yaml:"prefix"`
	LocalDir string `yaml:"local_dir" validate:"required_if=Backend local"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	Region   string `yaml:"region"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

type AuditConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint" validate:"omitempty,url"`
	BackupDir      string `yaml:"backup_dir" validate:"required_if=Enabled true"`
	Retries        int    `yaml:"retries" validate:"min=1"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=1"`
}

type CheckpointConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir" validate:"required_if=Enabled true"`
	SkipUnchanged bool   `yaml:"skip_unchanged"`
}

type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address" validate:"required_if=Enabled true"`
	Namespace      string `yaml:"namespace"`
	PushgatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job"`
}

type LoggingConfig struct {
	Format string `yaml:"format" validate:"oneof=json text"`
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Default returns the configuration used when neither file nor environment
// set a field.
func Default() Config {
	return Config{
		Dataset: "web_events",
		Source: SourceConfig{
			Mode: "local",
			Path: "./raw",
		},
		Loader: LoaderConfig{
			Workers:   4,
			MaxRetry:  3,
			BackoffMs: 500,
		},
		Transform: TransformConfig{
			SessionTimeoutMinutes: 30,
			LookbackDays:          7,
			Workers:               4,
		},
		Parquet: ParquetConfig{
			Compression:  "snappy",
			RowGroupRows: tables.DefaultParquetConfig().RowGroupRows,
		},
		Storage: StorageConfig{
			Backend:  "local",
			Prefix:   "warehouse/",
			LocalDir: "./data",
		},
		Audit: AuditConfig{
			BackupDir:      "./audit-backup",
			Retries:        3,
			TimeoutSeconds: 30,
		},
		Checkpoint: CheckpointConfig{
			Dir: "./state",
		},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "event_warehouse",
			Job:       "event_warehouse",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad loads the configuration from CONFIG_PATH, or ./config.yaml when
// present, and exits on error.
func MustLoad() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := Validator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (%d errors)", fe.Namespace(), fe.Tag(), len(verrs))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	from, to, err := c.Source.Window()
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("invalid config: source window to %s is before from %s", c.Source.To, c.Source.From)
	}
	return nil
}

// applyEnv overrides fields from environment variables.
func applyEnv(cfg *Config) error {
	setString(&cfg.Dataset, "DATASET")

	setString(&cfg.Source.Mode, "SOURCE_MODE")
	setString(&cfg.Source.Path, "SOURCE_PATH")
	setString(&cfg.Source.Bucket, "SOURCE_BUCKET")
	setString(&cfg.Source.Prefix, "SOURCE_PREFIX")
	setString(&cfg.Source.Endpoint, "SOURCE_ENDPOINT")
	setString(&cfg.Source.Region, "SOURCE_REGION")
	setString(&cfg.Source.From, "SOURCE_FROM")
	setString(&cfg.Source.To, "SOURCE_TO")

	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.Bucket, "STORAGE_BUCKET")
	setString(&cfg.Storage.Prefix, "STORAGE_PREFIX")
	setString(&cfg.Storage.LocalDir, "LOCAL_DIR")
	setString(&cfg.Storage.Endpoint, "STORAGE_ENDPOINT")
	setString(&cfg.Storage.Region, "STORAGE_REGION")

	setString(&cfg.Catalog.PostgresDSN, "CATALOG_DSN")
	setString(&cfg.Audit.Endpoint, "AUDIT_ENDPOINT")
	setString(&cfg.Audit.BackupDir, "AUDIT_BACKUP_DIR")
	setString(&cfg.Checkpoint.Dir, "CHECKPOINT_DIR")
	setString(&cfg.Metrics.Address, "METRICS_ADDRESS")
	setString(&cfg.Metrics.PushgatewayURL, "PUSHGATEWAY_URL")
	setString(&cfg.Parquet.Compression, "PARQUET_COMPRESSION")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.Transform.SessionTimeoutMinutes, "SESSION_TIMEOUT_MINUTES"},
		{&cfg.Transform.LookbackDays, "LOOKBACK_DAYS"},
		{&cfg.Transform.Workers, "TRANSFORM_WORKERS"},
		{&cfg.Loader.Workers, "LOADER_WORKERS"},
		{&cfg.Loader.MaxRetry, "LOADER_MAX_RETRY"},
		{&cfg.Parquet.RowGroupRows, "PARQUET_ROW_GROUP_ROWS"},
	}
	for _, v := range ints {
		if err := setInt(v.dst, v.key); err != nil {
			return err
		}
	}

	bools := []struct {
		dst *bool
		key string
	}{
		{&cfg.Audit.Enabled, "AUDIT_ENABLED"},
		{&cfg.Checkpoint.Enabled, "CHECKPOINT_ENABLED"},
		{&cfg.Checkpoint.SkipUnchanged, "SKIP_UNCHANGED"},
		{&cfg.Metrics.Enabled, "METRICS_ENABLED"},
	}
	for _, v := range bools {
		if err := setBool(v.dst, v.key); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = b
	return nil
}

// Window parses the optional partition date bounds.
func (c SourceConfig) Window() (from, to time.Time, err error) {
	if c.From != "" {
		if from, err = time.Parse(DateLayout, c.From); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("source from: %w", err)
		}
	}
	if c.To != "" {
		if to, err = time.Parse(DateLayout, c.To); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("source to: %w", err)
		}
	}
	return from, to, nil
}

// PartitionSource converts to the source package's configuration.
func (c SourceConfig) PartitionSource() source.SourceConfig {
	return source.SourceConfig{
		Mode:      c.Mode,
		LocalPath: c.Path,
		Bucket:    c.Bucket,
		Prefix:    c.Prefix,
		Endpoint:  c.Endpoint,
		Region:    c.Region,
	}
}

// LoaderOptions converts to the loader configuration, including the window.
func (c Config) LoaderOptions() source.LoaderConfig {
	from, to, _ := c.Source.Window()
	return source.LoaderConfig{
		Workers:   c.Loader.Workers,
		QueueSize: c.Loader.QueueSize,
		MaxRetry:  c.Loader.MaxRetry,
		BackoffMs: c.Loader.BackoffMs,
		From:      from,
		To:        to,
	}
}

// Options converts to transform options.
func (c TransformConfig) Options() transform.Options {
	return transform.Options{
		SessionTimeout: time.Duration(c.SessionTimeoutMinutes) * time.Minute,
		Lookback:       time.Duration(c.LookbackDays) * 24 * time.Hour,
		Workers:        c.Workers,
	}
}

// Tables converts to the parquet encoder configuration.
func (c ParquetConfig) Tables() tables.ParquetConfig {
	return tables.ParquetConfig{
		Compression:  c.Compression,
		RowGroupRows: c.RowGroupRows,
	}
}

// Store converts to the storage backend configuration.
func (c StorageConfig) Store() storage.StorageConfig {
	cfg := storage.StorageConfig{
		Backend:  c.Backend,
		LocalDir: c.LocalDir,
		Prefix:   c.Prefix,
	}
	switch c.Backend {
	case "gcs":
		cfg.GCSBucket = c.Bucket
	case "s3":
		cfg.S3Bucket = c.Bucket
		cfg.S3Endpoint = c.Endpoint
		cfg.S3Region = c.Region
	}
	return cfg
}

// Logger converts to the logging configuration.
func (c LoggingConfig) Logger() logging.Config {
	return logging.Config{
		Format: c.Format,
		Level:  c.Level,
	}
}
