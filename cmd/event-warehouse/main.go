package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/config"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/metrics"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/pipeline"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/storage"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/transform"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.MustLoad()
	logging.Setup(cfg.Logging.Logger())
	log := logging.Component("main")
	log.Info("event warehouse starting", "version", pipeline.Version, "git_sha", pipeline.GitSHA, "dataset", cfg.Dataset)

	if cfg.Metrics.Enabled || cfg.Metrics.PushgatewayURL != "" {
		metrics.Init(cfg.Metrics.Namespace)
	}
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics server listening", "address", cfg.Metrics.Address)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())

	src, err := source.NewPartitionSource(cfg.Source.PartitionSource())
	if err != nil {
		log.Error("failed to create source", "error", err)
		return 1
	}
	defer src.Close()

	store, err := storage.NewAtomicStore(cfg.Storage.Store())
	if err != nil {
		log.Error("failed to create storage", "error", err)
		return 1
	}
	defer store.Close()

	runner := pipeline.New(cfg, src, store)
	defer runner.Close()

	summary, err := runner.Run(ctx)
	pushMetrics(log, cfg.Metrics)

	switch {
	case errors.Is(err, pipeline.ErrUnchangedInput):
		log.Info("nothing to do", "current_run_id", summary.RunID)
		return 0
	case err != nil && ctx.Err() != nil:
		log.Warn("run interrupted", "error", err)
		return 1
	case err != nil:
		log.Error("run failed", "error", err)
		return 1
	}

	log.Info("run complete",
		"run_id", summary.RunID,
		"run_path", store.URI(summary.RunPath),
		"orders", summary.RowCounts[transform.TableOrders],
		"deduped_revenue", summary.Report.DedupedRevenueSum.String(),
		"duration", summary.Duration.String(),
	)
	return 0
}

// pushMetrics sends the final values to the Pushgateway, if one is set.
func pushMetrics(log *slog.Logger, cfg config.MetricsConfig) {
	if cfg.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(cfg.PushgatewayURL, cfg.Job); err != nil {
		log.Warn("failed to push metrics", "error", err)
	}
}
