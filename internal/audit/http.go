package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/config"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
)

// HTTPEmitter sends audit events to an HTTP endpoint.
type HTTPEmitter struct {
	cfg          config.AuditConfig
	client       *http.Client
	chainTracker *ChainTracker
	backup       *FileBackup
	retries      int
	delay        time.Duration
	log          *slog.Logger
}

// NewHTTPEmitter creates a new HTTP emitter.
func NewHTTPEmitter(cfg config.AuditConfig) (*HTTPEmitter, error) {
	chainTracker, err := NewChainTracker(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.Retries
	if retries < 1 {
		retries = 3
	}

	return &HTTPEmitter{
		cfg:          cfg,
		client:       &http.Client{Timeout: timeout},
		chainTracker: chainTracker,
		backup:       backup,
		retries:      retries,
		delay:        time.Second,
		log:          logging.Component("audit"),
	}, nil
}

// Emit chains the event, backs it up locally and POSTs it. The chain head
// only advances once the endpoint accepted the event.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *RunEvent) error {
	head, err := e.chainTracker.Head(evt.Run.ChainKey())
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	stamp(evt)
	evt.SetChainHashes(head.EventHash)

	e.log.Info("emitting event",
		"dataset", evt.Run.Dataset,
		"run_id", evt.Run.RunID,
		"prev_hash", head.EventHash,
		"event_hash", evt.Chain.EventHash,
	)

	// Backup first; the POST is the primary path.
	if err := e.backup.Save(evt); err != nil {
		e.log.Warn("backup failed", "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("audit emit failed: %w", err)
	}

	if err := e.chainTracker.Advance(evt); err != nil {
		e.log.Warn("failed to update chain head", "error", err)
	}
	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *RunEvent) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < e.retries {
			e.log.Warn("post failed, retrying",
				"attempt", attempt,
				"retries", e.retries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *RunEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		e.log.Debug("event posted", "endpoint", e.cfg.Endpoint, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
