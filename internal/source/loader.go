package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/metrics"
)

// LoaderConfig configures parallel partition loading.
type LoaderConfig struct {
	Workers   int
	QueueSize int
	MaxRetry  int
	BackoffMs int

	// Optional partition date window, inclusive. Zero bounds are open.
	From time.Time
	To   time.Time
}

// PartitionStat summarizes one loaded partition.
type PartitionStat struct {
	Name     string
	Rows     int
	Checksum string
}

// LoadResult is the concatenated input of a run, in partition order.
type LoadResult struct {
	Events      []RawEvent
	Partitions  []PartitionStat
	Fingerprint string // sha256 over the ordered partition checksums
}

// loadTask is sent to workers for processing.
type loadTask struct {
	File    PartitionFile
	Index   int
	Attempt int
}

// loadResult is returned from workers to the sequencer.
type loadResult struct {
	Task      loadTask
	Partition *Partition
	Err       error
}

// Loader reads partitions with a dispatcher → workers → sequencer flow.
// Workers read and decode files in parallel; the sequencer restores file
// order so the concatenated input is identical across runs.
type Loader struct {
	src       PartitionSource
	decoder   *Decoder
	workers   int
	queueSize int
	maxRetry  int
	backoffMs int
	from      time.Time
	to        time.Time
	log       *slog.Logger
}

// NewLoader creates a partition loader.
func NewLoader(src PartitionSource, cfg LoaderConfig) (*Loader, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if cfg.MaxRetry < 1 {
		cfg.MaxRetry = 3
	}
	if cfg.BackoffMs < 1 {
		cfg.BackoffMs = 500
	}

	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}

	return &Loader{
		src:       src,
		decoder:   decoder,
		workers:   cfg.Workers,
		queueSize: cfg.QueueSize,
		maxRetry:  cfg.MaxRetry,
		backoffMs: cfg.BackoffMs,
		from:      cfg.From,
		to:        cfg.To,
		log:       logging.Component("loader"),
	}, nil
}

// Close releases decoder resources.
func (l *Loader) Close() {
	l.decoder.Close()
}

// Load reads every partition in the configured window. Any unreadable or
// structurally invalid partition fails the whole load.
func (l *Loader) Load(ctx context.Context) (*LoadResult, error) {
	all, err := l.src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	index := NewPartitionIndex()
	for _, f := range all {
		index.AddFile(f.Key, f.Size)
	}
	index.Sort()
	files := index.Window(l.from, l.to)
	if len(files) == 0 {
		return nil, ErrNoPartitions
	}

	l.log.Info("loading partitions", "partitions", len(files), "workers", l.workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workQueue := make(chan loadTask, l.queueSize)
	resultChan := make(chan loadResult, l.queueSize)

	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			l.workerLoop(ctx, workerID, workQueue, resultChan)
		}(i)
	}

	go l.dispatcherLoop(ctx, files, workQueue)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	return l.sequencerLoop(ctx, len(files), resultChan)
}

// dispatcherLoop sends load tasks to workers.
func (l *Loader) dispatcherLoop(ctx context.Context, files []PartitionFile, workQueue chan<- loadTask) {
	defer close(workQueue)

	for i, f := range files {
		select {
		case <-ctx.Done():
			return
		case workQueue <- loadTask{File: f, Index: i}:
		}
	}
}

// workerLoop processes load tasks.
func (l *Loader) workerLoop(ctx context.Context, workerID int, workQueue <-chan loadTask, resultChan chan<- loadResult) {
	for task := range workQueue {
		result := l.processTask(ctx, workerID, task)
		select {
		case resultChan <- result:
		case <-ctx.Done():
			return
		}
	}
}

// processTask reads and decodes one partition, retrying read failures with
// exponential backoff. Decode failures are structural and never retried.
func (l *Loader) processTask(ctx context.Context, workerID int, task loadTask) loadResult {
	log := logging.WorkerLogger(workerID).With("partition", task.File.Name)

	for {
		startTime := time.Now()
		data, err := l.readFile(ctx, task.File)
		if err == nil {
			part, err := l.decoder.Decode(task.File, data)
			if err != nil {
				return loadResult{Task: task, Err: err}
			}
			log.Debug("partition decoded",
				"rows", len(part.Events),
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
			return loadResult{Task: task, Partition: part}
		}

		if task.Attempt >= l.maxRetry-1 {
			return loadResult{
				Task: task,
				Err:  fmt.Errorf("read %s failed after %d attempts: %w", task.File.Name, task.Attempt+1, err),
			}
		}

		log.Warn("partition read failed, retrying", "attempt", task.Attempt+1, "error", err)
		if m := metrics.Get(); m != nil {
			m.IncLoadRetries()
		}

		backoff := time.Duration(l.backoffMs*(1<<task.Attempt)) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return loadResult{Task: task, Err: ctx.Err()}
		}
		task.Attempt++
	}
}

func (l *Loader) readFile(ctx context.Context, file PartitionFile) ([]byte, error) {
	r, err := l.src.Open(ctx, file)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.Key, err)
	}
	return data, nil
}

// sequencerLoop concatenates partitions in index order.
func (l *Loader) sequencerLoop(ctx context.Context, total int, resultChan <-chan loadResult) (*LoadResult, error) {
	out := &LoadResult{}
	pending := make(map[int]*Partition)
	nextIndex := 0
	fingerprint := sha256.New()

	for nextIndex < total {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case result, ok := <-resultChan:
			if !ok {
				return nil, fmt.Errorf("results closed before all partitions loaded, next=%d", nextIndex)
			}
			if result.Err != nil {
				return nil, fmt.Errorf("partition %s: %w", result.Task.File.Name, result.Err)
			}

			pending[result.Task.Index] = result.Partition

			for {
				part, ok := pending[nextIndex]
				if !ok {
					break
				}

				out.Events = append(out.Events, part.Events...)
				out.Partitions = append(out.Partitions, PartitionStat{
					Name:     part.File.Name,
					Rows:     len(part.Events),
					Checksum: part.Checksum,
				})
				fingerprint.Write([]byte(part.Checksum))

				if m := metrics.Get(); m != nil {
					m.IncPartitionsLoaded()
				}

				delete(pending, nextIndex)
				nextIndex++
			}
		}
	}

	out.Fingerprint = "sha256:" + hex.EncodeToString(fingerprint.Sum(nil))
	l.log.Info("partitions loaded", "partitions", len(out.Partitions), "rows", len(out.Events))
	return out, nil
}
