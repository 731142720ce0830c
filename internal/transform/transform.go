package transform

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
)

// Table names of the derived tables.
const (
	TableEvents      = "stg_events"
	TableSessions    = "fct_sessions"
	TableOrders      = "fct_orders"
	TableAttribution = "fct_attribution"
)

// Tables lists the derived tables in publish order.
var Tables = []string{TableEvents, TableSessions, TableOrders, TableAttribution}

// Options are the only settings that affect derived values, apart from Workers.
type Options struct {
	SessionTimeout time.Duration
	Lookback       time.Duration
	Workers        int
}

// DefaultOptions returns a 30 minute session timeout and 7 day lookback.
func DefaultOptions() Options {
	return Options{
		SessionTimeout: 30 * time.Minute,
		Lookback:       7 * 24 * time.Hour,
		Workers:        runtime.GOMAXPROCS(0),
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %s", o.SessionTimeout)
	}
	if o.Lookback < 0 {
		return fmt.Errorf("lookback must not be negative, got %s", o.Lookback)
	}
	return nil
}

// Result holds the four derived tables of one run.
type Result struct {
	Events      []EnrichedEvent // by event id
	Sessions    []Session       // by client id, then session index
	Orders      []Order         // by transaction id
	Attribution []AttributionRecord
}

// RowCounts returns the row count of each table.
func (r *Result) RowCounts() map[string]int64 {
	return map[string]int64{
		TableEvents:      int64(len(r.Events)),
		TableSessions:    int64(len(r.Sessions)),
		TableOrders:      int64(len(r.Orders)),
		TableAttribution: int64(len(r.Attribution)),
	}
}

// Run derives all tables from the concatenated raw input. Each stage
// completes before the next starts; ctx is only checked between stages.
func Run(ctx context.Context, raws []source.RawEvent, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := logging.Component("transform")

	stage := func(name string, fn func()) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("before %s: %w", name, err)
		}
		start := time.Now()
		fn()
		log.Debug("stage complete", "stage", name, "duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	res := &Result{}
	if err := stage("enrich", func() {
		res.Events = EnrichAll(raws, opts.Workers)
	}); err != nil {
		return nil, err
	}
	if err := stage("sessionize", func() {
		res.Sessions = Sessionize(res.Events, opts.SessionTimeout, opts.Workers)
	}); err != nil {
		return nil, err
	}
	if err := stage("orders", func() {
		res.Orders = ResolveOrders(res.Events, opts.Workers)
	}); err != nil {
		return nil, err
	}
	if err := stage("attribution", func() {
		res.Attribution = Attribute(res.Orders, res.Sessions, opts.Lookback, opts.Workers)
	}); err != nil {
		return nil, err
	}

	log.Info("transform complete",
		"events", len(res.Events),
		"sessions", len(res.Sessions),
		"orders", len(res.Orders),
		"attribution", len(res.Attribution),
	)
	return res, nil
}
