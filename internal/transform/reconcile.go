package transform

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Report reconciles the derived tables against the raw input.
type Report struct {
	RawEventRows                 int             `json:"raw_event_rows"`
	EventTypes                   map[string]int  `json:"event_types"`
	EventsWithSessionID          int             `json:"events_with_session_id"`
	EventsMissingClientID        int             `json:"events_missing_client_id"`
	SessionRows                  int             `json:"session_rows"`
	RawPurchaseEvents            int             `json:"raw_purchase_events"`
	DedupedOrders                int             `json:"deduped_orders"`
	DuplicateTransactionIDsInRaw int             `json:"duplicate_transaction_ids_in_raw"`
	RawRevenueSum                decimal.Decimal `json:"raw_revenue_sum"`
	DedupedRevenueSum            decimal.Decimal `json:"deduped_revenue_sum"`
	AttributionRowsByModel       map[string]int  `json:"attribution_rows_by_model"`
	DirectShare                  float64         `json:"orders_attributed_to_direct_share"`
}

// Reconcile computes the reconciliation report of a run. Revenue sums skip
// absent revenue. Duplicate transaction ids count purchase events whose id
// was already seen.
func Reconcile(r *Result) Report {
	rep := Report{
		RawEventRows:           len(r.Events),
		EventTypes:             make(map[string]int),
		SessionRows:            len(r.Sessions),
		DedupedOrders:          len(r.Orders),
		RawRevenueSum:          decimal.Zero,
		DedupedRevenueSum:      decimal.Zero,
		AttributionRowsByModel: make(map[string]int),
	}

	seen := make(map[string]bool)
	for i := range r.Events {
		e := &r.Events[i]
		rep.EventTypes[e.EventName]++
		if e.SessionID != nil {
			rep.EventsWithSessionID++
		}
		if e.ClientID == nil {
			rep.EventsMissingClientID++
		}
		if !IsPurchase(e.EventName) {
			continue
		}

		rep.RawPurchaseEvents++
		if e.Payload.Revenue.Valid {
			rep.RawRevenueSum = rep.RawRevenueSum.Add(e.Payload.Revenue.Decimal)
		}
		if tx := e.Payload.TransactionID; tx != nil {
			if seen[*tx] {
				rep.DuplicateTransactionIDsInRaw++
			}
			seen[*tx] = true
		}
	}

	for i := range r.Orders {
		if rev := r.Orders[i].Revenue; rev.Valid {
			rep.DedupedRevenueSum = rep.DedupedRevenueSum.Add(rev.Decimal)
		}
	}

	direct := 0
	for i := range r.Attribution {
		a := &r.Attribution[i]
		rep.AttributionRowsByModel[string(a.Model)]++
		if a.Source == SourceDirect {
			direct++
		}
	}
	if len(r.Attribution) > 0 {
		rep.DirectShare = float64(direct) / float64(len(r.Attribution))
	}

	return rep
}

// Markdown renders the report as a bullet list with sorted map keys.
func (rep Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Reconciliation Summary\n\n")

	line := func(k string, v any) {
		fmt.Fprintf(&b, "- **%s**: %v\n", k, v)
	}
	line("raw_event_rows", rep.RawEventRows)
	line("event_types", formatCounts(rep.EventTypes))
	line("events_with_session_id", rep.EventsWithSessionID)
	line("events_missing_client_id", rep.EventsMissingClientID)
	line("session_rows", rep.SessionRows)
	line("raw_purchase_events", rep.RawPurchaseEvents)
	line("deduped_orders", rep.DedupedOrders)
	line("duplicate_transaction_ids_in_raw", rep.DuplicateTransactionIDsInRaw)
	line("raw_revenue_sum", rep.RawRevenueSum.String())
	line("deduped_revenue_sum", rep.DedupedRevenueSum.String())
	line("attribution_rows_by_model", formatCounts(rep.AttributionRowsByModel))
	line("orders_attributed_to_direct_share", fmt.Sprintf("%.4f", rep.DirectShare))
	return b.String()
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
