package transform

import (
	"time"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
)

func strPtr(s string) *string { return &s }

var day0 = time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)

func ts(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// rawEvent builds a raw row for client c at time t.
func rawEvent(c string, t time.Time, name, pageURL string) source.RawEvent {
	r := source.RawEvent{
		PageURL:   pageURL,
		Timestamp: ts(t),
		EventName: name,
		Partition: "events_" + t.Format("20060102") + ".csv",
	}
	if c != "" {
		r.ClientID = strPtr(c)
	}
	return r
}

func purchaseEvent(c string, t time.Time, tx string, revenue string) source.RawEvent {
	r := rawEvent(c, t, EventCheckoutCompleted, "https://puffy.com/checkout")
	r.EventData = strPtr(`{"transaction_id":"` + tx + `","revenue":` + revenue + `,"items":[{"sku":"m1"}]}`)
	return r
}

func eventsByID(events []EnrichedEvent) map[int64]EnrichedEvent {
	out := make(map[int64]EnrichedEvent, len(events))
	for _, e := range events {
		out[e.EventID] = e
	}
	return out
}
