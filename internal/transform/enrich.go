package transform

import (
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
)

// enrichChunk is the number of consecutive rows enriched per task.
const enrichChunk = 4096

// Enrich derives an enriched event from a raw row. It is total: a malformed
// field yields an absent attribute, never an error.
func Enrich(eventID int64, raw source.RawEvent) EnrichedEvent {
	q := queryParams(raw.PageURL)
	ref := refDomain(raw.Referrer)

	return EnrichedEvent{
		EventID:   eventID,
		Partition: raw.Partition,

		PageURL:   raw.PageURL,
		Timestamp: raw.Timestamp,
		EventName: raw.EventName,
		UserAgent: raw.UserAgent,
		Referrer:  raw.Referrer,
		EventData: raw.EventData,

		ClientID: canonicalClientID(raw),

		EventTime:       ParseTimestamp(raw.Timestamp),
		RefDomain:       ref,
		UTM:             utmOf(q),
		MarketingSource: classifyMarketing(q, raw.Referrer, ref),
		DeviceType:      classifyDevice(raw.UserAgent),
		Payload:         ParsePayload(raw.EventData),
	}
}

// canonicalClientID returns the first non-null client id alias.
func canonicalClientID(raw source.RawEvent) *string {
	if raw.ClientID != nil {
		return raw.ClientID
	}
	return raw.ClientIDAlias
}

// EnrichAll enriches the concatenated input. Ids are the input positions,
// assigned before any work is split, and chunks write disjoint ranges.
func EnrichAll(raws []source.RawEvent, workers int) []EnrichedEvent {
	out := make([]EnrichedEvent, len(raws))
	chunks := (len(raws) + enrichChunk - 1) / enrichChunk

	forEachGroup(workers, chunks, func(c int) {
		lo := c * enrichChunk
		hi := min(lo+enrichChunk, len(raws))
		for i := lo; i < hi; i++ {
			out[i] = Enrich(int64(i), raws[i])
		}
	})
	return out
}
