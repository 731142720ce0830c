// Package transform derives the warehouse tables from raw events: enriched
// events, sessions, orders and first/last-click attribution.
package transform

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
)

// TimestampLayout is the only accepted event timestamp form.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp is an event time that may be unparsable.
//
// Unparsable timestamps order after every valid time and equal to each
// other. The gap from a valid time to an unparsable one is unbounded, so a
// client's unparsable events always land in their own trailing session.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// ParseTimestamp parses s in TimestampLayout. Any other form is unparsable.
func ParseTimestamp(s string) Timestamp {
	// time.Parse also accepts a comma before the fraction.
	if len(s) != len(TimestampLayout) || s[19] != '.' {
		return Timestamp{}
	}
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return Timestamp{}
	}
	return Timestamp{Time: t.UTC(), Valid: true}
}

// Compare returns -1, 0 or +1. Unparsable sorts last.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Valid && o.Valid:
		return t.Time.Compare(o.Time)
	case t.Valid:
		return -1
	case o.Valid:
		return 1
	default:
		return 0
	}
}

// Sub returns t-o. ok is false when either side is unparsable.
func (t Timestamp) Sub(o Timestamp) (d time.Duration, ok bool) {
	if !t.Valid || !o.Valid {
		return 0, false
	}
	return t.Time.Sub(o.Time), true
}

func (t Timestamp) String() string {
	if !t.Valid {
		return "unparsable"
	}
	return t.Time.Format(TimestampLayout)
}

// UTM holds the first non-blank utm_* query values of a page URL.
type UTM struct {
	Source   *string
	Medium   *string
	Campaign *string
}

// Payload is the parsed event_data object. Parsed is false when event_data
// was absent or not a JSON object; all fields are then absent.
type Payload struct {
	Parsed        bool
	TransactionID *string
	Revenue       decimal.NullDecimal
	ItemsCount    *int
}

// EnrichedEvent is one raw event with its derived attributes.
type EnrichedEvent struct {
	EventID   int64
	Partition string

	// Raw columns, carried through unchanged.
	PageURL   string
	Timestamp string
	EventName string
	UserAgent *string
	Referrer  *string
	EventData *string

	// ClientID is the first non-null of client_id and clientId.
	ClientID *string

	EventTime       Timestamp
	RefDomain       *string
	UTM             UTM
	MarketingSource string
	DeviceType      *string
	Payload         Payload

	// SessionID is set by Sessionize, and never for events without a client.
	SessionID *string
}

// Source projects the event back onto the raw shape. Enriching the
// projection under the same id reproduces the event without its session.
func (e EnrichedEvent) Source() source.RawEvent {
	return source.RawEvent{
		PageURL:   e.PageURL,
		Timestamp: e.Timestamp,
		EventName: e.EventName,
		UserAgent: e.UserAgent,
		Referrer:  e.Referrer,
		EventData: e.EventData,
		ClientID:  e.ClientID,
		Partition: e.Partition,
	}
}

// Acquisition describes how a session began, or the context of an order.
type Acquisition struct {
	PageURL         string
	RefDomain       *string
	MarketingSource string
	UTM             UTM
	DeviceType      *string
}

func acquisitionOf(e *EnrichedEvent) Acquisition {
	return Acquisition{
		PageURL:         e.PageURL,
		RefDomain:       e.RefDomain,
		MarketingSource: e.MarketingSource,
		UTM:             e.UTM,
		DeviceType:      e.DeviceType,
	}
}

// Session is a run of one client's events with no gap above the timeout.
type Session struct {
	SessionID string
	ClientID  string
	Index     int // 1-based per client

	Start Timestamp
	End   Timestamp

	Events          int
	Pageviews       int
	AddToCart       int
	CheckoutStarted int
	Purchases       int

	// DurationSec is absent when the session times are unparsable.
	DurationSec *float64

	Acquisition Acquisition
}

// IsTouchpoint reports whether the session came from an attributable channel.
func (s *Session) IsTouchpoint() bool {
	return s.Acquisition.MarketingSource != SourceDirect &&
		s.Acquisition.MarketingSource != SourceInternal
}

// Order is the retained purchase event of one transaction id.
type Order struct {
	TransactionID string
	EventID       int64 // winning event
	ClientID      *string
	OrderTime     Timestamp
	Revenue       decimal.NullDecimal
	ItemsCount    *int
	SessionID     *string
	Acquisition   Acquisition
}

// Model is an attribution model.
type Model string

const (
	FirstClick Model = "first_click"
	LastClick  Model = "last_click"
)

// AttributionRecord credits one order under one model.
type AttributionRecord struct {
	TransactionID string
	Model         Model
	ClientID      *string
	OrderTime     Timestamp

	// SessionID is nil for the direct fallback.
	SessionID *string
	Source    string
	UTM       UTM
	RefDomain *string
	TouchTime Timestamp
}

// IsFallback reports whether no touchpoint qualified.
func (r *AttributionRecord) IsFallback() bool {
	return r.SessionID == nil
}
