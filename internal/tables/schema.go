package tables

import (
	"time"
)

// EventRow is a row of stg_events: the raw columns plus derived attributes.
type EventRow struct {
	EventID   int64  `parquet:"event_id"`
	Partition string `parquet:"partition"`

	// Raw columns
	PageURL   string  `parquet:"page_url"`
	Timestamp string  `parquet:"timestamp"`
	EventName string  `parquet:"event_name"`
	UserAgent *string `parquet:"user_agent"`
	Referrer  *string `parquet:"referrer"`
	EventData *string `parquet:"event_data"`

	// Derived
	ClientID        *string   `parquet:"client_id"`
	EventTime       time.Time `parquet:"event_time,optional,timestamp(millisecond)"`
	EventDate       *string   `parquet:"event_date"` // YYYY-MM-DD (UTC)
	RefDomain       *string   `parquet:"ref_domain"`
	UTMSource       *string   `parquet:"utm_source"`
	UTMMedium       *string   `parquet:"utm_medium"`
	UTMCampaign     *string   `parquet:"utm_campaign"`
	MarketingSource string    `parquet:"marketing_source"`
	DeviceType      *string   `parquet:"device_type"`
	TransactionID   *string   `parquet:"transaction_id"`
	Revenue         *string   `parquet:"revenue"` // exact decimal text
	ItemsCount      *int32    `parquet:"items_count"`
	SessionID       *string   `parquet:"session_id"`
}

// SessionRow is a row of fct_sessions.
type SessionRow struct {
	SessionID    string    `parquet:"session_id"`
	ClientID     string    `parquet:"client_id"`
	SessionIndex int32     `parquet:"session_index"`
	SessionStart time.Time `parquet:"session_start,optional,timestamp(millisecond)"`
	SessionEnd   time.Time `parquet:"session_end,optional,timestamp(millisecond)"`

	Events          int32    `parquet:"events"`
	Pageviews       int32    `parquet:"pageviews"`
	AddToCart       int32    `parquet:"add_to_cart"`
	CheckoutStarted int32    `parquet:"checkout_started"`
	Purchases       int32    `parquet:"purchases"`
	DurationSec     *float64 `parquet:"duration_sec"`

	// Acquisition, from the earliest event
	PageURL         string  `parquet:"page_url"`
	RefDomain       *string `parquet:"ref_domain"`
	MarketingSource string  `parquet:"marketing_source"`
	UTMSource       *string `parquet:"utm_source"`
	UTMMedium       *string `parquet:"utm_medium"`
	UTMCampaign     *string `parquet:"utm_campaign"`
	DeviceType      *string `parquet:"device_type"`
}

// OrderRow is a row of fct_orders.
type OrderRow struct {
	TransactionID string    `parquet:"transaction_id"`
	EventID       int64     `parquet:"event_id"`
	ClientID      *string   `parquet:"client_id"`
	OrderTime     time.Time `parquet:"order_ts,optional,timestamp(millisecond)"`
	Revenue       *string   `parquet:"revenue"`
	ItemsCount    *int32    `parquet:"items_count"`
	SessionID     *string   `parquet:"session_id"`

	MarketingSource string  `parquet:"marketing_source"`
	UTMSource       *string `parquet:"utm_source"`
	UTMMedium       *string `parquet:"utm_medium"`
	UTMCampaign     *string `parquet:"utm_campaign"`
	RefDomain       *string `parquet:"ref_domain"`
	DeviceType      *string `parquet:"device_type"`
}

// AttributionRow is a row of fct_attribution.
type AttributionRow struct {
	TransactionID       string    `parquet:"transaction_id"`
	Model               string    `parquet:"model"`
	ClientID            *string   `parquet:"client_id"`
	OrderTime           time.Time `parquet:"order_ts,optional,timestamp(millisecond)"`
	AttributedSessionID *string   `parquet:"attributed_session_id"`
	AttributedSource    string    `parquet:"attributed_source"`
	UTMSource           *string   `parquet:"utm_source"`
	UTMMedium           *string   `parquet:"utm_medium"`
	UTMCampaign         *string   `parquet:"utm_campaign"`
	RefDomain           *string   `parquet:"ref_domain"`
	TouchTime           time.Time `parquet:"touch_ts,optional,timestamp(millisecond)"`
}

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Compression  string // "snappy" | "zstd" | "none"
	RowGroupRows int    // rows per row group; 0 writes a single group
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{
		Compression:  "snappy",
		RowGroupRows: 128 * 1024,
	}
}

// SchemaVersion returns the version of the schema.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"
