package tables

import (
	"github.com/shopspring/decimal"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/transform"
)

// EventRows converts enriched events to stg_events rows.
func EventRows(events []transform.EnrichedEvent) []EventRow {
	rows := make([]EventRow, len(events))
	for i := range events {
		e := &events[i]
		row := EventRow{
			EventID:         e.EventID,
			Partition:       e.Partition,
			PageURL:         e.PageURL,
			Timestamp:       e.Timestamp,
			EventName:       e.EventName,
			UserAgent:       e.UserAgent,
			Referrer:        e.Referrer,
			EventData:       e.EventData,
			ClientID:        e.ClientID,
			EventTime:       timeOf(e.EventTime),
			RefDomain:       e.RefDomain,
			UTMSource:       e.UTM.Source,
			UTMMedium:       e.UTM.Medium,
			UTMCampaign:     e.UTM.Campaign,
			MarketingSource: e.MarketingSource,
			DeviceType:      e.DeviceType,
			TransactionID:   e.Payload.TransactionID,
			Revenue:         decimalText(e.Payload.Revenue),
			ItemsCount:      int32Of(e.Payload.ItemsCount),
			SessionID:       e.SessionID,
		}
		if e.EventTime.Valid {
			d := e.EventTime.Time.Format("2006-01-02")
			row.EventDate = &d
		}
		rows[i] = row
	}
	return rows
}

// SessionRows converts sessions to fct_sessions rows.
func SessionRows(sessions []transform.Session) []SessionRow {
	rows := make([]SessionRow, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		rows[i] = SessionRow{
			SessionID:       s.SessionID,
			ClientID:        s.ClientID,
			SessionIndex:    int32(s.Index),
			SessionStart:    timeOf(s.Start),
			SessionEnd:      timeOf(s.End),
			Events:          int32(s.Events),
			Pageviews:       int32(s.Pageviews),
			AddToCart:       int32(s.AddToCart),
			CheckoutStarted: int32(s.CheckoutStarted),
			Purchases:       int32(s.Purchases),
			DurationSec:     s.DurationSec,
			PageURL:         s.Acquisition.PageURL,
			RefDomain:       s.Acquisition.RefDomain,
			MarketingSource: s.Acquisition.MarketingSource,
			UTMSource:       s.Acquisition.UTM.Source,
			UTMMedium:       s.Acquisition.UTM.Medium,
			UTMCampaign:     s.Acquisition.UTM.Campaign,
			DeviceType:      s.Acquisition.DeviceType,
		}
	}
	return rows
}

// OrderRows converts orders to fct_orders rows.
func OrderRows(orders []transform.Order) []OrderRow {
	rows := make([]OrderRow, len(orders))
	for i := range orders {
		o := &orders[i]
		rows[i] = OrderRow{
			TransactionID:   o.TransactionID,
			EventID:         o.EventID,
			ClientID:        o.ClientID,
			OrderTime:       timeOf(o.OrderTime),
			Revenue:         decimalText(o.Revenue),
			ItemsCount:      int32Of(o.ItemsCount),
			SessionID:       o.SessionID,
			MarketingSource: o.Acquisition.MarketingSource,
			UTMSource:       o.Acquisition.UTM.Source,
			UTMMedium:       o.Acquisition.UTM.Medium,
			UTMCampaign:     o.Acquisition.UTM.Campaign,
			RefDomain:       o.Acquisition.RefDomain,
			DeviceType:      o.Acquisition.DeviceType,
		}
	}
	return rows
}

// AttributionRows converts attribution records to fct_attribution rows.
func AttributionRows(records []transform.AttributionRecord) []AttributionRow {
	rows := make([]AttributionRow, len(records))
	for i := range records {
		r := &records[i]
		rows[i] = AttributionRow{
			TransactionID:       r.TransactionID,
			Model:               string(r.Model),
			ClientID:            r.ClientID,
			OrderTime:           timeOf(r.OrderTime),
			AttributedSessionID: r.SessionID,
			AttributedSource:    r.Source,
			UTMSource:           r.UTM.Source,
			UTMMedium:           r.UTM.Medium,
			UTMCampaign:         r.UTM.Campaign,
			RefDomain:           r.RefDomain,
			TouchTime:           timeOf(r.TouchTime),
		}
	}
	return rows
}

func decimalText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
