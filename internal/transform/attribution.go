package transform

import (
	"cmp"
	"slices"
	"time"
)

// Attribute credits every order under first_click and last_click. Records
// are returned in order position, first_click before last_click.
func Attribute(orders []Order, sessions []Session, lookback time.Duration, workers int) []AttributionRecord {
	touchpoints := touchpointsByClient(sessions)

	groups := groupIndices(len(orders), func(i int) (string, bool) {
		if orders[i].ClientID == nil {
			return "", false
		}
		return *orders[i].ClientID, true
	})

	records := make([]AttributionRecord, 2*len(orders))
	for i := range orders {
		if orders[i].ClientID == nil {
			setRecords(records, i, &orders[i], nil, nil)
		}
	}

	forEachGroup(workers, len(groups), func(g int) {
		candidates := touchpoints[groups[g].Key]
		for _, i := range groups[g].Indices {
			first, last := window(candidates, orders[i].OrderTime, lookback)
			setRecords(records, i, &orders[i], first, last)
		}
	})
	return records
}

// touchpointsByClient returns each client's touchpoint sessions with a
// parsable start, ascending by start.
func touchpointsByClient(sessions []Session) map[string][]*Session {
	out := make(map[string][]*Session)
	for i := range sessions {
		s := &sessions[i]
		if !s.IsTouchpoint() || !s.Start.Valid {
			continue
		}
		out[s.ClientID] = append(out[s.ClientID], s)
	}
	for _, ts := range out {
		slices.SortFunc(ts, func(a, b *Session) int {
			if c := a.Start.Compare(b.Start); c != 0 {
				return c
			}
			return cmp.Compare(a.Index, b.Index)
		})
	}
	return out
}

// window returns the earliest and latest candidate with start in
// [orderTime-lookback, orderTime], or nils when none qualifies.
func window(candidates []*Session, orderTime Timestamp, lookback time.Duration) (first, last *Session) {
	if !orderTime.Valid {
		return nil, nil
	}
	from := orderTime.Time.Add(-lookback)

	for _, s := range candidates {
		if s.Start.Time.Before(from) {
			continue
		}
		if s.Start.Time.After(orderTime.Time) {
			break
		}
		if first == nil {
			first = s
		}
		last = s
	}
	return first, last
}

func setRecords(records []AttributionRecord, i int, o *Order, first, last *Session) {
	records[2*i] = newRecord(o, FirstClick, first)
	records[2*i+1] = newRecord(o, LastClick, last)
}

func newRecord(o *Order, model Model, touch *Session) AttributionRecord {
	r := AttributionRecord{
		TransactionID: o.TransactionID,
		Model:         model,
		ClientID:      o.ClientID,
		OrderTime:     o.OrderTime,
		Source:        SourceDirect,
	}
	if touch == nil {
		return r
	}

	id := touch.SessionID
	r.SessionID = &id
	r.Source = touch.Acquisition.MarketingSource
	r.UTM = touch.Acquisition.UTM
	r.RefDomain = touch.Acquisition.RefDomain
	r.TouchTime = touch.Start
	return r
}
