package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
)

func session(client string, index int, start time.Time, marketing string) Session {
	return Session{
		SessionID:   SessionID(client, index),
		ClientID:    client,
		Index:       index,
		Start:       Timestamp{Time: start, Valid: true},
		End:         Timestamp{Time: start.Add(5 * time.Minute), Valid: true},
		Events:      1,
		Acquisition: Acquisition{MarketingSource: marketing},
	}
}

func order(tx, client string, at time.Time) Order {
	o := Order{TransactionID: tx, OrderTime: Timestamp{Time: at, Valid: true}}
	if client != "" {
		o.ClientID = strPtr(client)
	}
	return o
}

func assertFallback(t *testing.T, r AttributionRecord) {
	t.Helper()
	assert.Nil(t, r.SessionID)
	assert.Equal(t, SourceDirect, r.Source)
	assert.True(t, r.IsFallback())
}

func TestAttribute_LookbackBoundary(t *testing.T) {
	sessions := []Session{
		session("A", 1, day0.AddDate(0, 0, -8), SourceGoogleAds),
		session("A", 2, day0.AddDate(0, 0, -3), SourceMetaAds),
	}
	orders := []Order{order("T1", "A", day0)}

	records := Attribute(orders, sessions, 7*24*time.Hour, 2)

	require.Len(t, records, 2)
	first, last := records[0], records[1]
	assert.Equal(t, FirstClick, first.Model)
	assert.Equal(t, LastClick, last.Model)
	for _, r := range records {
		assert.Equal(t, "T1", r.TransactionID)
		require.NotNil(t, r.SessionID)
		assert.Equal(t, "A-2", *r.SessionID)
		assert.Equal(t, SourceMetaAds, r.Source)
	}
}

func TestAttribute_FirstAndLastClick(t *testing.T) {
	sessions := []Session{
		session("A", 3, day0.Add(-1*time.Hour), SourceGoogleOrganic),
		session("A", 1, day0.AddDate(0, 0, -6), SourceTikTokAds),
		session("A", 2, day0.AddDate(0, 0, -2), SourceInternal),
	}
	orders := []Order{order("T1", "A", day0)}

	records := Attribute(orders, sessions, 7*24*time.Hour, 1)

	require.Len(t, records, 2)
	assert.Equal(t, "A-1", *records[0].SessionID)
	assert.Equal(t, SourceTikTokAds, records[0].Source)
	assert.Equal(t, "A-3", *records[1].SessionID)
	assert.Equal(t, SourceGoogleOrganic, records[1].Source)
	assert.True(t, records[1].TouchTime.Valid)
}

func TestAttribute_WindowIsInclusive(t *testing.T) {
	lookback := 7 * 24 * time.Hour
	sessions := []Session{
		session("A", 1, day0.Add(-lookback), SourceGoogleAds),
		session("A", 2, day0, SourceBingOrganic),
		session("A", 3, day0.Add(time.Millisecond), SourceMetaAds),
	}
	orders := []Order{order("T1", "A", day0)}

	records := Attribute(orders, sessions, lookback, 1)

	assert.Equal(t, SourceGoogleAds, records[0].Source, "start exactly at t-lookback qualifies")
	assert.Equal(t, SourceBingOrganic, records[1].Source, "start exactly at t qualifies")
}

func TestAttribute_Fallback(t *testing.T) {
	bad := session("B", 2, day0, SourceMetaAds)
	bad.Start = Timestamp{}

	sessions := []Session{
		session("A", 1, day0.AddDate(0, 0, -1), SourceDirect),
		session("A", 2, day0.AddDate(0, 0, -2), SourceInternal),
		session("B", 1, day0.AddDate(0, 0, -30), SourceGoogleAds),
		bad,
		session("C", 1, day0.AddDate(0, 0, -1), SourceGoogleAds),
	}
	unparsable := order("T5", "C", day0)
	unparsable.OrderTime = Timestamp{}

	orders := []Order{
		order("T1", "A", day0), // only direct/internal sessions
		order("T2", "B", day0), // touchpoint outside window, unparsable start
		order("T3", "Z", day0), // no sessions at all
		order("T4", "", day0),  // no client
		unparsable,
	}

	records := Attribute(orders, sessions, 7*24*time.Hour, 3)

	require.Len(t, records, 2*len(orders))
	for i, r := range records {
		assert.Equal(t, orders[i/2].TransactionID, r.TransactionID)
		assertFallback(t, r)
	}
}

func TestAttribute_IndependentOfOrderPosition(t *testing.T) {
	sessions := []Session{
		session("A", 1, day0.AddDate(0, 0, -2), SourceGoogleAds),
		session("B", 1, day0.AddDate(0, 0, -1), SourceMetaAds),
	}
	forward := []Order{order("T1", "A", day0), order("T2", "B", day0)}
	reverse := []Order{forward[1], forward[0]}

	a := Attribute(forward, sessions, 7*24*time.Hour, 1)
	b := Attribute(reverse, sessions, 7*24*time.Hour, 4)

	assert.Equal(t, a[0], b[2])
	assert.Equal(t, a[1], b[3])
	assert.Equal(t, a[2], b[0])
	assert.Equal(t, a[3], b[1])
}

func TestAttribute_EndToEndFromEvents(t *testing.T) {
	// Touchpoints at day -8 and day -3, then a direct visit that purchases.
	raws := []source.RawEvent{
		rawEvent("A", day0.AddDate(0, 0, -8), EventPageViewed, "https://puffy.com/?gclid=abc"),
		rawEvent("A", day0.AddDate(0, 0, -3), EventPageViewed, "https://puffy.com/?fbclid=xyz"),
		rawEvent("A", day0.Add(-10*time.Minute), EventPageViewed, "https://puffy.com/"),
		purchaseEvent("A", day0, "T1", "100"),
	}

	res, err := runDefault(raws)
	require.NoError(t, err)

	require.Len(t, res.Sessions, 3)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, "A-3", *res.Orders[0].SessionID)
	require.Len(t, res.Attribution, 2)
	for _, r := range res.Attribution {
		assert.Equal(t, "A-2", *r.SessionID)
		assert.Equal(t, SourceMetaAds, r.Source)
	}
}
