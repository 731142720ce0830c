package transform

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
)

func TestReconcile(t *testing.T) {
	t0 := day0
	raws := []source.RawEvent{
		rawEvent("A", t0.AddDate(0, 0, -1), EventPageViewed, "https://puffy.com/?gclid=g"),
		purchaseEvent("A", t0, "T1", "100"),
		purchaseEvent("A", t0.Add(time.Minute), "T1", "120.50"),
		purchaseEvent("", t0, "T2", "30"),
		rawEvent("", t0, EventPageViewed, "https://puffy.com/"),
	}

	res, err := runDefault(raws)
	require.NoError(t, err)

	rep := Reconcile(res)

	assert.Equal(t, 5, rep.RawEventRows)
	assert.Equal(t, map[string]int{EventPageViewed: 2, EventCheckoutCompleted: 3}, rep.EventTypes)
	assert.Equal(t, 3, rep.EventsWithSessionID)
	assert.Equal(t, 2, rep.EventsMissingClientID)
	assert.Equal(t, 2, rep.SessionRows)
	assert.Equal(t, 3, rep.RawPurchaseEvents)
	assert.Equal(t, 2, rep.DedupedOrders)
	assert.Equal(t, 1, rep.DuplicateTransactionIDsInRaw)
	assert.Equal(t, "250.5", rep.RawRevenueSum.String())
	assert.Equal(t, "150.5", rep.DedupedRevenueSum.String())
	assert.Equal(t, map[string]int{"first_click": 2, "last_click": 2}, rep.AttributionRowsByModel)
	assert.InDelta(t, 0.5, rep.DirectShare, 1e-9)

	md := rep.Markdown()
	assert.True(t, strings.HasPrefix(md, "# Reconciliation Summary\n"))
	assert.Contains(t, md, "- **event_types**: {checkout_completed=3, page_viewed=2}")
	assert.Contains(t, md, "- **orders_attributed_to_direct_share**: 0.5000")
}
