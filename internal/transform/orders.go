package transform

// ResolveOrders keeps one order per transaction id: the purchase event that
// is latest under (event_time, event_id). Orders are returned by transaction id.
func ResolveOrders(events []EnrichedEvent, workers int) []Order {
	groups := groupIndices(len(events), func(i int) (string, bool) {
		e := &events[i]
		if !IsPurchase(e.EventName) || e.Payload.TransactionID == nil {
			return "", false
		}
		return *e.Payload.TransactionID, true
	})

	orders := make([]Order, len(groups))
	forEachGroup(workers, len(groups), func(g int) {
		win := &events[latestEvent(events, groups[g].Indices)]
		orders[g] = Order{
			TransactionID: groups[g].Key,
			EventID:       win.EventID,
			ClientID:      win.ClientID,
			OrderTime:     win.EventTime,
			Revenue:       win.Payload.Revenue,
			ItemsCount:    win.Payload.ItemsCount,
			SessionID:     win.SessionID,
			Acquisition:   acquisitionOf(win),
		}
	})
	return orders
}
