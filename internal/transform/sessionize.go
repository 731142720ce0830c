package transform

import (
	"strconv"
	"time"
)

// Event names counted by sessions.
const (
	EventPageViewed        = "page_viewed"
	EventAddToCart         = "product_added_to_cart"
	EventCheckoutStarted   = "checkout_started"
	EventCheckoutCompleted = "checkout_completed"
	EventPurchase          = "purchase"
)

// IsPurchase reports whether the event name is a purchase type.
func IsPurchase(eventName string) bool {
	return eventName == EventCheckoutCompleted || eventName == EventPurchase
}

// SessionID formats a session identifier.
func SessionID(clientID string, index int) string {
	return clientID + "-" + strconv.Itoa(index)
}

// Sessionize splits each client's events into sessions and sets SessionID on
// every event it assigns. Events without a client are left untouched.
// Sessions are returned by client id, then index.
func Sessionize(events []EnrichedEvent, timeout time.Duration, workers int) []Session {
	groups := groupIndices(len(events), func(i int) (string, bool) {
		if events[i].ClientID == nil {
			return "", false
		}
		return *events[i].ClientID, true
	})

	perClient := make([][]Session, len(groups))
	forEachGroup(workers, len(groups), func(g int) {
		perClient[g] = sessionizeClient(events, groups[g].Key, groups[g].Indices, timeout)
	})

	var sessions []Session
	for _, s := range perClient {
		sessions = append(sessions, s...)
	}
	return sessions
}

func sessionizeClient(events []EnrichedEvent, clientID string, idx []int, timeout time.Duration) []Session {
	sortByEventOrder(events, idx)

	var sessions []Session
	for n, i := range idx {
		e := &events[i]
		if n == 0 || gapExceeds(events[idx[n-1]].EventTime, e.EventTime, timeout) {
			sessions = append(sessions, newSession(clientID, len(sessions)+1, e))
		}
		s := &sessions[len(sessions)-1]
		s.add(e)

		id := s.SessionID
		e.SessionID = &id
	}

	for i := range sessions {
		sessions[i].finish()
	}
	return sessions
}

// gapExceeds reports whether cur starts a new session after prev. prev never
// sorts after cur.
func gapExceeds(prev, cur Timestamp, timeout time.Duration) bool {
	if d, ok := cur.Sub(prev); ok {
		return d > timeout
	}
	// valid → unparsable splits; unparsable → unparsable does not.
	return prev.Valid
}

func newSession(clientID string, index int, first *EnrichedEvent) Session {
	return Session{
		SessionID:   SessionID(clientID, index),
		ClientID:    clientID,
		Index:       index,
		Start:       first.EventTime,
		Acquisition: acquisitionOf(first),
	}
}

func (s *Session) add(e *EnrichedEvent) {
	s.End = e.EventTime
	s.Events++
	switch {
	case e.EventName == EventPageViewed:
		s.Pageviews++
	case e.EventName == EventAddToCart:
		s.AddToCart++
	case e.EventName == EventCheckoutStarted:
		s.CheckoutStarted++
	case IsPurchase(e.EventName):
		s.Purchases++
	}
}

func (s *Session) finish() {
	if d, ok := s.End.Sub(s.Start); ok {
		sec := d.Seconds()
		s.DurationSec = &sec
	}
}
