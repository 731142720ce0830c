package transform

import (
	"errors"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ParsePayload parses event_data. It never fails: anything other than a
// single JSON object yields an unparsed Payload, and a field of the wrong
// type is absent.
func ParsePayload(eventData *string) Payload {
	if eventData == nil || strings.TrimSpace(*eventData) == "" {
		return Payload{}
	}

	dec := json.NewDecoder(strings.NewReader(*eventData))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return Payload{}
	}
	// Trailing content after the object makes the document invalid.
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Payload{}
	}

	return Payload{
		Parsed:        true,
		TransactionID: transactionID(obj["transaction_id"]),
		Revenue:       revenue(obj["revenue"]),
		ItemsCount:    itemsCount(obj["items"]),
	}
}

// transactionID accepts a JSON string or number.
func transactionID(v any) *string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return &t
	case json.Number:
		s := t.String()
		return &s
	default:
		return nil
	}
}

// revenue accepts a JSON number or a numeric string.
func revenue(v any) decimal.NullDecimal {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func itemsCount(v any) *int {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	n := len(items)
	return &n
}
