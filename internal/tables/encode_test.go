package tables

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/transform"
)

func strPtr(s string) *string { return &s }

func testResult(t *testing.T) *transform.Result {
	t.Helper()
	raws := []source.RawEvent{
		{
			PageURL:   "https://puffy.com/?utm_source=fb&fbclid=1",
			Timestamp: "2025-02-22T09:00:00.000Z",
			EventName: "page_viewed",
			UserAgent: strPtr("Mozilla/5.0 (iPhone)"),
			ClientID:  strPtr("c1"),
			Partition: "events_20250222.csv",
		},
		{
			PageURL:   "https://puffy.com/checkout",
			Timestamp: "2025-02-23T10:00:00.000Z",
			EventName: "checkout_completed",
			EventData: strPtr(`{"transaction_id":"T1","revenue":"1299.00","items":[1,2]}`),
			ClientID:  strPtr("c1"),
			Partition: "events_20250223.csv",
		},
		{
			PageURL:   "https://puffy.com/",
			Timestamp: "bad",
			EventName: "page_viewed",
			Partition: "events_20250223.csv",
		},
	}
	res, err := transform.Run(context.Background(), raws, transform.DefaultOptions())
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	return res
}

func TestEncode_AllTables(t *testing.T) {
	res := testResult(t)

	out, err := Encode(res, DefaultParquetConfig())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := map[string]int64{
		transform.TableEvents:      3,
		transform.TableSessions:    2,
		transform.TableOrders:      1,
		transform.TableAttribution: 2,
	}
	for table, rows := range want {
		data, ok := out.Parquets[table]
		if !ok || len(data) == 0 {
			t.Errorf("%s: no parquet data", table)
			continue
		}
		if out.RowCounts[table] != rows {
			t.Errorf("%s: row count = %d, want %d", table, out.RowCounts[table], rows)
		}
		if !VerifyChecksum(data, out.Checksums[table]) {
			t.Errorf("%s: checksum mismatch", table)
		}
	}
	if out.TotalBytes() == 0 {
		t.Error("total bytes should be positive")
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	res := testResult(t)

	out, err := Encode(res, ParquetConfig{Compression: "zstd", RowGroupRows: 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	data := out.Parquets[transform.TableEvents]
	events, err := parquet.Read[EventRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	first := events[0]
	if first.EventID != 0 || first.MarketingSource != transform.SourceMetaAds {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.UTMSource == nil || *first.UTMSource != "fb" {
		t.Errorf("utm_source not preserved: %v", first.UTMSource)
	}
	wantTime := time.Date(2025, 2, 22, 9, 0, 0, 0, time.UTC)
	if !first.EventTime.Equal(wantTime) {
		t.Errorf("event_time = %v, want %v", first.EventTime, wantTime)
	}
	if first.EventDate == nil || *first.EventDate != "2025-02-22" {
		t.Errorf("event_date = %v", first.EventDate)
	}
	if first.DeviceType == nil || *first.DeviceType != "mobile" {
		t.Errorf("device_type = %v", first.DeviceType)
	}

	bad := events[2]
	if !bad.EventTime.IsZero() || bad.EventDate != nil {
		t.Error("unparsable timestamp should encode as null")
	}
	if bad.ClientID != nil || bad.SessionID != nil {
		t.Error("client-less event should have null client and session")
	}

	data = out.Parquets[transform.TableOrders]
	orders, err := parquet.Read[OrderRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Revenue == nil || *orders[0].Revenue != "1299" {
		t.Errorf("revenue = %v", orders[0].Revenue)
	}
	if orders[0].ItemsCount == nil || *orders[0].ItemsCount != 2 {
		t.Errorf("items_count = %v", orders[0].ItemsCount)
	}

	data = out.Parquets[transform.TableAttribution]
	attribution, err := parquet.Read[AttributionRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read attribution: %v", err)
	}
	if len(attribution) != 2 {
		t.Fatalf("expected 2 attribution rows, got %d", len(attribution))
	}
	if attribution[0].Model != "first_click" || attribution[1].Model != "last_click" {
		t.Errorf("unexpected models: %s, %s", attribution[0].Model, attribution[1].Model)
	}
	for _, a := range attribution {
		if a.AttributedSessionID == nil || *a.AttributedSessionID != "c1-1" {
			t.Errorf("attributed_session_id = %v", a.AttributedSessionID)
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a, err := Encode(testResult(t), DefaultParquetConfig())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b, err := Encode(testResult(t), DefaultParquetConfig())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for table, sum := range a.Checksums {
		if b.Checksums[table] != sum {
			t.Errorf("%s: checksum differs across identical runs", table)
		}
	}
}

func TestEncode_EmptyResult(t *testing.T) {
	out, err := Encode(&transform.Result{}, DefaultParquetConfig())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for _, table := range transform.Tables {
		if out.RowCounts[table] != 0 {
			t.Errorf("%s: expected 0 rows", table)
		}
		if len(out.Parquets[table]) == 0 {
			t.Errorf("%s: empty table should still be a valid parquet file", table)
		}
	}
}

func TestEncode_UnknownCompression(t *testing.T) {
	if _, err := Encode(&transform.Result{}, ParquetConfig{Compression: "lzo"}); err == nil {
		t.Error("expected error for unknown compression")
	}
}

func TestEncode_TimestampColumnsAreNullable(t *testing.T) {
	out, err := Encode(testResult(t), DefaultParquetConfig())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	data := out.Parquets[transform.TableEvents]
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	col, ok := f.Schema().Lookup("event_time")
	if !ok {
		t.Fatal("event_time column missing")
	}
	if !col.Node.Optional() {
		t.Error("event_time should be optional")
	}

	rows := make([]parquet.Row, 3)
	n, err := f.RowGroups()[0].Rows().ReadRows(rows)
	if n != 3 {
		t.Fatalf("read %d rows: %v", n, err)
	}
	var nulls []bool
	for _, row := range rows[:n] {
		for _, v := range row {
			if v.Column() == col.ColumnIndex {
				nulls = append(nulls, v.IsNull())
			}
		}
	}
	if len(nulls) != 3 || nulls[0] || nulls[1] || !nulls[2] {
		t.Errorf("event_time nulls = %v, want only the unparsable row null", nulls)
	}
}
