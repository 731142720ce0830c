package source

import (
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

const sampleCSV = `page_url,timestamp,event_name,user_agent,referrer,event_data,client_id
https://puffy.com/?utm_source=fb,2025-02-23T10:00:00.000Z,page_viewed,Mozilla/5.0 (iPhone),,,c1
https://puffy.com/cart,2025-02-23T10:05:00.000Z,checkout_completed,,https://www.google.com/,"{""transaction_id"":""T1"",""revenue"":100}",c1
`

func TestDecodeCSV(t *testing.T) {
	events, err := DecodeCSV("events_20250223.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("DecodeCSV failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.EventName != "page_viewed" {
		t.Errorf("event_name = %q", first.EventName)
	}
	if first.Referrer != nil {
		t.Errorf("empty referrer should be nil, got %q", *first.Referrer)
	}
	if first.ClientID == nil || *first.ClientID != "c1" {
		t.Errorf("client_id not decoded: %v", first.ClientID)
	}
	if first.ClientIDAlias != nil {
		t.Error("clientId column absent, alias should be nil")
	}
	if first.Partition != "events_20250223.csv" {
		t.Errorf("partition tag = %q", first.Partition)
	}

	second := events[1]
	if second.EventData == nil || !strings.Contains(*second.EventData, `"transaction_id":"T1"`) {
		t.Errorf("event_data not decoded: %v", second.EventData)
	}
}

func TestDecodeCSV_AliasColumnAndBOM(t *testing.T) {
	data := "\ufeffpage_url,timestamp,event_name,clientId\nhttps://puffy.com/,2025-02-23T10:00:00.000Z,page_viewed,c9\n"

	events, err := DecodeCSV("p.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeCSV failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].PageURL != "https://puffy.com/" {
		t.Errorf("BOM not stripped from first header, page_url = %q", events[0].PageURL)
	}
	if events[0].ClientID != nil {
		t.Error("client_id should be nil when only clientId is present")
	}
	if events[0].ClientIDAlias == nil || *events[0].ClientIDAlias != "c9" {
		t.Errorf("clientId not decoded: %v", events[0].ClientIDAlias)
	}
	if events[0].UserAgent != nil {
		t.Error("missing user_agent column should decode as nil")
	}
}

func TestDecodeCSV_MissingColumns(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no timestamp", "page_url,event_name,client_id"},
		{"no client id", "page_url,timestamp,event_name"},
		{"no page_url", "timestamp,event_name,clientId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCSV("p.csv", strings.NewReader(tt.header+"\n"))
			if !errors.Is(err, ErrMissingColumns) {
				t.Errorf("expected ErrMissingColumns, got %v", err)
			}
		})
	}
}

func TestDecodeCSV_EmptyFile(t *testing.T) {
	if _, err := DecodeCSV("p.csv", strings.NewReader("")); err == nil {
		t.Error("empty file should be a structural error")
	}
}

func TestDecodeCSV_HeaderOnly(t *testing.T) {
	events, err := DecodeCSV("p.csv", strings.NewReader("page_url,timestamp,event_name,client_id\n"))
	if err != nil {
		t.Fatalf("header-only partition should decode: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestDecoder_Compressed(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	compressed := enc.EncodeAll([]byte(sampleCSV), nil)
	enc.Close()

	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	defer dec.Close()

	file := PartitionFile{Key: "raw/events_20250223.csv.zst", Name: "events_20250223.csv.zst"}
	part, err := dec.Decode(file, compressed)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(part.Events) != 2 {
		t.Errorf("expected 2 events, got %d", len(part.Events))
	}
	if !strings.HasPrefix(part.Checksum, "sha256:") {
		t.Errorf("checksum should be sha256-prefixed: %s", part.Checksum)
	}

	plain, err := dec.Decode(PartitionFile{Key: "events_20250223.csv", Name: "events_20250223.csv"}, []byte(sampleCSV))
	if err != nil {
		t.Fatalf("Decode plain failed: %v", err)
	}
	if plain.Checksum == part.Checksum {
		t.Error("checksum should cover stored bytes, not decompressed bytes")
	}
}
