package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Column names of the raw event schema.
const (
	ColPageURL       = "page_url"
	ColTimestamp     = "timestamp"
	ColEventName     = "event_name"
	ColUserAgent     = "user_agent"
	ColReferrer      = "referrer"
	ColEventData     = "event_data"
	ColClientID      = "client_id"
	ColClientIDAlias = "clientId"
)

// RequiredColumns must be present in every partition. A client id column is
// additionally required under one of ClientIDColumns.
var RequiredColumns = []string{ColPageURL, ColTimestamp, ColEventName}

// ClientIDColumns lists the accepted client id column names in priority order.
var ClientIDColumns = []string{ColClientID, ColClientIDAlias}

// Partition is a decoded partition file.
type Partition struct {
	File     PartitionFile
	Events   []RawEvent
	Checksum string // sha256 over the file bytes as stored
}

// Decoder handles zstd decompression and CSV parsing of partitions.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a new partition decoder. It is safe for concurrent use.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decode parses a partition file's bytes. Compressed files are decompressed first.
func (d *Decoder) Decode(file PartitionFile, data []byte) (*Partition, error) {
	sum := sha256.Sum256(data)
	checksum := "sha256:" + hex.EncodeToString(sum[:])

	if IsCompressed(file.Key) {
		raw, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress %s: %w", file.Name, err)
		}
		data = raw
	}

	events, err := DecodeCSV(file.Name, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return &Partition{
		File:     file,
		Events:   events,
		Checksum: checksum,
	}, nil
}

// DecodeCSV reads raw events from CSV with a header row. Empty cells of
// nullable columns become nil; missing required columns are a structural error.
func DecodeCSV(partition string, r io.Reader) ([]RawEvent, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("partition %s: empty file", partition)
		}
		return nil, fmt.Errorf("partition %s: read header: %w", partition, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}

	if err := checkColumns(partition, cols); err != nil {
		return nil, err
	}

	var events []RawEvent
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("partition %s: line %d: %w", partition, line, err)
		}

		events = append(events, RawEvent{
			PageURL:       cell(rec, cols, ColPageURL),
			Timestamp:     cell(rec, cols, ColTimestamp),
			EventName:     cell(rec, cols, ColEventName),
			UserAgent:     nullable(rec, cols, ColUserAgent),
			Referrer:      nullable(rec, cols, ColReferrer),
			EventData:     nullable(rec, cols, ColEventData),
			ClientID:      nullable(rec, cols, ColClientID),
			ClientIDAlias: nullable(rec, cols, ColClientIDAlias),
			Partition:     partition,
		})
	}

	return events, nil
}

func checkColumns(partition string, cols map[string]int) error {
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}

	hasClient := false
	for _, c := range ClientIDColumns {
		if _, ok := cols[c]; ok {
			hasClient = true
			break
		}
	}
	if !hasClient {
		missing = append(missing, strings.Join(ClientIDColumns, "|"))
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: partition %s: %s", ErrMissingColumns, partition, strings.Join(missing, ", "))
	}
	return nil
}

func cell(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func nullable(rec []string, cols map[string]int, name string) *string {
	v := cell(rec, cols, name)
	if v == "" {
		return nil
	}
	return &v
}
