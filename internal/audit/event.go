// Package audit emits one hash-chained event per published run.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
)

const (
	EventVersion = "1.0"
	EventType    = "warehouse_run"
)

// RunEvent records a published table set.
type RunEvent struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo              `json:"run"`
	Tables   map[string]TableInfo `json:"tables"`
	Producer ProducerInfo         `json:"producer"`
	Chain    ChainInfo            `json:"chain"`
}

// RunInfo identifies the run being audited.
type RunInfo struct {
	Dataset          string `json:"dataset"`
	RunID            string `json:"run_id"`
	InputFingerprint string `json:"input_fingerprint"`
	InputPartitions  int    `json:"input_partitions"`
	InputRows        int64  `json:"input_rows"`
}

// TableInfo contains checksum and metadata for a single table.
type TableInfo struct {
	Checksum    string `json:"checksum"`
	RowCount    int64  `json:"row_count"`
	StoragePath string `json:"storage_path"`
	ByteSize    int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links each event to the previous event of the same dataset.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this run belongs to.
func (r RunInfo) ChainKey() string {
	return r.Dataset
}

// SetChainHashes links the event to prev and computes its own hash.
func (e *RunEvent) SetChainHashes(prev string) {
	e.Chain.PrevEventHash = prev
	e.Chain.EventHash = ComputeEventHash(e)
}

// ComputeEventHash hashes the canonical JSON of the event with event_hash
// cleared. Map keys are emitted sorted, so table order does not matter.
func ComputeEventHash(evt *RunEvent) string {
	cp := *evt
	cp.Chain.EventHash = ""

	canonical, err := json.Marshal(cp)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}
