package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrNoChainHead means the dataset has no audited run yet.
var ErrNoChainHead = errors.New("no chain head found")

const chainHeadsFile = "audit-chain-heads.json"

// ChainHead is the last audited run of a dataset.
type ChainHead struct {
	EventHash string    `json:"event_hash"`
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainTracker keeps one chain head per dataset in a JSON file next to the
// event backups, so a restarted job continues the same chain.
type ChainTracker struct {
	mu    sync.Mutex
	path  string
	heads map[string]ChainHead
}

// NewChainTracker opens or creates the chain head file in dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if dir == "" {
		return nil, errors.New("chain tracker dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{
		path:  filepath.Join(dir, chainHeadsFile),
		heads: make(map[string]ChainHead),
	}
	data, err := os.ReadFile(ct.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("decode chain heads %s: %w", ct.path, err)
		}
	}
	return ct, nil
}

// Head returns the chain head of a dataset, or ErrNoChainHead.
func (ct *ChainTracker) Head(chainKey string) (ChainHead, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	head, ok := ct.heads[chainKey]
	if !ok || head.EventHash == "" {
		return ChainHead{}, ErrNoChainHead
	}
	return head, nil
}

// Advance moves the chain head to an emitted event and persists all heads.
func (ct *ChainTracker) Advance(evt *RunEvent) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[evt.Run.ChainKey()] = ChainHead{
		EventHash: evt.Chain.EventHash,
		RunID:     evt.Run.RunID,
		UpdatedAt: evt.Timestamp,
	}

	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chain heads: %w", err)
	}
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write chain heads: %w", err)
	}
	return os.Rename(tmp, ct.path)
}
