package reputation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is a point-in-time score stored for trend analysis. There is at
// most one per (user, timestamp); later writes replace earlier ones.
type Snapshot struct {
	User      common.Address `json:"user"`
	Score     uint64         `json:"score"`
	RiskLevel uint64         `json:"riskLevel"`
	Timestamp uint64         `json:"timestamp"`
}

// HistoryQuery selects snapshots for one user. Zero From/To are open bounds.
type HistoryQuery struct {
	User  common.Address
	From  uint64
	To    uint64
	Limit int
}

// SnapshotStore persists history snapshots.
type SnapshotStore interface {
	// SaveSnapshot upserts on (User, Timestamp).
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// GetSnapshot returns nil, nil when no snapshot exists for (user, at).
	GetSnapshot(ctx context.Context, user common.Address, at uint64) (*Snapshot, error)

	// QuerySnapshots returns matching snapshots, newest first.
	QuerySnapshots(ctx context.Context, q HistoryQuery) ([]*Snapshot, error)
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
