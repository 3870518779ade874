// Package reputation maintains per-user reputation scores for repscore.
//
// A score lives in [0, 1000] and starts at 500. It moves only through
// recorded activities:
//   - Loan repaid (+10)
//   - Liquidated (-50)
//   - Large transaction (+5 above 1,000,000)
//   - Protocol interaction (+2)
//   - Governance vote (+3)
//
// Every recorded activity is appended to a globally numbered ledger, and
// every risk assessment leaves a history snapshot behind.
package reputation

import (
	"context"
	"errors"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotAuthorized = errors.New("caller not authorized")
	ErrUserNotFound  = errors.New("user not found")
	ErrAlreadyExists = errors.New("user already registered")
	ErrSystemPaused  = errors.New("system is paused")

	ErrActivityNotFound = errors.New("activity not found")
	ErrInvalidRange     = errors.New("invalid history range")
	ErrTimestampRange   = errors.New("timestamp out of range")

	// Reserved. Scores are clamped before storage, amounts are accepted as
	// given, and unknown activity types are tolerated with zero impact.
	ErrInvalidScore    = errors.New("invalid score")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidActivity = errors.New("invalid activity")
)

// Score bounds.
const (
	MinScore     = 0
	MaxScore     = 1000
	InitialScore = 500
)

// MaxTimestamp is the largest block time or height the engine stores. Time
// values are persisted as signed BIGINT, so larger values are rejected.
const MaxTimestamp = math.MaxInt64

// Profile is a user's accumulated reputation state.
type Profile struct {
	User              common.Address `json:"user"`
	ReputationScore   uint64         `json:"reputationScore"`
	TotalTransactions uint64         `json:"totalTransactions"`
	SuccessfulLoans   uint64         `json:"successfulLoans"`
	Liquidations      uint64         `json:"liquidations"`
	LastActivity      uint64         `json:"lastActivity"`
	RegistrationBlock uint64         `json:"registrationBlock"`
	IsActive          bool           `json:"isActive"`
}

// ActivityRecord is one immutable ledger entry.
type ActivityRecord struct {
	ID           uint64         `json:"id"`
	User         common.Address `json:"user"`
	ActivityType ActivityType   `json:"activityType"`
	Amount       uint64         `json:"amount"`
	Timestamp    uint64         `json:"timestamp"`
	ScoreImpact  int64          `json:"scoreImpact"` // before clamping
}

// ActivityResult is returned from RecordActivity.
type ActivityResult struct {
	NewScore   uint64 `json:"newScore"`
	ActivityID uint64 `json:"activityId"`
}

// Stats are the store-wide running counters.
type Stats struct {
	TotalUsers      uint64 `json:"totalUsers"`
	TotalActivities uint64 `json:"totalActivities"`
}

// ApplyFunc derives the ledger entry for an activity and mutates the profile
// in place. The store assigns the record ID.
type ApplyFunc func(p *Profile) (*ActivityRecord, error)

// ProfileStore owns the user -> profile mapping and the total-users counter.
type ProfileStore interface {
	// CreateProfile inserts p and bumps the user counter in one commit.
	// Returns ErrAlreadyExists if the user is already present.
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, user common.Address) (*Profile, error)
	ListUsers(ctx context.Context, limit int) ([]common.Address, error)
}

// ActivityLedger is the append-only activity log. Appends go through
// Store.ApplyActivity so they commit together with the profile update.
type ActivityLedger interface {
	GetActivity(ctx context.Context, user common.Address, id uint64) (*ActivityRecord, error)
	ListActivities(ctx context.Context, user common.Address, limit int) ([]*ActivityRecord, error)
}

// Store is the full storage collaborator.
type Store interface {
	ProfileStore
	ActivityLedger
	SnapshotStore

	// ApplyActivity loads the profile, runs fn, takes the next value of the
	// global activity counter as the record ID, and persists record and
	// profile atomically. Nothing is written if fn or any step fails.
	ApplyActivity(ctx context.Context, user common.Address, fn ApplyFunc) (*Profile, *ActivityRecord, error)

	Stats(ctx context.Context) (*Stats, error)
}

// Clock supplies the host's monotonic time unit (e.g. block height).
type Clock interface {
	Now(ctx context.Context) (uint64, error)
}

// EventEmitter receives engine events after they commit.
type EventEmitter interface {
	EmitRegistered(p *Profile)
	EmitScoreUpdated(p *Profile, rec *ActivityRecord)
	EmitRiskAssessed(user common.Address, riskLevel, score, at uint64)
}
