// Package gate is the access-control collaborator in front of the reputation
// engine: a caller authorization check plus a system-wide pause switch.
package gate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/repscore/internal/reputation"
)

// Gate authorizes engine operations.
//
// Policy:
//   - register: the user themself or an operator
//   - record_activity: operators only
//   - assess: anyone
//
// Authorization is decided first; a paused system then refuses every
// operation with ErrSystemPaused.
type Gate struct {
	mu        sync.RWMutex
	operators map[common.Address]struct{}
	flag      PauseFlag
	logger    *slog.Logger
}

// New creates a gate. A nil flag means the system is never paused.
func New(operators []common.Address, flag PauseFlag, logger *slog.Logger) *Gate {
	if flag == nil {
		flag = NewMemoryFlag()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		operators: make(map[common.Address]struct{}, len(operators)),
		flag:      flag,
		logger:    logger,
	}
	for _, op := range operators {
		g.operators[op] = struct{}{}
	}
	return g
}

// Check implements reputation.Gate.
func (g *Gate) Check(ctx context.Context, caller reputation.Caller, op reputation.Operation, user common.Address) error {
	if !g.authorized(caller, op, user) {
		g.logger.Debug("gate refused caller", "caller", caller.Address.Hex(), "op", string(op), "user", user.Hex())
		return reputation.ErrNotAuthorized
	}

	paused, err := g.flag.Paused(ctx)
	if err != nil {
		return fmt.Errorf("read pause flag: %w", err)
	}
	if paused {
		return reputation.ErrSystemPaused
	}
	return nil
}

func (g *Gate) authorized(caller reputation.Caller, op reputation.Operation, user common.Address) bool {
	switch op {
	case reputation.OpAssess:
		return true
	case reputation.OpRegister:
		return caller.Address == user || g.IsOperator(caller.Address)
	case reputation.OpRecordActivity:
		return g.IsOperator(caller.Address)
	default:
		return false
	}
}

// IsOperator reports whether addr may record activity.
func (g *Gate) IsOperator(addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.operators[addr]
	return ok
}

// Operators returns the configured operator set in byte order.
func (g *Gate) Operators() []common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]common.Address, 0, len(g.operators))
	for op := range g.operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}

// Pause stops all gated operations.
func (g *Gate) Pause(ctx context.Context) error {
	if err := g.flag.SetPaused(ctx, true); err != nil {
		return fmt.Errorf("set pause flag: %w", err)
	}
	g.logger.Warn("system paused")
	return nil
}

// Unpause resumes gated operations.
func (g *Gate) Unpause(ctx context.Context) error {
	if err := g.flag.SetPaused(ctx, false); err != nil {
		return fmt.Errorf("clear pause flag: %w", err)
	}
	g.logger.Info("system unpaused")
	return nil
}

// Paused reports the current pause state.
func (g *Gate) Paused(ctx context.Context) (bool, error) {
	return g.flag.Paused(ctx)
}

var _ reputation.Gate = (*Gate)(nil)
