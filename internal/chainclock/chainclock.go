// Package chainclock provides the monotonic time unit the reputation engine
// stamps profiles, activities and snapshots with. Three sources are
// available: a manually advanced counter, a block height derived from wall
// time, and the head of an Ethereum-compatible chain.
package chainclock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBackwards is returned when a manual clock is asked to move back.
var ErrBackwards = errors.New("clock cannot move backwards")

// Manual is a clock advanced explicitly by the host. Useful for tests,
// demos and hosts that drive block production themselves.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

// NewManual creates a manual clock starting at start.
func NewManual(start uint64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now, nil
}

// Set moves the clock to now. Moving backwards returns ErrBackwards.
func (m *Manual) Set(now uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now < m.now {
		return ErrBackwards
	}
	m.now = now
	return nil
}

// Advance moves the clock forward by n and returns the new value.
func (m *Manual) Advance(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += n
	return m.now
}

// Wall derives a block height from elapsed wall time:
// (now - genesis) / interval. Before genesis it reads 0.
type Wall struct {
	genesis  time.Time
	interval time.Duration
	nowFn    func() time.Time
}

// DefaultBlockInterval is 10 minutes, which makes 144 blocks one day.
const DefaultBlockInterval = 10 * time.Minute

// NewWall creates a wall-derived clock.
func NewWall(genesis time.Time, interval time.Duration) *Wall {
	if interval <= 0 {
		interval = DefaultBlockInterval
	}
	return &Wall{genesis: genesis, interval: interval, nowFn: time.Now}
}

func (w *Wall) Now(context.Context) (uint64, error) {
	elapsed := w.nowFn().Sub(w.genesis)
	if elapsed <= 0 {
		return 0, nil
	}
	return uint64(elapsed / w.interval), nil
}
