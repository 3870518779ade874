package chainclock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/repscore/internal/circuitbreaker"
)

const rpcBreakerKey = "chain_rpc"

// HeadReader reads the latest block number. *ethclient.Client satisfies it.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Chain reports the head block of an Ethereum-compatible chain. The value
// it returns never decreases, even across reorgs or lagging RPC nodes.
//
// Without Start every Now call queries the node. After Start a background
// loop refreshes the head every poll interval and Now serves the cached
// value.
//
// Consecutive RPC failures trip a circuit breaker; while it is open the
// node is not queried and uncached reads fail fast.
type Chain struct {
	reader  HeadReader
	poll    time.Duration
	logger  *slog.Logger
	breaker *circuitbreaker.Breaker

	head    atomic.Uint64
	running atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// DefaultPollInterval matches typical L2 block times.
const DefaultPollInterval = 2 * time.Second

// Dial connects to rpcURL and returns a chain clock over it.
func Dial(ctx context.Context, rpcURL string, poll time.Duration, logger *slog.Logger) (*Chain, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewChain(client, poll, logger), nil
}

// NewChain creates a chain clock over reader.
func NewChain(reader HeadReader, poll time.Duration, logger *slog.Logger) *Chain {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		reader:  reader,
		poll:    poll,
		logger:  logger,
		breaker: circuitbreaker.New(5, 30*time.Second),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Now returns the highest head seen so far.
func (c *Chain) Now(ctx context.Context) (uint64, error) {
	if c.running.Load() {
		return c.head.Load(), nil
	}
	return c.refresh(ctx)
}

// refresh reads the node head and folds it into the cached maximum.
func (c *Chain) refresh(ctx context.Context) (uint64, error) {
	var block uint64
	err := c.breaker.Do(rpcBreakerKey, func() error {
		var err error
		block, err = c.reader.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	for {
		cur := c.head.Load()
		if block <= cur {
			return cur, nil
		}
		if c.head.CompareAndSwap(cur, block) {
			return block, nil
		}
	}
}

// Start fetches the head once and then keeps it fresh in the background.
func (c *Chain) Start(ctx context.Context) error {
	block, err := c.refresh(ctx)
	if err != nil {
		return err
	}
	c.running.Store(true)
	c.logger.Info("chain clock started", "block", block, "poll", c.poll)

	go c.pollLoop(ctx)
	return nil
}

// Stop halts the background loop and waits for it to exit.
func (c *Chain) Stop() {
	if !c.running.Load() {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// Ping reports whether the node answers. It bypasses the breaker so a
// health probe always reflects the node itself.
func (c *Chain) Ping(ctx context.Context) error {
	_, err := c.reader.BlockNumber(ctx)
	return err
}

// BreakerState reports the RPC circuit state.
func (c *Chain) BreakerState() circuitbreaker.State {
	return c.breaker.State(rpcBreakerKey)
}

func (c *Chain) pollLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if _, err := c.refresh(ctx); err != nil {
				c.logger.Warn("chain clock refresh failed", "error", err)
			}
		}
	}
}
