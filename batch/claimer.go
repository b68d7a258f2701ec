package batch

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/swapdhq/swapd/swap"
)

const (
	// DefaultMaxBatchSize is the number of queued claims at which a
	// chain's batch is swept without waiting for the next interval.
	DefaultMaxBatchSize = 100

	// DefaultFlushInterval is the default interval between batch sweeps.
	DefaultFlushInterval = time.Minute * 10
)

// ClaimRequest is one claim offered for batching.
type ClaimRequest struct {
	// SwapID is the swap the claim settles.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// Symbol is the chain the lockup to claim lives on.
	Symbol string

	// Preimage unlocks the claim path of the lockup.
	Preimage lntypes.Preimage
}

// Claimer decides whether a claim is executed right away or deferred into a
// batch.
type Claimer interface {
	// DeferClaim offers a claim for batching. When it returns true the
	// claim was queued and the caller is done, the batcher sweeps it
	// later.
	DeferClaim(ctx context.Context, req ClaimRequest) bool
}

// NoDefer is a Claimer that declines every offer, claims are executed
// immediately.
type NoDefer struct{}

// DeferClaim declines the offer.
func (NoDefer) DeferClaim(context.Context, ClaimRequest) bool {
	return false
}

// SweepFunc executes the queued claims of one chain in a single sweep.
type SweepFunc func(ctx context.Context, symbol string,
	reqs []ClaimRequest) error

// BatcherConfig bundles the dependencies of a Batcher.
type BatcherConfig struct {
	// Symbols are the chains claims may be deferred on.
	Symbols []string

	// MaxBatchSize sweeps a chain's batch early once reached.
	MaxBatchSize int

	// Ticker signals the periodic sweeps.
	Ticker *ticker.Force

	// Sweep executes the queued claims of one chain.
	Sweep SweepFunc
}

// Batcher queues cooperative claims per chain and sweeps them together,
// periodically or when a batch fills up. Queued claims are not persisted
// here, swaps left in a claim pending state are re-offered on startup.
type Batcher struct {
	cfg BatcherConfig

	symbols map[string]struct{}

	mu      sync.Mutex
	pending map[string][]ClaimRequest

	full chan string
}

// A compile time check that Batcher implements Claimer.
var _ Claimer = (*Batcher)(nil)

// NewBatcher creates a batcher for the configured chains.
func NewBatcher(cfg *BatcherConfig) *Batcher {
	b := &Batcher{
		cfg:     *cfg,
		symbols: make(map[string]struct{}, len(cfg.Symbols)),
		pending: make(map[string][]ClaimRequest),
		full:    make(chan string, 16),
	}

	if b.cfg.MaxBatchSize == 0 {
		b.cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	for _, symbol := range cfg.Symbols {
		b.symbols[symbol] = struct{}{}
	}

	return b
}

// DeferClaim queues the claim when its chain is enabled for batching. A
// second offer for the same swap replaces the queued one.
func (b *Batcher) DeferClaim(_ context.Context, req ClaimRequest) bool {
	if _, ok := b.symbols[req.Symbol]; !ok {
		return false
	}

	b.mu.Lock()
	queue := b.pending[req.Symbol]

	replaced := false
	for i, queued := range queue {
		if queued.SwapID == req.SwapID {
			queue[i] = req
			replaced = true
			break
		}
	}
	if !replaced {
		queue = append(queue, req)
	}

	b.pending[req.Symbol] = queue
	size := len(queue)
	b.mu.Unlock()

	log.Debugf("Deferred claim of swap %v, %v queued on %v", req.SwapID,
		size, req.Symbol)

	if size >= b.cfg.MaxBatchSize {
		select {
		case b.full <- req.Symbol:
		default:
		}
	}

	return true
}

// Run sweeps the queued batches until the context is cancelled.
func (b *Batcher) Run(ctx context.Context) error {
	b.cfg.Ticker.Resume()
	defer b.cfg.Ticker.Stop()

	for {
		select {
		case <-b.cfg.Ticker.Ticks():
			b.flushAll(ctx)

		case symbol := <-b.full:
			b.flush(ctx, symbol)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flushAll sweeps every chain with queued claims.
func (b *Batcher) flushAll(ctx context.Context) {
	b.mu.Lock()
	symbols := make([]string, 0, len(b.pending))
	for symbol := range b.pending {
		symbols = append(symbols, symbol)
	}
	b.mu.Unlock()

	for _, symbol := range symbols {
		b.flush(ctx, symbol)
	}
}

// flush sweeps the queued claims of one chain. The batch is requeued when
// the sweep fails.
func (b *Batcher) flush(ctx context.Context, symbol string) {
	b.mu.Lock()
	batch := b.pending[symbol]
	delete(b.pending, symbol)
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	log.Infof("Sweeping %v deferred claims on %v", len(batch), symbol)

	if err := b.cfg.Sweep(ctx, symbol, batch); err != nil {
		log.Errorf("Sweep of %v deferred claims on %v failed, "+
			"requeued: %v", len(batch), symbol, err)

		b.mu.Lock()
		b.pending[symbol] = append(batch, b.pending[symbol]...)
		b.mu.Unlock()
	}
}
