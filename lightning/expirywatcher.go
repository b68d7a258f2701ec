package lightning

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultExpiryInterval is the default interval between invoice expiry
// scans.
const DefaultExpiryInterval = time.Minute

// ExpiryRegistration subscribes a swap's invoice to expiry scanning.
type ExpiryRegistration struct {
	// SwapID is the swap the invoice belongs to.
	SwapID string

	// Node is the Lightning node the invoice lives on, empty for the
	// default node.
	Node string

	// PreimageHash is the payment hash of the invoice.
	PreimageHash lntypes.Hash

	// ExpiresAt is the wall clock expiry of the invoice.
	ExpiresAt time.Time
}

// InvoiceExpiryWatcherConfig bundles the dependencies of an invoice expiry
// watcher.
type InvoiceExpiryWatcherConfig struct {
	// Nodes resolves the node of each registration.
	Nodes *NodeSwitch

	// Ticker signals the scanning rounds.
	Ticker *ticker.Force

	// Clock is the time source expiries are checked against.
	Clock clock.Clock

	// CallTimeout bounds the individual node calls of a scan.
	CallTimeout time.Duration

	// EventBuffer overrides the capacity of the event channel.
	EventBuffer int
}

// InvoiceExpiryWatcher scans registered invoices and reports the ones that
// passed their expiry without an HTLC arriving. Invoices whose HTLCs are
// already held cannot expire anymore and are dropped silently.
type InvoiceExpiryWatcher struct {
	cfg InvoiceExpiryWatcherConfig

	mu      sync.Mutex
	tracked map[string]*ExpiryRegistration

	events chan Event
}

// NewInvoiceExpiryWatcher creates an invoice expiry watcher.
func NewInvoiceExpiryWatcher(
	cfg *InvoiceExpiryWatcherConfig) *InvoiceExpiryWatcher {

	w := &InvoiceExpiryWatcher{
		cfg:     *cfg,
		tracked: make(map[string]*ExpiryRegistration),
	}

	if w.cfg.Clock == nil {
		w.cfg.Clock = clock.NewDefaultClock()
	}
	if w.cfg.CallTimeout == 0 {
		w.cfg.CallTimeout = DefaultCallTimeout
	}

	buffer := w.cfg.EventBuffer
	if buffer == 0 {
		buffer = defaultEventBuffer
	}
	w.events = make(chan Event, buffer)

	return w
}

// Events returns the channel expiry events are delivered on.
func (w *InvoiceExpiryWatcher) Events() <-chan Event {
	return w.events
}

// Watch registers a swap's invoice for expiry scanning.
func (w *InvoiceExpiryWatcher) Watch(reg ExpiryRegistration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tracked[reg.SwapID] = &reg
}

// Forget drops the registration of a swap.
func (w *InvoiceExpiryWatcher) Forget(swapID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.tracked, swapID)
}

// Run scans the registered invoices until the context is cancelled.
func (w *InvoiceExpiryWatcher) Run(ctx context.Context) error {
	w.cfg.Ticker.Resume()
	defer w.cfg.Ticker.Stop()

	for {
		select {
		case <-w.cfg.Ticker.Ticks():
			if err := w.scan(ctx); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// scan emits an expiry event for every registered invoice whose expiry
// passed while it is still open. Lookup failures are retried on the next
// round.
func (w *InvoiceExpiryWatcher) scan(ctx context.Context) error {
	now := w.cfg.Clock.Now()

	w.mu.Lock()
	expired := make([]*ExpiryRegistration, 0, len(w.tracked))
	for _, reg := range w.tracked {
		if !reg.ExpiresAt.After(now) {
			expired = append(expired, reg)
		}
	}
	w.mu.Unlock()

	for _, reg := range expired {
		client, err := w.cfg.Nodes.ForSwap(reg.Node)
		if err != nil {
			log.Warnf("Skipping expiry of swap %v: %v",
				reg.SwapID, err)
			continue
		}

		status, err := RaceCall(
			ctx, w.cfg.CallTimeout,
			func(ctx context.Context) (*InvoiceStatus, error) {
				return client.LookupHoldInvoice(
					ctx, reg.PreimageHash,
				)
			},
		)
		switch {
		case errors.Is(err, ErrInvoiceNotFound):
			log.Debugf("Expired invoice of swap %v already gone",
				reg.SwapID)
			w.Forget(reg.SwapID)
			continue

		case err != nil:
			log.Warnf("Lookup of expired invoice of swap %v "+
				"failed: %v", reg.SwapID, err)
			continue
		}

		// An invoice with held or settled HTLCs is past the point
		// where expiry matters.
		if status.State != InvoiceOpen {
			w.Forget(reg.SwapID)
			continue
		}

		log.Debugf("Invoice of swap %v expired at %v", reg.SwapID,
			reg.ExpiresAt)

		w.Forget(reg.SwapID)
		err = w.emit(ctx, &InvoiceExpiredEvent{SwapID: reg.SwapID})
		if err != nil {
			return err
		}
	}

	return nil
}

// emit hands an event to the consumer, blocking until it is taken.
func (w *InvoiceExpiryWatcher) emit(ctx context.Context, event Event) error {
	select {
	case w.events <- event:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}
