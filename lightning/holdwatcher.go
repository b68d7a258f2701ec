package lightning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/swapdhq/swapd/swapdb"
)

const (
	// defaultEventBuffer is the capacity of the event channel when the
	// config leaves it unset.
	defaultEventBuffer = 100

	// DefaultPollInterval is the default interval between hold invoice
	// polling rounds.
	DefaultPollInterval = time.Second * 10
)

// InvoiceRegistration subscribes the hold invoices of a swap to acceptance
// polling.
type InvoiceRegistration struct {
	// SwapID is the swap the invoices belong to.
	SwapID string

	// Node is the Lightning node the invoices live on, empty for the
	// default node.
	Node string

	// PreimageHash is the payment hash of the main hold invoice.
	PreimageHash lntypes.Hash

	// MinerFeeHash is the payment hash of the prepay miner fee invoice,
	// nil when the swap has none.
	MinerFeeHash *lntypes.Hash
}

// trackedInvoice carries the registration together with flags that make
// sure each acceptance is reported once.
type trackedInvoice struct {
	reg      InvoiceRegistration
	mainPaid bool
	feePaid  bool
}

// done is true once every invoice of the registration was reported.
func (t *trackedInvoice) done() bool {
	return t.mainPaid && (t.reg.MinerFeeHash == nil || t.feePaid)
}

// HoldInvoiceWatcherConfig bundles the dependencies of a hold invoice
// watcher.
type HoldInvoiceWatcherConfig struct {
	// Nodes resolves the node of each registration.
	Nodes *NodeSwitch

	// Ticker signals the polling rounds.
	Ticker *ticker.Force

	// CallTimeout bounds the individual node calls of a polling round.
	CallTimeout time.Duration

	// EventBuffer overrides the capacity of the event channel.
	EventBuffer int
}

// HoldInvoiceWatcher polls registered hold invoices and reports when their
// HTLCs arrive. Acceptance of a swap's main invoice is the signal to start
// the onchain leg, acceptance of the prepay invoice unlocks the server
// lockup of reverse swaps that require one.
type HoldInvoiceWatcher struct {
	cfg HoldInvoiceWatcherConfig

	mu      sync.Mutex
	tracked map[string]*trackedInvoice

	events chan Event
}

// NewHoldInvoiceWatcher creates a hold invoice watcher.
func NewHoldInvoiceWatcher(cfg *HoldInvoiceWatcherConfig) *HoldInvoiceWatcher {
	w := &HoldInvoiceWatcher{
		cfg:     *cfg,
		tracked: make(map[string]*trackedInvoice),
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

// Events returns the channel acceptance events are delivered on.
func (w *HoldInvoiceWatcher) Events() <-chan Event {
	return w.events
}

// Watch registers the invoices of a swap for polling. A second registration
// for the same swap resets its reported state.
func (w *HoldInvoiceWatcher) Watch(reg InvoiceRegistration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tracked[reg.SwapID] = &trackedInvoice{reg: reg}
}

// Forget drops the registration of a swap.
func (w *HoldInvoiceWatcher) Forget(swapID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.tracked, swapID)
}

// Run polls the registered invoices until the context is cancelled.
func (w *HoldInvoiceWatcher) Run(ctx context.Context) error {
	w.cfg.Ticker.Resume()
	defer w.cfg.Ticker.Stop()

	for {
		select {
		case <-w.cfg.Ticker.Ticks():
			if err := w.poll(ctx); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// poll checks every registered invoice once and emits events for fresh
// acceptances. Lookup failures are retried on the next round.
func (w *HoldInvoiceWatcher) poll(ctx context.Context) error {
	w.mu.Lock()
	pending := make([]*trackedInvoice, 0, len(w.tracked))
	for _, tracked := range w.tracked {
		pending = append(pending, tracked)
	}
	w.mu.Unlock()

	for _, tracked := range pending {
		reg := tracked.reg

		client, err := w.cfg.Nodes.ForSwap(reg.Node)
		if err != nil {
			log.Warnf("Skipping invoices of swap %v: %v",
				reg.SwapID, err)
			continue
		}

		if !tracked.mainPaid {
			paid, err := w.checkAccepted(
				ctx, client, reg.PreimageHash,
			)
			switch {
			case err != nil:
				log.Warnf("Lookup of invoice of swap %v "+
					"failed: %v", reg.SwapID, err)

			case paid:
				tracked.mainPaid = true
				log.Debugf("Hold invoice of swap %v accepted",
					reg.SwapID)

				err := w.emit(ctx, &InvoicePaidEvent{
					SwapID: reg.SwapID,
				})
				if err != nil {
					return err
				}
			}
		}

		if reg.MinerFeeHash != nil && !tracked.feePaid {
			paid, err := w.checkAccepted(
				ctx, client, *reg.MinerFeeHash,
			)
			switch {
			case err != nil:
				log.Warnf("Lookup of miner fee invoice of "+
					"swap %v failed: %v", reg.SwapID, err)

			case paid:
				tracked.feePaid = true
				log.Debugf("Miner fee invoice of swap %v "+
					"accepted", reg.SwapID)

				err := w.emit(ctx, &MinerFeePaidEvent{
					SwapID: reg.SwapID,
				})
				if err != nil {
					return err
				}
			}
		}

		if tracked.done() {
			w.Forget(reg.SwapID)
		}
	}

	return nil
}

// checkAccepted reports whether the HTLCs of a hold invoice are held or
// already settled.
func (w *HoldInvoiceWatcher) checkAccepted(ctx context.Context,
	client Client, preimageHash lntypes.Hash) (bool, error) {

	status, err := RaceCall(
		ctx, w.cfg.CallTimeout,
		func(ctx context.Context) (*InvoiceStatus, error) {
			return client.LookupHoldInvoice(ctx, preimageHash)
		},
	)
	if err != nil {
		return false, err
	}

	accepted := status.State == InvoiceAccepted ||
		status.State == InvoiceSettled

	return accepted, nil
}

// emit hands an event to the consumer, blocking until it is taken.
func (w *HoldInvoiceWatcher) emit(ctx context.Context, event Event) error {
	select {
	case w.events <- event:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelReverseInvoices tears down the hold invoices of a reverse swap. The
// main invoice is always cancelled. The prepay miner fee invoice is
// cancelled as well when the teardown is for a failed send, refunding the
// payer. On every other teardown the prepay is settled with its stored
// preimage.
func CancelReverseInvoices(ctx context.Context, client Client,
	reverse *swapdb.Reverse, isSendFailure bool) error {

	err := client.CancelHoldInvoice(ctx, reverse.PreimageHash)
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		log.Debugf("Hold invoice of swap %v already gone", reverse.ID)

	case err != nil:
		return fmt.Errorf("cancel hold invoice: %w", err)
	}

	if reverse.MinerFeeInvoice == "" {
		return nil
	}

	if isSendFailure {
		preimageHash, err := minerFeeHash(ctx, client, reverse)
		if err != nil {
			return err
		}

		err = client.CancelHoldInvoice(ctx, preimageHash)
		switch {
		case errors.Is(err, ErrInvoiceNotFound):
			log.Debugf("Miner fee invoice of swap %v already "+
				"gone", reverse.ID)

		case err != nil:
			return fmt.Errorf("cancel miner fee invoice: %w", err)
		}

		return nil
	}

	if reverse.MinerFeeInvoicePreimage == nil {
		return fmt.Errorf("no miner fee invoice preimage for "+
			"swap %v", reverse.ID)
	}

	err = client.SettleHoldInvoice(ctx, *reverse.MinerFeeInvoicePreimage)
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		log.Debugf("Miner fee invoice of swap %v already gone",
			reverse.ID)

	case err != nil:
		return fmt.Errorf("settle miner fee invoice: %w", err)
	}

	return nil
}

// minerFeeHash resolves the payment hash of the prepay miner fee invoice,
// preferring the stored preimage over decoding the invoice.
func minerFeeHash(ctx context.Context, client Client,
	reverse *swapdb.Reverse) (lntypes.Hash, error) {

	if reverse.MinerFeeInvoicePreimage != nil {
		return reverse.MinerFeeInvoicePreimage.Hash(), nil
	}

	invoice, err := client.DecodeInvoice(ctx, reverse.MinerFeeInvoice)
	if err != nil {
		return lntypes.Hash{}, fmt.Errorf("decode miner fee "+
			"invoice: %w", err)
	}

	return invoice.PaymentHash, nil
}
