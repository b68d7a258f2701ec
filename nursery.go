package swapd

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/swapdhq/swapd/batch"
	"github.com/swapdhq/swapd/chain"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/lightning"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultEventBuffer is the capacity of the outgoing event channel.
	defaultEventBuffer = 100

	// lockupFeeConfTarget is the fee estimation target of server lockups.
	// The user waits for the lockup, so it should confirm quickly.
	lockupFeeConfTarget = 2

	// spendFeeConfTarget is the fee estimation target of claims and
	// refunds. Nothing races us for either spend path before the
	// timeout, claims through the preimage and refunds through the key.
	spendFeeConfTarget = 2

	// DefaultPaymentTimeout bounds a single invoice payment attempt.
	// Attempts that outlive it are abandoned to the retry timer.
	DefaultPaymentTimeout = time.Minute

	// DefaultRefundConfTarget is the confirmation count at which a
	// broadcast refund counts as final.
	DefaultRefundConfTarget = 1

	// DefaultMaxRoutingFeeBase is the default base limit for invoice
	// payment routing fees.
	DefaultMaxRoutingFeeBase = btcutil.Amount(10)

	// DefaultMaxRoutingFeeRate is the default proportional limit for
	// invoice payment routing fees, in parts per million.
	DefaultMaxRoutingFeeRate = int64(20_000)
)

// Config bundles the dependencies of the nursery.
type Config struct {
	// Store persists all swap state.
	Store *swapdb.Store

	// Currencies is the registry of configured currencies.
	Currencies *CurrencySet

	// Nodes are the candidate Lightning nodes.
	Nodes *lightning.NodeSwitch

	// HoldInvoices reports the accepted hold invoices of reverse swaps.
	HoldInvoices *lightning.HoldInvoiceWatcher

	// InvoiceExpiries reports hold invoices that expired unpaid.
	InvoiceExpiries *lightning.InvoiceExpiryWatcher

	// Claimer decides which claims are deferred into batches. Defaults
	// to claiming everything immediately.
	Claimer batch.Claimer

	// Notifier receives operator facing failure notifications. Defaults
	// to the log.
	Notifier Notifier

	// Rates freezes the rate of submarine swaps whose lockup arrives
	// before an invoice. Optional.
	Rates RateProvider

	// Opener opens the channels submarine swaps request. Optional, swaps
	// with a channel creation fail without one.
	Opener ChannelOpener

	// RetryTicker signals the settle retry rounds. Nil disables them.
	RetryTicker *ticker.Force

	// RefundTicker signals the refund confirmation scans. Nil disables
	// them.
	RefundTicker *ticker.Force

	// RefundConfTarget is the confirmation count at which a refund
	// counts as final.
	RefundConfTarget uint32

	// CallTimeout bounds the individual Lightning node calls.
	CallTimeout time.Duration

	// PaymentTimeout bounds a single invoice payment attempt.
	PaymentTimeout time.Duration

	// MaxRoutingFeeBase is the base limit for invoice payment routing
	// fees.
	MaxRoutingFeeBase btcutil.Amount

	// MaxRoutingFeeRate is the proportional limit for invoice payment
	// routing fees, in parts per million.
	MaxRoutingFeeRate int64

	// MaxPendingTasks overrides the capacity of the category queues.
	MaxPendingTasks int

	// EventBuffer overrides the capacity of the event channel.
	EventBuffer int
}

// Nursery drives every registered swap from creation to a terminal status.
// It consumes the watcher event streams, hands each event to the task queue
// of its swap kind and owns all state transitions, so that no two handlers
// of the same kind ever run concurrently.
type Nursery struct {
	cfg Config

	swapQueue    *serialQueue
	reverseQueue *serialQueue
	chainQueue   *serialQueue

	// reverseReady marks reverse swaps whose main hold invoice was
	// accepted. Only reverse queue handlers touch it, rebuilt from the
	// invoice watcher after a restart.
	reverseReady map[string]struct{}

	// retryRunning is set while a settle retry round is queued or
	// running, overlapping rounds are skipped.
	retryRunning atomic.Bool

	events chan Event
}

// New creates a nursery. Run must be called before swaps make progress.
func New(cfg *Config) *Nursery {
	n := &Nursery{
		cfg:          *cfg,
		reverseReady: make(map[string]struct{}),
	}

	if n.cfg.Claimer == nil {
		n.cfg.Claimer = batch.NoDefer{}
	}
	if n.cfg.Notifier == nil {
		n.cfg.Notifier = LogNotifier{}
	}
	if n.cfg.RefundConfTarget == 0 {
		n.cfg.RefundConfTarget = DefaultRefundConfTarget
	}
	if n.cfg.CallTimeout == 0 {
		n.cfg.CallTimeout = lightning.DefaultCallTimeout
	}
	if n.cfg.PaymentTimeout == 0 {
		n.cfg.PaymentTimeout = DefaultPaymentTimeout
	}
	if n.cfg.MaxRoutingFeeBase == 0 {
		n.cfg.MaxRoutingFeeBase = DefaultMaxRoutingFeeBase
	}
	if n.cfg.MaxRoutingFeeRate == 0 {
		n.cfg.MaxRoutingFeeRate = DefaultMaxRoutingFeeRate
	}

	n.swapQueue = newSerialQueue(
		queueName(swap.KindSubmarine), n.cfg.MaxPendingTasks,
	)
	n.reverseQueue = newSerialQueue(
		queueName(swap.KindReverse), n.cfg.MaxPendingTasks,
	)
	n.chainQueue = newSerialQueue(
		queueName(swap.KindChain), n.cfg.MaxPendingTasks,
	)

	buffer := n.cfg.EventBuffer
	if buffer == 0 {
		buffer = defaultEventBuffer
	}
	n.events = make(chan Event, buffer)

	return n
}

// Events returns the channel lifecycle events are delivered on. The consumer
// must keep reading it, handlers block on a full channel.
func (n *Nursery) Events() <-chan Event {
	return n.events
}

// Run resumes the pending swaps from the store and processes watcher events
// until the context is cancelled. The watchers themselves are run by the
// caller, the nursery only consumes their streams.
func (n *Nursery) Run(ctx context.Context) error {
	log.Infof("Starting swap nursery")

	if err := n.resume(ctx); err != nil {
		return fmt.Errorf("resume pending swaps: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return n.swapQueue.run(ctx, n.notify) })
	eg.Go(func() error { return n.reverseQueue.run(ctx, n.notify) })
	eg.Go(func() error { return n.chainQueue.run(ctx, n.notify) })

	for _, currency := range n.cfg.Currencies.UtxoCurrencies() {
		watcher := currency.Watcher
		eg.Go(func() error {
			return n.dispatchChainEvents(ctx, watcher)
		})
	}

	for _, manager := range n.cfg.Currencies.EvmManagers() {
		watcher := manager.Watcher
		eg.Go(func() error {
			return n.dispatchEvmEvents(ctx, watcher)
		})
	}

	eg.Go(func() error { return n.dispatchInvoiceEvents(ctx) })

	if n.cfg.RetryTicker != nil {
		eg.Go(func() error { return n.runRetry(ctx) })
	}
	if n.cfg.RefundTicker != nil {
		eg.Go(func() error { return n.runRefundWatcher(ctx) })
	}

	return eg.Wait()
}

// RegisterSubmarine persists a new submarine swap and starts watching for
// its user lockup.
func (n *Nursery) RegisterSubmarine(ctx context.Context,
	sub *swapdb.Submarine) error {

	if err := n.cfg.Store.CreateSubmarine(ctx, sub); err != nil {
		return err
	}

	log.Infof("Registered submarine swap %v on %v", sub.ID,
		sub.ChainSymbol())

	return n.armSubmarine(sub)
}

// RegisterReverse persists a new reverse swap and starts watching its hold
// invoices.
func (n *Nursery) RegisterReverse(ctx context.Context,
	rev *swapdb.Reverse) error {

	if err := n.cfg.Store.CreateReverse(ctx, rev); err != nil {
		return err
	}

	log.Infof("Registered reverse swap %v on %v", rev.ID,
		rev.ChainSymbol())

	return n.armReverse(ctx, rev)
}

// RegisterChain persists a new chain swap and starts watching for its user
// lockup.
func (n *Nursery) RegisterChain(ctx context.Context, c *swapdb.Chain) error {
	if err := n.cfg.Store.CreateChain(ctx, c); err != nil {
		return err
	}

	log.Infof("Registered chain swap %v, %v to %v", c.ID,
		c.Receiving.Symbol, c.Sending.Symbol)

	return n.armChain(c)
}

// armSubmarine installs the watches of a submarine swap: the user lockup and
// the onchain timeout.
func (n *Nursery) armSubmarine(sub *swapdb.Submarine) error {
	currency, err := n.cfg.Currencies.Get(sub.ChainSymbol())
	if err != nil {
		return err
	}

	if !currency.Type.IsUtxoBased() {
		currency.EVM.Watcher.WatchLockup(&evm.LockupRegistration{
			SwapID:       sub.ID,
			Kind:         swap.KindSubmarine,
			PreimageHash: sub.PreimageHash,
		})
		currency.EVM.Watcher.WatchExpiry(&evm.ExpiryRegistration{
			SwapID: sub.ID,
			Kind:   swap.KindSubmarine,
			TimeoutBlockHeight: uint64(
				sub.TimeoutBlockHeight,
			),
		})

		return nil
	}

	pkScript, err := currency.Wallet.DecodeAddress(sub.LockupAddress)
	if err != nil {
		return fmt.Errorf("decode lockup address of %v: %w", sub.ID,
			err)
	}

	currency.Watcher.WatchOutput(&chain.OutputRegistration{
		SwapID:         sub.ID,
		Kind:           swap.KindSubmarine,
		PkScript:       pkScript,
		ExpectedAmount: sub.ExpectedAmount,
		AcceptZeroConf: sub.AcceptZeroConf,
	})
	currency.Watcher.WatchExpiry(&chain.ExpiryRegistration{
		SwapID:             sub.ID,
		Kind:               swap.KindSubmarine,
		TimeoutBlockHeight: sub.TimeoutBlockHeight,
	})

	return nil
}

// armReverse installs the watches of a reverse swap: hold invoice
// acceptance, invoice expiry and the onchain timeout. Swaps that already
// locked up additionally watch for the user claim.
func (n *Nursery) armReverse(ctx context.Context, rev *swapdb.Reverse) error {
	client, err := n.cfg.Nodes.ForSwap(rev.Node)
	if err != nil {
		return err
	}

	var feeHash *lntypes.Hash
	if rev.MinerFeeInvoice != "" {
		decoded, err := lightning.RaceCall(
			ctx, n.cfg.CallTimeout,
			func(ctx context.Context) (*lightning.Invoice, error) {
				return client.DecodeInvoice(
					ctx, rev.MinerFeeInvoice,
				)
			},
		)
		if err != nil {
			return fmt.Errorf("decode prepay invoice of %v: %w",
				rev.ID, err)
		}

		feeHash = &decoded.PaymentHash
	}

	n.cfg.HoldInvoices.Watch(lightning.InvoiceRegistration{
		SwapID:       rev.ID,
		Node:         rev.Node,
		PreimageHash: rev.PreimageHash,
		MinerFeeHash: feeHash,
	})

	decoded, err := lightning.RaceCall(
		ctx, n.cfg.CallTimeout,
		func(ctx context.Context) (*lightning.Invoice, error) {
			return client.DecodeInvoice(ctx, rev.Invoice)
		},
	)
	if err != nil {
		return fmt.Errorf("decode invoice of %v: %w", rev.ID, err)
	}

	n.cfg.InvoiceExpiries.Watch(lightning.ExpiryRegistration{
		SwapID:       rev.ID,
		Node:         rev.Node,
		PreimageHash: rev.PreimageHash,
		ExpiresAt:    decoded.ExpiresAt,
	})

	currency, err := n.cfg.Currencies.Get(rev.ChainSymbol())
	if err != nil {
		return err
	}

	if currency.Type.IsUtxoBased() {
		currency.Watcher.WatchExpiry(&chain.ExpiryRegistration{
			SwapID:             rev.ID,
			Kind:               swap.KindReverse,
			TimeoutBlockHeight: rev.TimeoutBlockHeight,
		})
	} else {
		currency.EVM.Watcher.WatchExpiry(&evm.ExpiryRegistration{
			SwapID: rev.ID,
			Kind:   swap.KindReverse,
			TimeoutBlockHeight: uint64(
				rev.TimeoutBlockHeight,
			),
		})
	}

	if rev.TransactionID != "" {
		err := n.armReverseLockup(currency, rev)
		if err != nil {
			return err
		}
	}

	return nil
}

// armReverseLockup installs the claim watch of a broadcast server lockup
// and, while it is unconfirmed, its confirmation watch.
func (n *Nursery) armReverseLockup(currency *Currency,
	rev *swapdb.Reverse) error {

	unconfirmed := rev.Status == swapdb.StatusTransactionMempool

	if !currency.Type.IsUtxoBased() {
		currency.EVM.Watcher.WatchClaim(&evm.ClaimRegistration{
			SwapID:       rev.ID,
			Kind:         swap.KindReverse,
			PreimageHash: rev.PreimageHash,
		})

		if unconfirmed {
			currency.EVM.Watcher.WatchLockup(
				&evm.LockupRegistration{
					SwapID:       rev.ID,
					Kind:         swap.KindReverse,
					PreimageHash: rev.PreimageHash,
					ServerLockup: true,
				},
			)
		}

		return nil
	}

	outpoint, err := lockupOutpoint(
		rev.TransactionID, rev.TransactionVout,
	)
	if err != nil {
		return err
	}

	currency.Watcher.WatchInput(&chain.InputRegistration{
		SwapID:       rev.ID,
		Kind:         swap.KindReverse,
		Outpoint:     *outpoint,
		PreimageHash: rev.PreimageHash,
	})

	if unconfirmed {
		pkScript, err := currency.Wallet.DecodeAddress(
			rev.LockupAddress,
		)
		if err != nil {
			return err
		}

		currency.Watcher.WatchOutput(&chain.OutputRegistration{
			SwapID:       rev.ID,
			Kind:         swap.KindReverse,
			PkScript:     pkScript,
			ServerLockup: true,
		})
	}

	return nil
}

// armChain installs the watches of a chain swap according to how far it got:
// the user lockup while we wait for it, the claim watch once our own lockup
// is out.
func (n *Nursery) armChain(c *swapdb.Chain) error {
	receiving, err := n.cfg.Currencies.Get(c.Receiving.Symbol)
	if err != nil {
		return err
	}

	if receiving.Type.IsUtxoBased() {
		pkScript, err := receiving.Wallet.DecodeAddress(
			c.Receiving.LockupAddress,
		)
		if err != nil {
			return fmt.Errorf("decode lockup address of %v: %w",
				c.ID, err)
		}

		receiving.Watcher.WatchOutput(&chain.OutputRegistration{
			SwapID:         c.ID,
			Kind:           swap.KindChain,
			PkScript:       pkScript,
			ExpectedAmount: c.Receiving.ExpectedAmount,
			AcceptZeroConf: c.AcceptZeroConf,
		})
		receiving.Watcher.WatchExpiry(&chain.ExpiryRegistration{
			SwapID:             c.ID,
			Kind:               swap.KindChain,
			TimeoutBlockHeight: c.Receiving.TimeoutBlockHeight,
		})
	} else {
		receiving.EVM.Watcher.WatchLockup(&evm.LockupRegistration{
			SwapID:       c.ID,
			Kind:         swap.KindChain,
			PreimageHash: c.PreimageHash,
		})
		receiving.EVM.Watcher.WatchExpiry(&evm.ExpiryRegistration{
			SwapID: c.ID,
			Kind:   swap.KindChain,
			TimeoutBlockHeight: uint64(
				c.Receiving.TimeoutBlockHeight,
			),
		})
	}

	if c.Sending.TransactionID != "" {
		return n.armChainLockup(c)
	}

	return nil
}

// armChainLockup installs the claim watch of the broadcast server lockup of
// a chain swap, its confirmation watch while unconfirmed, and the sending
// side timeout driving the refund.
func (n *Nursery) armChainLockup(c *swapdb.Chain) error {
	sending, err := n.cfg.Currencies.Get(c.Sending.Symbol)
	if err != nil {
		return err
	}

	unconfirmed := c.Status == swapdb.StatusTransactionServerMempool

	if !sending.Type.IsUtxoBased() {
		sending.EVM.Watcher.WatchClaim(&evm.ClaimRegistration{
			SwapID:       c.ID,
			Kind:         swap.KindChain,
			PreimageHash: c.PreimageHash,
		})

		if unconfirmed {
			sending.EVM.Watcher.WatchLockup(
				&evm.LockupRegistration{
					SwapID:       c.ID,
					Kind:         swap.KindChain,
					PreimageHash: c.PreimageHash,
					ServerLockup: true,
				},
			)
		}

		sending.EVM.Watcher.WatchExpiry(&evm.ExpiryRegistration{
			SwapID: c.ID,
			Kind:   swap.KindChain,
			TimeoutBlockHeight: uint64(
				c.Sending.TimeoutBlockHeight,
			),
		})

		return nil
	}

	outpoint, err := lockupOutpoint(
		c.Sending.TransactionID, c.Sending.TransactionVout,
	)
	if err != nil {
		return err
	}

	sending.Watcher.WatchInput(&chain.InputRegistration{
		SwapID:       c.ID,
		Kind:         swap.KindChain,
		Outpoint:     *outpoint,
		PreimageHash: c.PreimageHash,
	})

	if unconfirmed {
		pkScript, err := sending.Wallet.DecodeAddress(
			c.Sending.LockupAddress,
		)
		if err != nil {
			return err
		}

		sending.Watcher.WatchOutput(&chain.OutputRegistration{
			SwapID:       c.ID,
			Kind:         swap.KindChain,
			PkScript:     pkScript,
			ServerLockup: true,
		})
	}

	sending.Watcher.WatchExpiry(&chain.ExpiryRegistration{
		SwapID:             c.ID,
		Kind:               swap.KindChain,
		TimeoutBlockHeight: c.Sending.TimeoutBlockHeight,
	})

	return nil
}

// resume re-arms the watches of every pending swap and re-drives the ones
// whose next step does not depend on a new event.
func (n *Nursery) resume(ctx context.Context) error {
	subs, err := n.cfg.Store.PendingSubmarines(ctx)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := n.resumeSubmarine(ctx, sub); err != nil {
			return err
		}
	}

	reverses, err := n.cfg.Store.PendingReverses(ctx)
	if err != nil {
		return err
	}

	for _, rev := range reverses {
		if err := n.resumeReverse(ctx, rev); err != nil {
			return err
		}
	}

	chains, err := n.cfg.Store.PendingChains(ctx)
	if err != nil {
		return err
	}

	for _, c := range chains {
		if err := n.resumeChain(ctx, c); err != nil {
			return err
		}
	}

	log.Infof("Resumed %v submarine, %v reverse and %v chain swaps",
		len(subs), len(reverses), len(chains))

	return nil
}

// resumeSubmarine re-arms one pending submarine swap. Swaps that were
// interrupted after their lockup arrived do not get a new lockup event, so
// their settle attempt is queued right away.
func (n *Nursery) resumeSubmarine(ctx context.Context,
	sub *swapdb.Submarine) error {

	if err := n.armSubmarine(sub); err != nil {
		return err
	}

	switch sub.Status {
	case swapdb.StatusTransactionMempool,
		swapdb.StatusTransactionConfirmed,
		swapdb.StatusInvoicePending, swapdb.StatusInvoicePaid:

		if sub.Invoice == "" {
			return nil
		}

		id := sub.ID
		return n.swapQueue.submit(
			ctx, id, "resume settle",
			func(ctx context.Context) error {
				return n.attemptSettleSubmarine(ctx, id)
			},
		)

	case swapdb.StatusTransactionClaimPending:
		return n.swapQueue.submit(
			ctx, sub.ID, "resume claim",
			func(ctx context.Context) error {
				return n.reofferSubmarineClaim(ctx, sub.ID)
			},
		)
	}

	return nil
}

// resumeReverse re-arms one pending reverse swap. A swap whose lockup was
// already claimed onchain has the preimage stored, its interrupted invoice
// settle is replayed right away.
func (n *Nursery) resumeReverse(ctx context.Context,
	rev *swapdb.Reverse) error {

	if err := n.armReverse(ctx, rev); err != nil {
		return err
	}

	if rev.Preimage == nil || rev.TransactionID == "" {
		return nil
	}

	id, preimage := rev.ID, *rev.Preimage
	return n.reverseQueue.submit(
		ctx, id, "resume settle",
		func(ctx context.Context) error {
			return n.handleReverseClaim(ctx, id, preimage)
		},
	)
}

// resumeChain re-arms one pending chain swap. A swap interrupted between the
// confirmed user lockup and our own lockup is re-driven, one with a deferred
// claim is re-offered to the claimer.
func (n *Nursery) resumeChain(ctx context.Context, c *swapdb.Chain) error {
	if err := n.armChain(c); err != nil {
		return err
	}

	switch c.Status {
	case swapdb.StatusTransactionConfirmed:
		id := c.ID
		return n.chainQueue.submit(
			ctx, id, "resume lockup",
			func(ctx context.Context) error {
				return n.lockupChainSwap(ctx, id)
			},
		)

	case swapdb.StatusTransactionServerMempool,
		swapdb.StatusTransactionServerConfirmed:

		if c.Preimage == nil {
			return nil
		}

		id, preimage := c.ID, *c.Preimage
		return n.chainQueue.submit(
			ctx, id, "resume claim",
			func(ctx context.Context) error {
				return n.handleChainClaim(ctx, id, preimage)
			},
		)

	case swapdb.StatusTransactionClaimPending:
		return n.chainQueue.submit(
			ctx, c.ID, "resume claim",
			func(ctx context.Context) error {
				return n.reofferChainClaim(ctx, c.ID)
			},
		)
	}

	return nil
}

// dispatchChainEvents routes the events of one UTXO watcher to the category
// queues. Submission blocks while a queue is full, slowing the watcher down
// instead of dropping events.
func (n *Nursery) dispatchChainEvents(ctx context.Context,
	w *chain.Watcher) error {

	for {
		select {
		case event := <-w.Events():
			err := n.routeChainEvent(ctx, w.Symbol(), event)
			if err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// routeChainEvent submits the handler of one UTXO watcher event to the queue
// of its swap kind.
func (n *Nursery) routeChainEvent(ctx context.Context, symbol string,
	event chain.Event) error {

	switch e := event.(type) {
	case chain.LockupEvent:
		switch {
		case e.Kind == swap.KindSubmarine:
			return n.swapQueue.submit(
				ctx, e.SwapID, "lockup",
				func(ctx context.Context) error {
					return n.handleSubmarineLockup(ctx, e)
				},
			)

		case e.Kind == swap.KindReverse:
			return n.reverseQueue.submit(
				ctx, e.SwapID, "lockup confirmed",
				func(ctx context.Context) error {
					return n.handleReverseLockupConfirmed(
						ctx, e.SwapID, e.TxID,
					)
				},
			)

		case e.ServerLockup:
			return n.chainQueue.submit(
				ctx, e.SwapID, "lockup confirmed",
				func(ctx context.Context) error {
					return n.handleChainServerConfirmed(
						ctx, e.SwapID, e.TxID,
					)
				},
			)

		default:
			return n.chainQueue.submit(
				ctx, e.SwapID, "lockup",
				func(ctx context.Context) error {
					return n.handleChainUserLockup(ctx, e)
				},
			)
		}

	case chain.LockupFailedEvent:
		return n.kindQueue(e.Kind).submit(
			ctx, e.SwapID, "lockup failed",
			func(ctx context.Context) error {
				return n.handleLockupFailed(
					ctx, e.Kind, e.SwapID, e.TxID,
					e.Reason,
				)
			},
		)

	case chain.ZeroConfRejectedEvent:
		return n.kindQueue(e.Kind).submit(
			ctx, e.SwapID, "zero conf rejected",
			func(ctx context.Context) error {
				return n.handleZeroConfRejected(
					ctx, e.Kind, e.SwapID, e.TxID,
					e.Reason,
				)
			},
		)

	case chain.ClaimEvent:
		if e.Kind == swap.KindReverse {
			return n.reverseQueue.submit(
				ctx, e.SwapID, "claim",
				func(ctx context.Context) error {
					return n.handleReverseClaim(
						ctx, e.SwapID, e.Preimage,
					)
				},
			)
		}

		return n.chainQueue.submit(
			ctx, e.SwapID, "claim",
			func(ctx context.Context) error {
				return n.handleChainClaim(
					ctx, e.SwapID, e.Preimage,
				)
			},
		)

	case chain.ExpiryEvent:
		return n.routeExpiry(ctx, e.Kind, e.SwapID)

	default:
		log.Debugf("Ignoring %v event %T", symbol, event)
		return nil
	}
}

// dispatchEvmEvents routes the events of one contract watcher to the
// category queues.
func (n *Nursery) dispatchEvmEvents(ctx context.Context,
	w *evm.Watcher) error {

	for {
		select {
		case event := <-w.Events():
			err := n.routeEvmEvent(ctx, w.Symbol(), event)
			if err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// routeEvmEvent submits the handler of one contract watcher event to the
// queue of its swap kind.
func (n *Nursery) routeEvmEvent(ctx context.Context, symbol string,
	event evm.Event) error {

	switch e := event.(type) {
	case evm.LockupEvent:
		if e.Kind == swap.KindSubmarine {
			return n.swapQueue.submit(
				ctx, e.SwapID, "lockup",
				func(ctx context.Context) error {
					return n.handleSubmarineEvmLockup(
						ctx, e,
					)
				},
			)
		}

		return n.chainQueue.submit(
			ctx, e.SwapID, "lockup",
			func(ctx context.Context) error {
				return n.handleChainEvmLockup(ctx, e)
			},
		)

	case evm.LockupConfirmedEvent:
		if e.Kind == swap.KindReverse {
			return n.reverseQueue.submit(
				ctx, e.SwapID, "lockup confirmed",
				func(ctx context.Context) error {
					return n.handleReverseLockupConfirmed(
						ctx, e.SwapID, e.TxHash.Hex(),
					)
				},
			)
		}

		return n.chainQueue.submit(
			ctx, e.SwapID, "lockup confirmed",
			func(ctx context.Context) error {
				return n.handleChainServerConfirmed(
					ctx, e.SwapID, e.TxHash.Hex(),
				)
			},
		)

	case evm.ClaimEvent:
		if e.Kind == swap.KindReverse {
			return n.reverseQueue.submit(
				ctx, e.SwapID, "claim",
				func(ctx context.Context) error {
					return n.handleReverseClaim(
						ctx, e.SwapID, e.Preimage,
					)
				},
			)
		}

		return n.chainQueue.submit(
			ctx, e.SwapID, "claim",
			func(ctx context.Context) error {
				return n.handleChainClaim(
					ctx, e.SwapID, e.Preimage,
				)
			},
		)

	case evm.RefundEvent:
		// Our own refunds are already handled when they broadcast,
		// and a counterparty refunding their lockup only returns
		// their own funds.
		log.Debugf("Refund log for %v swap %v: %v", e.Kind, e.SwapID,
			e.TxHash)
		return nil

	case evm.ExpiryEvent:
		return n.routeExpiry(ctx, e.Kind, e.SwapID)

	default:
		log.Debugf("Ignoring %v event %T", symbol, event)
		return nil
	}
}

// routeExpiry submits the timeout handler of a swap to the queue of its
// kind.
func (n *Nursery) routeExpiry(ctx context.Context, kind swap.Kind,
	swapID string) error {

	switch kind {
	case swap.KindSubmarine:
		return n.swapQueue.submit(
			ctx, swapID, "expiry",
			func(ctx context.Context) error {
				return n.handleSubmarineExpiry(ctx, swapID)
			},
		)

	case swap.KindReverse:
		return n.reverseQueue.submit(
			ctx, swapID, "expiry",
			func(ctx context.Context) error {
				return n.handleReverseExpiry(ctx, swapID)
			},
		)

	default:
		return n.chainQueue.submit(
			ctx, swapID, "expiry",
			func(ctx context.Context) error {
				return n.handleChainExpiry(ctx, swapID)
			},
		)
	}
}

// dispatchInvoiceEvents routes hold invoice acceptance and expiry events to
// the reverse queue.
func (n *Nursery) dispatchInvoiceEvents(ctx context.Context) error {
	accepted := n.cfg.HoldInvoices.Events()
	expired := n.cfg.InvoiceExpiries.Events()

	for {
		var event lightning.Event

		select {
		case event = <-accepted:
		case event = <-expired:
		case <-ctx.Done():
			return ctx.Err()
		}

		var err error
		switch e := event.(type) {
		case *lightning.InvoicePaidEvent:
			err = n.reverseQueue.submit(
				ctx, e.SwapID, "invoice paid",
				func(ctx context.Context) error {
					return n.handleReverseInvoicePaid(
						ctx, e.SwapID,
					)
				},
			)

		case *lightning.MinerFeePaidEvent:
			err = n.reverseQueue.submit(
				ctx, e.SwapID, "prepay paid",
				func(ctx context.Context) error {
					return n.handleReverseMinerFeePaid(
						ctx, e.SwapID,
					)
				},
			)

		case *lightning.InvoiceExpiredEvent:
			err = n.reverseQueue.submit(
				ctx, e.SwapID, "invoice expired",
				func(ctx context.Context) error {
					return n.handleReverseInvoiceExpired(
						ctx, e.SwapID,
					)
				},
			)

		default:
			log.Debugf("Ignoring invoice event %T", event)
		}
		if err != nil {
			return err
		}
	}
}

// kindQueue returns the task queue owning the given swap kind.
func (n *Nursery) kindQueue(kind swap.Kind) *serialQueue {
	switch kind {
	case swap.KindSubmarine:
		return n.swapQueue

	case swap.KindReverse:
		return n.reverseQueue

	default:
		return n.chainQueue
	}
}

// emit hands an event to the consumer, blocking until it is taken.
func (n *Nursery) emit(ctx context.Context, event Event) error {
	select {
	case n.events <- event:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify reports a failure to the configured notifier.
func (n *Nursery) notify(ctx context.Context, swapID, message string) {
	n.cfg.Notifier.Notify(ctx, swapID, message)
}

// nodeFor resolves the Lightning client a swap is pinned to.
func (n *Nursery) nodeFor(node string) (lightning.Client, error) {
	return n.cfg.Nodes.ForSwap(node)
}

// lockupOutpoint parses the stored lockup coordinates of a swap.
func lockupOutpoint(txid string, vout uint32) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("parse lockup txid %v: %w", txid, err)
	}

	return wire.NewOutPoint(hash, vout), nil
}
