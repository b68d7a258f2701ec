package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/swap"
)

// defaultEventBuffer is the size of the watcher's outgoing event channel.
const defaultEventBuffer = 100

// OutputRegistration tracks a script a lockup is expected to pay to.
type OutputRegistration struct {
	// SwapID identifies the swap.
	SwapID string

	// Kind is the swap kind.
	Kind swap.Kind

	// PkScript is the lockup script to watch for.
	PkScript []byte

	// ExpectedAmount is the amount the lockup must at least pay. Zero
	// disables the check, used for our own lockups.
	ExpectedAmount btcutil.Amount

	// AcceptZeroConf allows acting on the lockup before it confirms,
	// subject to the zero-conf policy.
	AcceptZeroConf bool

	// ServerLockup marks the registration as watching our own lockup for
	// its confirmation instead of a counterparty lockup.
	ServerLockup bool
}

// InputRegistration tracks an outpoint the counterparty is expected to
// spend, revealing the preimage.
type InputRegistration struct {
	// SwapID identifies the swap.
	SwapID string

	// Kind is the swap kind.
	Kind swap.Kind

	// Outpoint is the lockup output to watch for spends of.
	Outpoint wire.OutPoint

	// PreimageHash is the hash the revealed preimage must match.
	PreimageHash lntypes.Hash
}

// ExpiryRegistration tracks a swap timeout height. It fires at most once.
type ExpiryRegistration struct {
	// SwapID identifies the swap.
	SwapID string

	// Kind is the swap kind.
	Kind swap.Kind

	// TimeoutBlockHeight is the height at which the swap's timelock
	// opens up.
	TimeoutBlockHeight int32
}

// WatcherConfig holds the dependencies of a Watcher.
type WatcherConfig struct {
	// Symbol is the ticker of the chain being watched, for logging and
	// event routing.
	Symbol string

	// Chain is the backend delivering transactions and blocks.
	Chain Client

	// Hook is consulted before a counterparty lockup is accepted.
	Hook LockupHook

	// ZeroConf decides whether unconfirmed lockups may be acted on.
	ZeroConf *ZeroConfAcceptor

	// Overpayment rejects lockups that overpay beyond tolerance.
	Overpayment *OverpaymentProtector

	// EventBuffer overrides the default event channel capacity.
	EventBuffer int
}

// Watcher scans the transaction and block streams of a single UTXO chain
// against the registered swap filters and emits swap events. Registrations
// may be added and removed from any goroutine, event evaluation itself is
// single threaded.
type Watcher struct {
	cfg WatcherConfig

	currentHeight uint32 // used atomically

	mu       sync.Mutex
	outputs  map[string]*OutputRegistration
	inputs   map[wire.OutPoint]*InputRegistration
	expiries map[string]*ExpiryRegistration

	events chan Event
}

// NewWatcher returns a watcher for the given chain backend.
func NewWatcher(cfg *WatcherConfig) *Watcher {
	buffer := cfg.EventBuffer
	if buffer == 0 {
		buffer = defaultEventBuffer
	}

	w := &Watcher{
		cfg:      *cfg,
		outputs:  make(map[string]*OutputRegistration),
		inputs:   make(map[wire.OutPoint]*InputRegistration),
		expiries: make(map[string]*ExpiryRegistration),
		events:   make(chan Event, buffer),
	}

	if w.cfg.Hook == nil {
		w.cfg.Hook = AcceptAllLockups{}
	}
	if w.cfg.ZeroConf == nil {
		w.cfg.ZeroConf = NewZeroConfAcceptor(0)
	}
	if w.cfg.Overpayment == nil {
		w.cfg.Overpayment = NewOverpaymentProtector()
	}

	return w
}

// Symbol returns the ticker of the watched chain.
func (w *Watcher) Symbol() string {
	return w.cfg.Symbol
}

// Events returns the stream of watcher events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Height returns the best block height seen so far.
func (w *Watcher) Height() int32 {
	return int32(atomic.LoadUint32(&w.currentHeight))
}

// WatchOutput registers a lockup script and installs the matching backend
// filter.
func (w *Watcher) WatchOutput(reg *OutputRegistration) {
	w.mu.Lock()
	w.outputs[hex.EncodeToString(reg.PkScript)] = reg
	w.mu.Unlock()

	w.cfg.Chain.AddOutputFilter(reg.PkScript)

	log.Debugf("Watching %v output for %v swap %v", w.cfg.Symbol,
		reg.Kind, reg.SwapID)
}

// WatchInput registers a lockup outpoint and installs the matching backend
// filter.
func (w *Watcher) WatchInput(reg *InputRegistration) {
	w.mu.Lock()
	w.inputs[reg.Outpoint] = reg
	w.mu.Unlock()

	w.cfg.Chain.AddInputFilter(reg.Outpoint)

	log.Debugf("Watching %v outpoint %v for %v swap %v", w.cfg.Symbol,
		reg.Outpoint, reg.Kind, reg.SwapID)
}

// WatchExpiry registers a swap timeout height.
func (w *Watcher) WatchExpiry(reg *ExpiryRegistration) {
	w.mu.Lock()
	w.expiries[reg.SwapID] = reg
	w.mu.Unlock()
}

// ForgetSwap drops all registrations of the given swap, backend filters
// included. Callers invoke this once a swap reached a terminal status.
func (w *Watcher) ForgetSwap(swapID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key, reg := range w.outputs {
		if reg.SwapID != swapID {
			continue
		}

		delete(w.outputs, key)
		w.cfg.Chain.RemoveOutputFilter(reg.PkScript)
	}

	for op, reg := range w.inputs {
		if reg.SwapID != swapID {
			continue
		}

		delete(w.inputs, op)
		w.cfg.Chain.RemoveInputFilter(op)
	}

	delete(w.expiries, swapID)
}

// Run starts the watcher event loop. It only returns when the context is
// cancelled or the backend streams close.
func (w *Watcher) Run(ctx context.Context) error {
	log.Infof("Starting %v chain watcher", w.cfg.Symbol)

	txChan := w.cfg.Chain.Transactions()
	blockChan := w.cfg.Chain.Blocks()

	for {
		select {
		case txEvent, ok := <-txChan:
			if !ok {
				return fmt.Errorf("%v transaction stream "+
					"closed", w.cfg.Symbol)
			}

			if err := w.handleTransaction(ctx, txEvent); err != nil {
				return err
			}

		case height, ok := <-blockChan:
			if !ok {
				return fmt.Errorf("%v block stream closed",
					w.cfg.Symbol)
			}

			if err := w.handleBlock(ctx, height); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleTransaction matches a relayed transaction against the output and
// input filters and emits the resulting events.
func (w *Watcher) handleTransaction(ctx context.Context,
	txEvent TxEvent) error {

	tx := txEvent.Tx
	txid := tx.TxHash().String()

	for vout, out := range tx.TxOut {
		w.mu.Lock()
		reg, ok := w.outputs[hex.EncodeToString(out.PkScript)]
		w.mu.Unlock()

		if !ok {
			continue
		}

		event := w.checkLockup(
			reg, tx, txid, uint32(vout),
			btcutil.Amount(out.Value), txEvent.Confirmed,
		)
		if event == nil {
			continue
		}

		// A confirmed server lockup is the last thing this output
		// filter can report, the claim watch happens on the input
		// side.
		if reg.ServerLockup && txEvent.Confirmed {
			w.mu.Lock()
			delete(w.outputs, hex.EncodeToString(out.PkScript))
			w.mu.Unlock()

			w.cfg.Chain.RemoveOutputFilter(reg.PkScript)
		}

		if err := w.emit(ctx, event); err != nil {
			return err
		}
	}

	for _, in := range tx.TxIn {
		w.mu.Lock()
		reg, ok := w.inputs[in.PreviousOutPoint]
		w.mu.Unlock()

		if !ok {
			continue
		}

		// The spend could also be our own refund, which carries no
		// preimage. Only a spend revealing the secret is a claim.
		preimage, err := ExtractPreimage(in, reg.PreimageHash)
		if err != nil {
			log.Debugf("Spend of %v swap %v outpoint %v without "+
				"preimage", reg.Kind, reg.SwapID,
				in.PreviousOutPoint)
			continue
		}

		log.Infof("Counterparty claimed %v swap %v in %v", reg.Kind,
			reg.SwapID, txid)

		err = w.emit(ctx, ClaimEvent{
			SwapID:    reg.SwapID,
			Kind:      reg.Kind,
			Preimage:  preimage,
			Tx:        tx,
			TxID:      txid,
			Confirmed: txEvent.Confirmed,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// checkLockup applies the amount, overpayment, hook and zero-conf policies
// to a transaction paying to a watched script and returns the event to
// emit, if any.
func (w *Watcher) checkLockup(reg *OutputRegistration, tx *wire.MsgTx,
	txid string, vout uint32, amount btcutil.Amount,
	confirmed bool) Event {

	// Our own lockups only need their confirmation reported.
	if reg.ServerLockup {
		if !confirmed {
			return nil
		}

		log.Infof("Server lockup of %v swap %v confirmed: %v",
			reg.Kind, reg.SwapID, txid)

		return LockupEvent{
			SwapID:       reg.SwapID,
			Kind:         reg.Kind,
			Tx:           tx,
			TxID:         txid,
			Vout:         vout,
			Amount:       amount,
			Confirmed:    true,
			ServerLockup: true,
		}
	}

	if reg.ExpectedAmount > 0 && amount < reg.ExpectedAmount {
		return LockupFailedEvent{
			SwapID: reg.SwapID,
			Kind:   reg.Kind,
			TxID:   txid,
			Reason: fmt.Sprintf("locked up %v instead of %v",
				amount, reg.ExpectedAmount),
		}
	}

	if w.cfg.Overpayment.IsUnacceptableOverpay(reg.ExpectedAmount, amount) {
		return LockupFailedEvent{
			SwapID: reg.SwapID,
			Kind:   reg.Kind,
			TxID:   txid,
			Reason: fmt.Sprintf("overpaid %v for an expected %v",
				amount, reg.ExpectedAmount),
		}
	}

	if ok, reason := w.cfg.Hook.ApproveLockup(reg.SwapID, tx); !ok {
		return LockupFailedEvent{
			SwapID: reg.SwapID,
			Kind:   reg.Kind,
			TxID:   txid,
			Reason: reason,
		}
	}

	// An acceptable lockup that we may not act on yet stays registered,
	// its confirmation will come through the same path.
	if !confirmed {
		if !reg.AcceptZeroConf {
			return ZeroConfRejectedEvent{
				SwapID: reg.SwapID,
				Kind:   reg.Kind,
				TxID:   txid,
				Reason: "0-conf disabled for swap",
			}
		}

		if ok, reason := w.cfg.ZeroConf.Accept(tx, amount); !ok {
			return ZeroConfRejectedEvent{
				SwapID: reg.SwapID,
				Kind:   reg.Kind,
				TxID:   txid,
				Reason: reason,
			}
		}
	}

	log.Infof("Found lockup of %v swap %v: %v:%v (confirmed=%v)",
		reg.Kind, reg.SwapID, txid, vout, confirmed)

	return LockupEvent{
		SwapID:    reg.SwapID,
		Kind:      reg.Kind,
		Tx:        tx,
		TxID:      txid,
		Vout:      vout,
		Amount:    amount,
		Confirmed: confirmed,
	}
}

// handleBlock records the new height and fires the expiry registrations it
// unlocks.
func (w *Watcher) handleBlock(ctx context.Context, height int32) error {
	atomic.StoreUint32(&w.currentHeight, uint32(height))

	w.mu.Lock()
	var expired []*ExpiryRegistration
	for id, reg := range w.expiries {
		if reg.TimeoutBlockHeight <= height {
			expired = append(expired, reg)
			delete(w.expiries, id)
		}
	}
	w.mu.Unlock()

	for _, reg := range expired {
		log.Infof("%v swap %v timed out at height %v", reg.Kind,
			reg.SwapID, height)

		err := w.emit(ctx, ExpiryEvent{
			SwapID: reg.SwapID,
			Kind:   reg.Kind,
			Height: height,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *Watcher) emit(ctx context.Context, event Event) error {
	select {
	case w.events <- event:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}
