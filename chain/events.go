package chain

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/swap"
)

// Event is implemented by all notifications a Watcher emits.
type Event interface {
	watcherEvent()
}

// LockupEvent signals a transaction paying to a watched lockup script that
// passed all policy checks.
type LockupEvent struct {
	// SwapID identifies the swap the script belongs to.
	SwapID string

	// Kind is the swap kind the registration was made for.
	Kind swap.Kind

	// Tx is the lockup transaction.
	Tx *wire.MsgTx

	// TxID is the transaction id of Tx.
	TxID string

	// Vout is the output paying to the lockup script.
	Vout uint32

	// Amount is the value of that output.
	Amount btcutil.Amount

	// Confirmed is true when the transaction was seen in a block.
	Confirmed bool

	// ServerLockup is true when this is our own lockup confirming rather
	// than a counterparty lockup appearing.
	ServerLockup bool
}

// LockupFailedEvent signals a lockup that was rejected outright. The swap
// cannot proceed with this transaction.
type LockupFailedEvent struct {
	SwapID string
	Kind   swap.Kind

	// TxID identifies the offending transaction.
	TxID string

	// Reason is the policy decision in human readable form.
	Reason string
}

// ZeroConfRejectedEvent signals a lockup that is acceptable in itself but
// must not be acted on before it confirms. The watcher keeps the filter
// installed and re-evaluates on confirmation.
type ZeroConfRejectedEvent struct {
	SwapID string
	Kind   swap.Kind
	TxID   string
	Reason string
}

// ClaimEvent signals that the counterparty spent one of our lockups,
// revealing the preimage.
type ClaimEvent struct {
	SwapID string
	Kind   swap.Kind

	// Preimage is the secret recovered from the spending input.
	Preimage lntypes.Preimage

	// Tx is the spending transaction.
	Tx *wire.MsgTx

	// TxID is the transaction id of Tx.
	TxID string

	// Confirmed is true when the spend was seen in a block.
	Confirmed bool
}

// ExpiryEvent signals that the chain reached a swap's timeout height. Each
// expiry registration fires at most once.
type ExpiryEvent struct {
	SwapID string
	Kind   swap.Kind

	// Height is the block height that triggered the expiry.
	Height int32
}

func (LockupEvent) watcherEvent() {}

func (LockupFailedEvent) watcherEvent() {}

func (ZeroConfRejectedEvent) watcherEvent() {}

func (ClaimEvent) watcherEvent() {}

func (ExpiryEvent) watcherEvent() {}
