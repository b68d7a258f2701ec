package swapd

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// Event is a lifecycle update the nursery reports to its consumer, typically
// the API layer pushing updates to clients.
type Event interface {
	// ID returns the swap the event belongs to.
	ID() string

	swapEvent()
}

// TransactionEvent reports an observed or broadcast lockup transaction of a
// swap, both its mempool appearance and its confirmation.
type TransactionEvent struct {
	// SwapID is the swap the transaction belongs to.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// Status is the status the swap moved to.
	Status swapdb.Status

	// TxID is the lockup transaction id.
	TxID string

	// Confirmed is whether the transaction has a confirmation.
	Confirmed bool
}

// ZeroConfRejectedEvent reports an unconfirmed lockup that was not accepted
// under the zero conf policy. The swap recovers when the transaction
// confirms.
type ZeroConfRejectedEvent struct {
	// SwapID is the swap the lockup belongs to.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// TxID is the rejected lockup transaction id.
	TxID string

	// Reason is a human readable rejection reason.
	Reason string
}

// ClaimEvent reports a broadcast claim of a swap.
type ClaimEvent struct {
	// SwapID is the claimed swap.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// TxID is the claim transaction id.
	TxID string

	// MinerFee is the fee the claim paid, zero when it is not known yet.
	MinerFee btcutil.Amount
}

// ClaimPendingEvent reports that a claim was deferred into a batch and will
// be swept later.
type ClaimPendingEvent struct {
	// SwapID is the swap whose claim was deferred.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind
}

// ExpirationEvent reports a swap whose onchain HTLC timed out before it
// completed.
type ExpirationEvent struct {
	// SwapID is the expired swap.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind
}

// InvoiceExpiredEvent reports a reverse swap whose hold invoice expired
// before the user paid it.
type InvoiceExpiredEvent struct {
	// SwapID is the swap whose invoice expired.
	SwapID string
}

// InvoiceSettledEvent reports a reverse swap whose hold invoice was settled
// with the preimage the user revealed onchain.
type InvoiceSettledEvent struct {
	// SwapID is the settled swap.
	SwapID string
}

// CoinsSentEvent reports a broadcast server lockup.
type CoinsSentEvent struct {
	// SwapID is the swap the lockup belongs to.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// TxID is the lockup transaction id.
	TxID string

	// Amount is the locked up amount.
	Amount btcutil.Amount

	// MinerFee is the fee the lockup paid, zero when it is not known.
	MinerFee btcutil.Amount
}

// CoinsFailedToSendEvent reports a server lockup that could not be sent. The
// swap has failed and its invoices were cancelled.
type CoinsFailedToSendEvent struct {
	// SwapID is the failed swap.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// Reason is a human readable failure reason.
	Reason string
}

// LockupFailedEvent reports a user lockup that was rejected, for paying less
// than the expected amount or unacceptably more.
type LockupFailedEvent struct {
	// SwapID is the failed swap.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// TxID is the rejected lockup transaction id.
	TxID string

	// Reason is a human readable rejection reason.
	Reason string
}

// RefundEvent reports a broadcast refund of a server lockup.
type RefundEvent struct {
	// SwapID is the refunded swap.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// TxID is the refund transaction id.
	TxID string

	// MinerFee is the fee the refund paid, zero when it is not known.
	MinerFee btcutil.Amount
}

// MinerFeePaidEvent reports that the prepay miner fee invoice of a reverse
// swap was paid.
type MinerFeePaidEvent struct {
	// SwapID is the swap whose prepay invoice was paid.
	SwapID string
}

// ID returns the swap the event belongs to.
func (e TransactionEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e ZeroConfRejectedEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e ClaimEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e ClaimPendingEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e ExpirationEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e InvoiceExpiredEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e InvoiceSettledEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e CoinsSentEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e CoinsFailedToSendEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e LockupFailedEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e RefundEvent) ID() string { return e.SwapID }

// ID returns the swap the event belongs to.
func (e MinerFeePaidEvent) ID() string { return e.SwapID }

func (TransactionEvent) swapEvent()       {}
func (ZeroConfRejectedEvent) swapEvent()  {}
func (ClaimEvent) swapEvent()             {}
func (ClaimPendingEvent) swapEvent()      {}
func (ExpirationEvent) swapEvent()        {}
func (InvoiceExpiredEvent) swapEvent()    {}
func (InvoiceSettledEvent) swapEvent()    {}
func (CoinsSentEvent) swapEvent()         {}
func (CoinsFailedToSendEvent) swapEvent() {}
func (LockupFailedEvent) swapEvent()      {}
func (RefundEvent) swapEvent()            {}
func (MinerFeePaidEvent) swapEvent()      {}
