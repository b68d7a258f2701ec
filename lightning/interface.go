package lightning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

var (
	// ErrInvoiceNotFound is returned by adapters when an invoice does not
	// exist on the node. Cancel paths treat it as already gone instead of
	// matching error strings.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrPaymentInFlight is returned by Pay when the payment outcome is
	// still undecided, either the deadline passed or the node ran out
	// of attempts without a permanent failure. Callers retry later
	// instead of failing the swap.
	ErrPaymentInFlight = errors.New("payment still in flight")
)

// PaymentFailedError is the permanent failure of a payment attempt.
type PaymentFailedError struct {
	// Reason is the failure reason the node reported.
	Reason lnrpc.PaymentFailureReason
}

// Error implements the error interface.
func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment failed: %v", e.Reason)
}

// InvoiceState is the lifecycle state of a hold invoice.
type InvoiceState uint8

const (
	// InvoiceOpen means no HTLC has arrived yet.
	InvoiceOpen InvoiceState = iota

	// InvoiceAccepted means the HTLCs are held, awaiting settle or
	// cancel.
	InvoiceAccepted

	// InvoiceSettled means the preimage was released and the HTLCs
	// settled.
	InvoiceSettled

	// InvoiceCancelled means the invoice was cancelled and the HTLCs
	// returned.
	InvoiceCancelled
)

// String returns the string representation of the invoice state.
func (s InvoiceState) String() string {
	switch s {
	case InvoiceOpen:
		return "open"

	case InvoiceAccepted:
		return "accepted"

	case InvoiceSettled:
		return "settled"

	case InvoiceCancelled:
		return "cancelled"

	default:
		return "unknown"
	}
}

// HtlcState is the state of a single HTLC of an invoice.
type HtlcState uint8

const (
	// HtlcAccepted means the HTLC is held.
	HtlcAccepted HtlcState = iota

	// HtlcSettled means the HTLC was settled with the preimage.
	HtlcSettled

	// HtlcCancelled means the HTLC was returned to the payer.
	HtlcCancelled
)

// Invoice is a decoded payment request.
type Invoice struct {
	// PaymentHash is the hash the payment preimage must match.
	PaymentHash lntypes.Hash

	// Amount is the invoice amount.
	Amount btcutil.Amount

	// AmountMsat is the invoice amount in millisatoshis.
	AmountMsat lnwire.MilliSatoshi

	// ExpiresAt is the wall clock time at which the invoice expires.
	ExpiresAt time.Time

	// Memo is the invoice description.
	Memo string
}

// InvoiceStatus is the current state of a hold invoice and its HTLCs.
type InvoiceStatus struct {
	// State is the invoice lifecycle state.
	State InvoiceState

	// Htlcs are the states of the individual HTLCs paying the invoice.
	Htlcs []HtlcState
}

// PayRequest describes a payment to dispatch.
type PayRequest struct {
	// Invoice is the payment request to pay.
	Invoice string

	// MaxFee is the routing fee limit.
	MaxFee btcutil.Amount

	// OutgoingChannel restricts the first hop, zero means any channel.
	OutgoingChannel uint64

	// Timeout bounds how long the node keeps trying payment attempts.
	Timeout time.Duration
}

// Client is a Lightning node the daemon can receive and dispatch payments
// on.
type Client interface {
	// Name identifies the node, used to pin swaps to a specific client.
	Name() string

	// DecodeInvoice decodes a payment request.
	DecodeInvoice(ctx context.Context, invoice string) (*Invoice, error)

	// AddHoldInvoice creates a hold invoice for the given hash and
	// returns the payment request.
	AddHoldInvoice(ctx context.Context, preimageHash lntypes.Hash,
		amount btcutil.Amount, expiry time.Duration, memo string) (
		string, error)

	// SettleHoldInvoice settles a held invoice with its preimage.
	SettleHoldInvoice(ctx context.Context,
		preimage lntypes.Preimage) error

	// CancelHoldInvoice cancels a hold invoice, returning its HTLCs to
	// the payer. Missing invoices yield ErrInvoiceNotFound.
	CancelHoldInvoice(ctx context.Context,
		preimageHash lntypes.Hash) error

	// LookupHoldInvoice returns the state of a hold invoice.
	LookupHoldInvoice(ctx context.Context, preimageHash lntypes.Hash) (
		*InvoiceStatus, error)

	// Pay dispatches a payment and blocks until it reaches a terminal
	// state. When the context or the request timeout fires first,
	// ErrPaymentInFlight is returned and the payment keeps going in the
	// background.
	Pay(ctx context.Context, req *PayRequest) (lntypes.Preimage, error)
}
