package lightning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/channeldb"
	"github.com/lightningnetwork/lnd/invoices"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

// defaultMaxParts is the maximum number of parts a dispatched payment may
// be split into.
const defaultMaxParts = uint32(5)

// LndClient implements Client on top of an lnd node reached through
// lndclient.
type LndClient struct {
	name string
	lnd  *lndclient.LndServices
}

// A compile time check that LndClient implements Client.
var _ Client = (*LndClient)(nil)

// NewLndClient wraps the given lnd services as a swap Lightning client.
func NewLndClient(name string, lnd *lndclient.LndServices) *LndClient {
	return &LndClient{
		name: name,
		lnd:  lnd,
	}
}

// Name identifies the node.
func (c *LndClient) Name() string {
	return c.name
}

// DecodeInvoice decodes a payment request against the node's chain
// parameters.
func (c *LndClient) DecodeInvoice(_ context.Context, invoice string) (
	*Invoice, error) {

	payReq, err := zpay32.Decode(invoice, c.lnd.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("decode payment request: %w", err)
	}

	if payReq.PaymentHash == nil {
		return nil, fmt.Errorf("no payment hash in invoice")
	}

	decoded := &Invoice{
		PaymentHash: lntypes.Hash(*payReq.PaymentHash),
		ExpiresAt:   payReq.Timestamp.Add(payReq.Expiry()),
	}

	if payReq.MilliSat != nil {
		decoded.AmountMsat = *payReq.MilliSat
		decoded.Amount = payReq.MilliSat.ToSatoshis()
	}

	if payReq.Description != nil {
		decoded.Memo = *payReq.Description
	}

	return decoded, nil
}

// AddHoldInvoice creates a hold invoice for the given hash.
func (c *LndClient) AddHoldInvoice(ctx context.Context,
	preimageHash lntypes.Hash, amount btcutil.Amount,
	expiry time.Duration, memo string) (string, error) {

	invoice, err := c.lnd.Invoices.AddHoldInvoice(
		ctx, &invoicesrpc.AddInvoiceData{
			Hash:   &preimageHash,
			Value:  lnwire.NewMSatFromSatoshis(amount),
			Memo:   memo,
			Expiry: int64(expiry.Seconds()),
		},
	)
	if err != nil {
		return "", fmt.Errorf("add hold invoice: %w", err)
	}

	return invoice, nil
}

// SettleHoldInvoice settles a held invoice with its preimage.
func (c *LndClient) SettleHoldInvoice(ctx context.Context,
	preimage lntypes.Preimage) error {

	return mapInvoiceError(c.lnd.Invoices.SettleInvoice(ctx, preimage))
}

// CancelHoldInvoice cancels a hold invoice, returning its HTLCs to the
// payer.
func (c *LndClient) CancelHoldInvoice(ctx context.Context,
	preimageHash lntypes.Hash) error {

	return mapInvoiceError(c.lnd.Invoices.CancelInvoice(ctx, preimageHash))
}

// LookupHoldInvoice returns the state of a hold invoice. The rpc surface
// does not expose the individual HTLC states, the set is folded into a
// single aggregate entry.
func (c *LndClient) LookupHoldInvoice(ctx context.Context,
	preimageHash lntypes.Hash) (*InvoiceStatus, error) {

	invoice, err := c.lnd.Client.LookupInvoice(ctx, preimageHash)
	if err != nil {
		return nil, mapInvoiceError(err)
	}

	status := &InvoiceStatus{}
	switch invoice.State {
	case invoices.ContractOpen:
		status.State = InvoiceOpen

	case invoices.ContractAccepted:
		status.State = InvoiceAccepted
		status.Htlcs = []HtlcState{HtlcAccepted}

	case invoices.ContractSettled:
		status.State = InvoiceSettled
		status.Htlcs = []HtlcState{HtlcSettled}

	case invoices.ContractCanceled:
		status.State = InvoiceCancelled

	default:
		return nil, fmt.Errorf("unexpected invoice state %v",
			invoice.State)
	}

	return status, nil
}

// Pay dispatches a payment and blocks until it reaches a terminal state.
// Timed out attempts and a cancelled context both yield ErrPaymentInFlight,
// the outcome stays undecided and the caller retries later.
func (c *LndClient) Pay(ctx context.Context, req *PayRequest) (
	lntypes.Preimage, error) {

	invoice, err := c.DecodeInvoice(ctx, req.Invoice)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	sendReq := lndclient.SendPaymentRequest{
		Invoice:  req.Invoice,
		MaxFee:   req.MaxFee,
		Timeout:  req.Timeout,
		MaxParts: defaultMaxParts,
	}
	if req.OutgoingChannel != 0 {
		sendReq.OutgoingChanIds = []uint64{req.OutgoingChannel}
	}

	payStatusChan, payErrChan, err := c.lnd.Router.SendPayment(
		ctx, sendReq,
	)
	if err != nil {
		return lntypes.Preimage{}, fmt.Errorf("send payment: %w", err)
	}

	for {
		select {
		case status := <-payStatusChan:
			switch status.State {
			case lnrpc.Payment_SUCCEEDED:
				return status.Preimage, nil

			case lnrpc.Payment_FAILED:
				reason := status.FailureReason
				timeout := lnrpc.PaymentFailureReason_FAILURE_REASON_TIMEOUT
				if reason == timeout {
					return lntypes.Preimage{},
						ErrPaymentInFlight
				}

				return lntypes.Preimage{},
					&PaymentFailedError{Reason: reason}

			case lnrpc.Payment_IN_FLIGHT:
				// Wait for a terminal state.

			default:
				return lntypes.Preimage{}, fmt.Errorf(
					"unknown payment state: %v",
					status.State,
				)
			}

		case err := <-payErrChan:
			// A payment for this hash was dispatched before,
			// attach to its result instead.
			if err != channeldb.ErrAlreadyPaid {
				return lntypes.Preimage{}, err
			}

			payStatusChan, payErrChan, err =
				c.lnd.Router.TrackPayment(
					ctx, invoice.PaymentHash,
				)
			if err != nil {
				return lntypes.Preimage{}, err
			}

		case <-ctx.Done():
			return lntypes.Preimage{}, ErrPaymentInFlight
		}
	}
}

// mapInvoiceError folds the error strings lnd returns for missing invoices
// into ErrInvoiceNotFound.
func mapInvoiceError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to locate invoice"),
		strings.Contains(msg, "there are no existing invoices"):

		return ErrInvoiceNotFound

	default:
		return err
	}
}
