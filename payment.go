package swapd

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/lightning"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// paySubmarineInvoice pays the invoice of a submarine swap and returns the
// revealed preimage. A nil preimage with a nil error means the payment is
// still in flight, the next retry round picks the swap up again. Errors are
// reserved for payments that failed for good.
func (n *Nursery) paySubmarineInvoice(ctx context.Context,
	sub *swapdb.Submarine) (*lntypes.Preimage, error) {

	// Payments that already went through are not dispatched again, the
	// claim is all that is left to retry.
	if sub.Preimage != nil {
		return sub.Preimage, nil
	}

	plog := &swap.PrefixLog{Logger: log, SwapID: sub.ID}

	node, err := n.nodeFor("")
	if err != nil {
		return nil, err
	}

	invoice, err := lightning.RaceCall(
		ctx, n.cfg.CallTimeout,
		func(ctx context.Context) (*lightning.Invoice, error) {
			return node.DecodeInvoice(ctx, sub.Invoice)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("decode invoice of %v: %w", sub.ID, err)
	}

	if invoice.PaymentHash != sub.PreimageHash {
		return nil, fmt.Errorf("invoice of %v pays %v, expected %v",
			sub.ID, invoice.PaymentHash, sub.PreimageHash)
	}

	_, err = n.progressKind(
		ctx, swap.KindSubmarine, sub.ID, swapdb.StatusInvoicePending,
	)
	if err != nil {
		return nil, err
	}

	// A channel creation request has to be satisfied before the payment
	// is dispatched, the payment is then pinned to the new channel.
	var outgoingChannel uint64
	creation, err := n.cfg.Store.GetChannelCreation(ctx, sub.ID)
	switch {
	case err == nil:
		if n.cfg.Opener == nil {
			return nil, ErrNoChannelOpener
		}

		outgoingChannel, err = n.cfg.Opener.OpenChannel(
			ctx, creation, sub.Invoice,
		)
		if err != nil {
			return nil, fmt.Errorf("open channel for %v: %w",
				sub.ID, err)
		}

		plog.Infof("Opened channel %v", outgoingChannel)

	case errors.Is(err, swapdb.ErrNoChannelCreation):

	default:
		return nil, err
	}

	maxFee := swap.CalcFee(
		invoice.Amount, n.cfg.MaxRoutingFeeBase, n.cfg.MaxRoutingFeeRate,
	)

	plog.Infof("Paying invoice on %v, %v max routing fee", node.Name(),
		maxFee)

	preimage, err := node.Pay(ctx, &lightning.PayRequest{
		Invoice:         sub.Invoice,
		MaxFee:          maxFee,
		OutgoingChannel: outgoingChannel,
		Timeout:         n.cfg.PaymentTimeout,
	})
	switch {
	case errors.Is(err, lightning.ErrPaymentInFlight):
		plog.Infof("Payment still in flight")
		return nil, nil

	case err != nil:
		return nil, fmt.Errorf("pay invoice of %v: %w", sub.ID, err)
	}

	if preimage.Hash() != sub.PreimageHash {
		return nil, fmt.Errorf("payment of %v revealed preimage "+
			"of %v, expected %v", sub.ID, preimage.Hash(),
			sub.PreimageHash)
	}

	err = n.cfg.Store.SetSubmarinePreimage(ctx, sub.ID, preimage)
	if err != nil {
		return nil, err
	}

	_, err = n.progressKind(
		ctx, swap.KindSubmarine, sub.ID, swapdb.StatusInvoicePaid,
	)
	if err != nil {
		return nil, err
	}

	plog.Infof("Paid invoice")

	return &preimage, nil
}
