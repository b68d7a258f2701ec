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

// handleReverseInvoicePaid reacts to the acceptance of the main hold invoice
// of a reverse swap. The server lockup goes out once every invoice of the
// swap is paid.
func (n *Nursery) handleReverseInvoicePaid(ctx context.Context,
	id string) error {

	rev, err := n.cfg.Store.GetReverse(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindReverse, rev.Status) {
		log.Debugf("Ignoring invoice acceptance of finished swap %v",
			id)
		return nil
	}

	if rev.TransactionID != "" {
		log.Warnf("Prevented second lockup of %v swap %v",
			swap.KindReverse, id)
		return nil
	}

	if rev.MinerFeeInvoice != "" &&
		rev.Status != swapdb.StatusMinerFeePaid {

		n.reverseReady[id] = struct{}{}
		log.Infof("Swap %v waits for its miner fee invoice", id)
		return nil
	}

	return n.lockupReverse(ctx, rev)
}

// handleReverseMinerFeePaid reacts to the acceptance of the prepay miner fee
// invoice of a reverse swap.
func (n *Nursery) handleReverseMinerFeePaid(ctx context.Context,
	id string) error {

	rev, err := n.cfg.Store.GetReverse(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindReverse, rev.Status) {
		log.Debugf("Ignoring prepay acceptance of finished swap %v",
			id)
		return nil
	}

	if rev.TransactionID != "" {
		log.Warnf("Prevented second lockup of %v swap %v",
			swap.KindReverse, id)
		return nil
	}

	changed, err := n.progressKind(
		ctx, swap.KindReverse, id, swapdb.StatusMinerFeePaid,
	)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, MinerFeePaidEvent{SwapID: id})
		if err != nil {
			return err
		}
	}

	if _, ok := n.reverseReady[id]; ok {
		delete(n.reverseReady, id)
		rev.Status = swapdb.StatusMinerFeePaid

		return n.lockupReverse(ctx, rev)
	}

	log.Infof("Swap %v waits for its hold invoice", id)

	return nil
}

// handleReverseLockupConfirmed reacts to the confirmation of our own lockup
// of a reverse swap.
func (n *Nursery) handleReverseLockupConfirmed(ctx context.Context, id,
	txid string) error {

	rev, err := n.cfg.Store.GetReverse(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindReverse, rev.Status) {
		log.Debugf("Ignoring lockup confirmation of finished swap %v",
			id)
		return nil
	}

	changed, err := n.progressKind(
		ctx, swap.KindReverse, id, swapdb.StatusTransactionConfirmed,
	)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	log.Infof("Lockup of reverseSwap swap %v confirmed", id)

	return n.emit(ctx, TransactionEvent{
		SwapID:    id,
		Kind:      swap.KindReverse,
		Status:    swapdb.StatusTransactionConfirmed,
		TxID:      txid,
		Confirmed: true,
	})
}

// handleReverseClaim settles the hold invoices of a reverse swap with the
// preimage the user revealed by spending our lockup. Cyclic swaps whose
// invoice belongs to a submarine swap of this daemon cancel the invoice
// instead, settling would deadlock the payment on itself.
func (n *Nursery) handleReverseClaim(ctx context.Context, id string,
	preimage lntypes.Preimage) error {

	rev, err := n.cfg.Store.GetReverse(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindReverse, rev.Status) {
		log.Debugf("Ignoring claim of finished swap %v", id)
		return nil
	}

	if preimage.Hash() != rev.PreimageHash {
		return fmt.Errorf("claim of %v revealed preimage of %v, "+
			"expected %v", id, preimage.Hash(), rev.PreimageHash)
	}

	// The preimage survives a crash between observing the claim and
	// settling the invoice, resume replays the settle from it.
	if err := n.cfg.Store.SetReversePreimage(ctx, id, preimage); err != nil {
		return err
	}

	node, err := n.nodeFor(rev.Node)
	if err != nil {
		return err
	}

	cyclic, err := n.cfg.Store.SubmarineByInvoice(ctx, rev.Invoice)
	switch {
	case err == nil && cyclic.PreimageHash == rev.PreimageHash:
		log.Warnf("Hold invoice of swap %v is the invoice of "+
			"swap %v, cancelling the self payment", id, cyclic.ID)

		if err := n.cancelReverseInvoices(ctx, rev, false); err != nil {
			return err
		}

	case err != nil && !errors.Is(err, swapdb.ErrSwapNotFound):
		return err

	default:
		err := n.settleReverseInvoices(ctx, node, rev, preimage)
		if err != nil {
			return err
		}
	}

	err = n.cfg.Store.SetReverseInvoiceSettled(ctx, id, preimage)
	if err != nil {
		return err
	}

	log.Infof("Settled hold invoice of swap %v", id)

	if err := n.emit(ctx, InvoiceSettledEvent{SwapID: id}); err != nil {
		return err
	}

	if currency, err := n.cfg.Currencies.Get(rev.ChainSymbol()); err == nil {
		n.forgetReverse(currency, id)
	}

	return nil
}

// settleReverseInvoices settles the main hold invoice and, when the swap has
// one, the prepay miner fee invoice. Invoices that are already settled are
// left alone, which makes replayed settles harmless.
func (n *Nursery) settleReverseInvoices(ctx context.Context,
	node lightning.Client, rev *swapdb.Reverse,
	preimage lntypes.Preimage) error {

	err := lightning.RaceCallErr(
		ctx, n.cfg.CallTimeout, func(ctx context.Context) error {
			return node.SettleHoldInvoice(ctx, preimage)
		},
	)
	if err != nil && !n.invoiceSettled(ctx, node, rev.PreimageHash) {
		return fmt.Errorf("settle hold invoice of %v: %w", rev.ID, err)
	}

	if rev.MinerFeeInvoice == "" {
		return nil
	}

	if rev.MinerFeeInvoicePreimage == nil {
		return fmt.Errorf("no miner fee invoice preimage for swap %v",
			rev.ID)
	}

	feePreimage := *rev.MinerFeeInvoicePreimage
	err = lightning.RaceCallErr(
		ctx, n.cfg.CallTimeout, func(ctx context.Context) error {
			return node.SettleHoldInvoice(ctx, feePreimage)
		},
	)
	if err != nil && !n.invoiceSettled(ctx, node, feePreimage.Hash()) {
		return fmt.Errorf("settle miner fee invoice of %v: %w",
			rev.ID, err)
	}

	return nil
}

// invoiceSettled reports whether a hold invoice is already settled.
func (n *Nursery) invoiceSettled(ctx context.Context, node lightning.Client,
	hash lntypes.Hash) bool {

	status, err := lightning.RaceCall(
		ctx, n.cfg.CallTimeout,
		func(ctx context.Context) (*lightning.InvoiceStatus, error) {
			return node.LookupHoldInvoice(ctx, hash)
		},
	)
	if err != nil {
		return false
	}

	return status.State == lightning.InvoiceSettled
}

// handleReverseInvoiceExpired fails a reverse swap whose hold invoice
// expired before the user paid it.
func (n *Nursery) handleReverseInvoiceExpired(ctx context.Context,
	id string) error {

	rev, err := n.cfg.Store.GetReverse(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindReverse, rev.Status) {
		log.Debugf("Ignoring invoice expiry of finished swap %v", id)
		return nil
	}

	if rev.TransactionID != "" {
		log.Warnf("Ignoring invoice expiry of swap %v with our "+
			"lockup out", id)
		return nil
	}

	if err := n.cancelReverseInvoices(ctx, rev, true); err != nil {
		return err
	}

	changed, err := n.progressKind(
		ctx, swap.KindReverse, id, swapdb.StatusInvoiceExpired,
	)
	if err != nil {
		return err
	}

	if currency, err := n.cfg.Currencies.Get(rev.ChainSymbol()); err == nil {
		n.forgetReverse(currency, id)
	}

	if !changed {
		return nil
	}

	log.Infof("Hold invoice of swap %v expired", id)

	return n.emit(ctx, InvoiceExpiredEvent{SwapID: id})
}

// handleReverseExpiry reacts to the timeout height of a reverse swap. Swaps
// that locked up refund through the timeout path, swaps that never did are
// torn down.
func (n *Nursery) handleReverseExpiry(ctx context.Context, id string) error {
	rev, err := n.cfg.Store.GetReverse(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindReverse, rev.Status) {
		log.Debugf("Ignoring expiry of finished swap %v", id)
		return nil
	}

	if rev.TransactionID != "" {
		return n.refundReverse(ctx, rev)
	}

	if err := n.cancelReverseInvoices(ctx, rev, true); err != nil {
		return err
	}

	changed, err := n.progressKind(
		ctx, swap.KindReverse, id, swapdb.StatusSwapExpired,
	)
	if err != nil {
		return err
	}

	if currency, err := n.cfg.Currencies.Get(rev.ChainSymbol()); err == nil {
		n.forgetReverse(currency, id)
	}

	if !changed {
		return nil
	}

	log.Infof("Swap %v expired", id)

	return n.emit(ctx, ExpirationEvent{
		SwapID: id,
		Kind:   swap.KindReverse,
	})
}
