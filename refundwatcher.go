package swapd

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// runRefundWatcher scans the broadcast refunds for confirmations on every
// tick until the context is cancelled.
func (n *Nursery) runRefundWatcher(ctx context.Context) error {
	n.cfg.RefundTicker.Resume()
	defer n.cfg.RefundTicker.Stop()

	for {
		select {
		case <-n.cfg.RefundTicker.Ticks():
			if err := n.scanRefunds(ctx); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// scanRefunds checks every pending refund once and queues the teardown of
// those that reached the confirmation target. Lookup failures leave the
// refund pending for the next scan.
func (n *Nursery) scanRefunds(ctx context.Context) error {
	refunds, err := n.cfg.Store.PendingRefunds(ctx)
	if err != nil {
		return err
	}

	for _, refund := range refunds {
		confs, err := n.refundConfirmations(ctx, refund)
		if err != nil {
			log.Warnf("Confirmation lookup of refund %v failed: %v",
				refund.TxID, err)
			continue
		}

		if confs < uint64(n.cfg.RefundConfTarget) {
			continue
		}

		refund := refund
		err = n.kindQueue(refund.Kind).submit(
			ctx, refund.SwapID, "refund confirmed",
			func(ctx context.Context) error {
				return n.handleRefundConfirmed(ctx, refund)
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// refundConfirmations returns the confirmation depth of a refund on its
// chain.
func (n *Nursery) refundConfirmations(ctx context.Context,
	refund *swapdb.RefundTransaction) (uint64, error) {

	currency, err := n.cfg.Currencies.Get(refund.Symbol)
	if err != nil {
		return 0, err
	}

	if currency.Type.IsUtxoBased() {
		confs, err := currency.Chain.TransactionConfirmations(
			ctx, refund.TxID,
		)
		if err != nil {
			return 0, err
		}

		return uint64(confs), nil
	}

	return currency.EVM.TransactionConfirmations(
		ctx, common.HexToHash(refund.TxID),
	)
}

// handleRefundConfirmed finishes a refunded swap once its refund is buried.
// Reverse swaps release their held invoice HTLCs now, the lockup they were
// waiting on is gone for good.
func (n *Nursery) handleRefundConfirmed(ctx context.Context,
	refund *swapdb.RefundTransaction) error {

	log.Infof("Refund %v of %v swap %v confirmed", refund.TxID,
		refund.Kind, refund.SwapID)

	if refund.Kind == swap.KindReverse {
		rev, err := n.cfg.Store.GetReverse(ctx, refund.SwapID)
		if err != nil {
			return err
		}

		err = n.cancelReverseInvoices(ctx, rev, false)
		if err != nil {
			return err
		}

		if err := n.cfg.Store.SettleRefund(ctx, refund.SwapID); err != nil {
			return err
		}

		currency, err := n.cfg.Currencies.Get(rev.ChainSymbol())
		if err == nil {
			n.forgetReverse(currency, refund.SwapID)
		}

		return nil
	}

	c, err := n.cfg.Store.GetChain(ctx, refund.SwapID)
	if err != nil {
		return err
	}

	if err := n.cfg.Store.SettleRefund(ctx, refund.SwapID); err != nil {
		return err
	}

	n.forgetChain(c)

	return nil
}
