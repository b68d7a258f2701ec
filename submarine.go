package swapd

import (
	"context"
	"fmt"

	"github.com/swapdhq/swapd/chain"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/lightning"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// handleSubmarineLockup reacts to the user lockup of a submarine swap on a
// UTXO chain. The watcher only reports lockups that passed its policy
// checks, so a mempool transaction here may start the payment.
func (n *Nursery) handleSubmarineLockup(ctx context.Context,
	e chain.LockupEvent) error {

	sub, err := n.cfg.Store.GetSubmarine(ctx, e.SwapID)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindSubmarine, sub.Status) {
		log.Debugf("Ignoring lockup of finished swap %v", sub.ID)
		return nil
	}

	err = n.cfg.Store.SetSubmarineLockup(
		ctx, sub.ID, e.TxID, e.Vout, e.Amount,
	)
	if err != nil {
		return err
	}
	sub.LockupTransactionID = e.TxID
	sub.LockupTransactionVout = e.Vout
	sub.OnchainAmount = e.Amount

	status := swapdb.StatusTransactionMempool
	if e.Confirmed {
		status = swapdb.StatusTransactionConfirmed
	}

	changed, err := n.progressKind(ctx, swap.KindSubmarine, sub.ID, status)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, TransactionEvent{
			SwapID:    sub.ID,
			Kind:      swap.KindSubmarine,
			Status:    status,
			TxID:      e.TxID,
			Confirmed: e.Confirmed,
		})
		if err != nil {
			return err
		}
	}

	// Swaps created without an invoice freeze their rate when the lockup
	// arrives, the user committed funds at this price.
	if sub.Invoice == "" {
		if err := n.freezeSubmarineRate(ctx, sub); err != nil {
			return err
		}

		log.Infof("Swap %v waits for an invoice", sub.ID)
		return nil
	}

	return n.attemptSettleSubmarine(ctx, sub.ID)
}

// handleSubmarineEvmLockup reacts to the user lockup of a submarine swap on
// a contract chain. Contract logs only exist for mined transactions, so the
// lockup counts as confirmed. The lockup values come from the log and are
// validated here.
func (n *Nursery) handleSubmarineEvmLockup(ctx context.Context,
	e evm.LockupEvent) error {

	sub, err := n.cfg.Store.GetSubmarine(ctx, e.SwapID)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindSubmarine, sub.Status) {
		log.Debugf("Ignoring lockup of finished swap %v", sub.ID)
		return nil
	}

	txid := e.TxHash.Hex()

	if sub.ExpectedAmount > 0 {
		expected := evm.WeiFromSats(sub.ExpectedAmount)
		if e.Amount.Cmp(expected) < 0 {
			return n.handleLockupFailed(
				ctx, swap.KindSubmarine, sub.ID, txid,
				fmt.Sprintf("locked up %v, expected %v",
					e.Amount, expected),
			)
		}
	}

	if e.Timelock != uint64(sub.TimeoutBlockHeight) {
		return n.handleLockupFailed(
			ctx, swap.KindSubmarine, sub.ID, txid,
			fmt.Sprintf("locked up with timelock %v, expected %v",
				e.Timelock, sub.TimeoutBlockHeight),
		)
	}

	err = n.cfg.Store.SetSubmarineLockup(
		ctx, sub.ID, txid, 0, evm.SatsFromWei(e.Amount),
	)
	if err != nil {
		return err
	}
	sub.LockupTransactionID = txid
	sub.OnchainAmount = evm.SatsFromWei(e.Amount)

	changed, err := n.progressKind(
		ctx, swap.KindSubmarine, sub.ID,
		swapdb.StatusTransactionConfirmed,
	)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, TransactionEvent{
			SwapID:    sub.ID,
			Kind:      swap.KindSubmarine,
			Status:    swapdb.StatusTransactionConfirmed,
			TxID:      txid,
			Confirmed: true,
		})
		if err != nil {
			return err
		}
	}

	if sub.Invoice == "" {
		if err := n.freezeSubmarineRate(ctx, sub); err != nil {
			return err
		}

		log.Infof("Swap %v waits for an invoice", sub.ID)
		return nil
	}

	return n.attemptSettleSubmarine(ctx, sub.ID)
}

// freezeSubmarineRate pins the pair rate of a submarine swap that locked up
// before posting an invoice.
func (n *Nursery) freezeSubmarineRate(ctx context.Context,
	sub *swapdb.Submarine) error {

	if sub.Rate != 0 || n.cfg.Rates == nil {
		return nil
	}

	rate, err := n.cfg.Rates.Rate(sub.Pair, sub.OrderSide)
	if err != nil {
		return fmt.Errorf("freeze rate of %v: %w", sub.ID, err)
	}

	if err := n.cfg.Store.SetSubmarineRate(ctx, sub.ID, rate); err != nil {
		return err
	}

	log.Infof("Froze rate of swap %v at %v", sub.ID, rate)

	return nil
}

// attemptSettleSubmarine pays the invoice of a submarine swap and claims the
// user lockup with the revealed preimage. Payments still in flight return
// without error, the retry timer drives them to an outcome.
func (n *Nursery) attemptSettleSubmarine(ctx context.Context,
	id string) error {

	sub, err := n.cfg.Store.GetSubmarine(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindSubmarine, sub.Status) {
		log.Debugf("Not settling finished swap %v", id)
		return nil
	}

	if sub.Invoice == "" {
		log.Debugf("Swap %v has no invoice to settle yet", id)
		return nil
	}

	preimage, err := n.paySubmarineInvoice(ctx, sub)
	if err != nil {
		return err
	}

	if preimage == nil {
		return nil
	}

	return n.claimSubmarine(ctx, sub, *preimage)
}

// AttachSubmarineInvoice sets the invoice of a submarine swap that was
// created without one. When the user lockup already arrived, settlement is
// queued right away.
func (n *Nursery) AttachSubmarineInvoice(ctx context.Context, id,
	invoice string) error {

	sub, err := n.cfg.Store.GetSubmarine(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindSubmarine, sub.Status) {
		return fmt.Errorf("swap %v already finished as %v", id,
			sub.Status)
	}

	if sub.Invoice != "" {
		return fmt.Errorf("swap %v already has an invoice", id)
	}

	node, err := n.nodeFor("")
	if err != nil {
		return err
	}

	decoded, err := lightning.RaceCall(
		ctx, n.cfg.CallTimeout,
		func(ctx context.Context) (*lightning.Invoice, error) {
			return node.DecodeInvoice(ctx, invoice)
		},
	)
	if err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}

	if decoded.PaymentHash != sub.PreimageHash {
		return fmt.Errorf("invoice pays %v, swap %v expects %v",
			decoded.PaymentHash, id, sub.PreimageHash)
	}

	if err := n.cfg.Store.SetSubmarineInvoice(ctx, id, invoice); err != nil {
		return err
	}

	log.Infof("Attached invoice to swap %v", id)

	switch sub.Status {
	case swapdb.StatusTransactionMempool,
		swapdb.StatusTransactionConfirmed:

		return n.swapQueue.submit(
			ctx, id, "settle",
			func(ctx context.Context) error {
				return n.attemptSettleSubmarine(ctx, id)
			},
		)
	}

	return nil
}

// handleSubmarineExpiry fails a submarine swap whose lockup script timed
// out. Swaps whose payment already revealed the preimage stay alive, the
// claim re-drive contests the refund race instead of conceding it.
func (n *Nursery) handleSubmarineExpiry(ctx context.Context, id string) error {
	sub, err := n.cfg.Store.GetSubmarine(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindSubmarine, sub.Status) {
		log.Debugf("Ignoring expiry of finished swap %v", id)
		return nil
	}

	if sub.Preimage != nil {
		log.Warnf("Swap %v reached its timeout height with the "+
			"invoice paid, keeping the claim alive", id)
		return nil
	}

	changed, err := n.progressKind(
		ctx, swap.KindSubmarine, id, swapdb.StatusSwapExpired,
	)
	if err != nil {
		return err
	}

	if currency, err := n.cfg.Currencies.Get(sub.ChainSymbol()); err == nil {
		forgetOnCurrency(currency, id)
	}

	if !changed {
		return nil
	}

	log.Infof("Swap %v expired", id)

	return n.emit(ctx, ExpirationEvent{
		SwapID: id,
		Kind:   swap.KindSubmarine,
	})
}
