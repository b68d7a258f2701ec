package swapd

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/chain"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// handleChainUserLockup reacts to the user lockup on the receiving leg of a
// chain swap on a UTXO chain. The watcher only reports lockups that passed
// its policy checks, so a mempool transaction here may trigger our own
// lockup on the sending leg.
func (n *Nursery) handleChainUserLockup(ctx context.Context,
	e chain.LockupEvent) error {

	c, err := n.cfg.Store.GetChain(ctx, e.SwapID)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindChain, c.Status) {
		log.Debugf("Ignoring lockup of finished swap %v", c.ID)
		return nil
	}

	err = n.cfg.Store.SetChainUserLockup(
		ctx, c.ID, e.TxID, e.Vout, e.Amount,
	)
	if err != nil {
		return err
	}
	c.Receiving.TransactionID = e.TxID
	c.Receiving.TransactionVout = e.Vout
	c.Receiving.Amount = e.Amount

	status := swapdb.StatusTransactionMempool
	if e.Confirmed {
		status = swapdb.StatusTransactionConfirmed
	}

	changed, err := n.progressKind(ctx, swap.KindChain, c.ID, status)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, TransactionEvent{
			SwapID:    c.ID,
			Kind:      swap.KindChain,
			Status:    status,
			TxID:      e.TxID,
			Confirmed: e.Confirmed,
		})
		if err != nil {
			return err
		}
	}

	return n.lockupChainSwap(ctx, c.ID)
}

// handleChainEvmLockup reacts to the user lockup on the receiving leg of a
// chain swap on a contract chain. Contract logs only exist for mined
// transactions, so the lockup counts as confirmed. The lockup values come
// from the log and are validated here.
func (n *Nursery) handleChainEvmLockup(ctx context.Context,
	e evm.LockupEvent) error {

	c, err := n.cfg.Store.GetChain(ctx, e.SwapID)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindChain, c.Status) {
		log.Debugf("Ignoring lockup of finished swap %v", c.ID)
		return nil
	}

	txid := e.TxHash.Hex()

	if c.Receiving.ExpectedAmount > 0 {
		expected := evm.WeiFromSats(c.Receiving.ExpectedAmount)
		if e.Amount.Cmp(expected) < 0 {
			return n.handleLockupFailed(
				ctx, swap.KindChain, c.ID, txid,
				fmt.Sprintf("locked up %v, expected %v",
					e.Amount, expected),
			)
		}
	}

	if e.Timelock != uint64(c.Receiving.TimeoutBlockHeight) {
		return n.handleLockupFailed(
			ctx, swap.KindChain, c.ID, txid,
			fmt.Sprintf("locked up with timelock %v, expected %v",
				e.Timelock, c.Receiving.TimeoutBlockHeight),
		)
	}

	err = n.cfg.Store.SetChainUserLockup(
		ctx, c.ID, txid, 0, evm.SatsFromWei(e.Amount),
	)
	if err != nil {
		return err
	}
	c.Receiving.TransactionID = txid
	c.Receiving.Amount = evm.SatsFromWei(e.Amount)

	changed, err := n.progressKind(
		ctx, swap.KindChain, c.ID, swapdb.StatusTransactionConfirmed,
	)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, TransactionEvent{
			SwapID:    c.ID,
			Kind:      swap.KindChain,
			Status:    swapdb.StatusTransactionConfirmed,
			TxID:      txid,
			Confirmed: true,
		})
		if err != nil {
			return err
		}
	}

	return n.lockupChainSwap(ctx, c.ID)
}

// handleChainServerConfirmed reacts to the confirmation of our own lockup on
// the sending leg of a chain swap.
func (n *Nursery) handleChainServerConfirmed(ctx context.Context, id,
	txid string) error {

	c, err := n.cfg.Store.GetChain(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindChain, c.Status) {
		log.Debugf("Ignoring lockup confirmation of finished swap %v",
			id)
		return nil
	}

	changed, err := n.progressKind(
		ctx, swap.KindChain, id,
		swapdb.StatusTransactionServerConfirmed,
	)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	log.Infof("Lockup of chainSwap swap %v confirmed", id)

	return n.emit(ctx, TransactionEvent{
		SwapID:    id,
		Kind:      swap.KindChain,
		Status:    swapdb.StatusTransactionServerConfirmed,
		TxID:      txid,
		Confirmed: true,
	})
}

// handleChainClaim reacts to the user spending our sending leg lockup. The
// revealed preimage is persisted first and then unlocks our claim on the
// receiving leg.
func (n *Nursery) handleChainClaim(ctx context.Context, id string,
	preimage lntypes.Preimage) error {

	c, err := n.cfg.Store.GetChain(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindChain, c.Status) {
		log.Debugf("Ignoring claim of finished swap %v", id)
		return nil
	}

	if preimage.Hash() != c.PreimageHash {
		return fmt.Errorf("claim of %v revealed preimage of %v, "+
			"expected %v", id, preimage.Hash(), c.PreimageHash)
	}

	// The preimage survives a crash between observing the spend and our
	// own claim, resume replays the claim from it.
	if err := n.cfg.Store.SetChainPreimage(ctx, id, preimage); err != nil {
		return err
	}

	log.Infof("Counterparty of chainSwap swap %v revealed the preimage",
		id)

	return n.claimChain(ctx, c, preimage)
}

// handleChainExpiry reacts to the timeout height of either leg of a chain
// swap. Swaps whose sending leg locked up refund through the timeout path,
// everything else is torn down.
func (n *Nursery) handleChainExpiry(ctx context.Context, id string) error {
	c, err := n.cfg.Store.GetChain(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindChain, c.Status) {
		log.Debugf("Ignoring expiry of finished swap %v", id)
		return nil
	}

	if c.Sending.TransactionID != "" {
		return n.refundChain(ctx, c)
	}

	changed, err := n.progressKind(
		ctx, swap.KindChain, id, swapdb.StatusSwapExpired,
	)
	if err != nil {
		return err
	}

	n.forgetChain(c)

	if !changed {
		return nil
	}

	log.Infof("Swap %v expired", id)

	return n.emit(ctx, ExpirationEvent{
		SwapID: id,
		Kind:   swap.KindChain,
	})
}
