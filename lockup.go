package swapd

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/labels"
	"github.com/swapdhq/swapd/lightning"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// lockupReverse broadcasts our lockup of a reverse swap. Send failures fail
// the swap and tear down its invoices, they are not returned as handler
// errors.
func (n *Nursery) lockupReverse(ctx context.Context,
	rev *swapdb.Reverse) error {

	currency, err := n.cfg.Currencies.Get(rev.ChainSymbol())
	if err != nil {
		return err
	}

	log.Infof("Locking up %v of %v for reverseSwap swap %v",
		rev.OnchainAmount, currency.Symbol, rev.ID)

	var (
		txid string
		vout uint32
		fee  btcutil.Amount
	)
	if currency.Type.IsUtxoBased() {
		txid, vout, fee, err = n.sendReverseUtxoLockup(ctx, currency, rev)
	} else {
		txid, err = n.sendReverseEvmLockup(ctx, currency, rev)
	}
	if err != nil {
		return n.failReverseSend(ctx, currency, rev, err)
	}

	err = n.cfg.Store.SetReverseServerLockup(ctx, rev.ID, txid, vout, fee)
	if err != nil {
		return err
	}

	changed, err := n.cfg.Store.UpdateReverseStatus(
		ctx, rev.ID, swapdb.StatusTransactionMempool,
	)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, TransactionEvent{
			SwapID: rev.ID,
			Kind:   swap.KindReverse,
			Status: swapdb.StatusTransactionMempool,
			TxID:   txid,
		})
		if err != nil {
			return err
		}
	}

	err = n.emit(ctx, CoinsSentEvent{
		SwapID:   rev.ID,
		Kind:     swap.KindReverse,
		TxID:     txid,
		Amount:   rev.OnchainAmount,
		MinerFee: fee,
	})
	if err != nil {
		return err
	}

	rev.TransactionID = txid
	rev.TransactionVout = vout
	rev.Status = swapdb.StatusTransactionMempool

	return n.armReverseLockup(currency, rev)
}

// sendReverseUtxoLockup sends the lockup of a reverse swap through the
// wallet of a UTXO based chain.
func (n *Nursery) sendReverseUtxoLockup(ctx context.Context,
	currency *Currency, rev *swapdb.Reverse) (string, uint32,
	btcutil.Amount, error) {

	feeRate, err := n.reverseLockupFeeRate(ctx, currency, rev)
	if err != nil {
		return "", 0, 0, err
	}

	result, err := currency.Wallet.SendToAddress(
		ctx, rev.LockupAddress, rev.OnchainAmount, feeRate,
		labels.Lockup(swap.KindReverse, rev.ID),
	)
	if err != nil {
		return "", 0, 0, err
	}

	return result.TxID, result.Vout, result.Fee, nil
}

// reverseLockupFeeRate returns the fee rate of a reverse swap lockup. Swaps
// with a prepay miner fee invoice spend exactly what the prepay covers,
// everything else uses a fresh estimate.
func (n *Nursery) reverseLockupFeeRate(ctx context.Context,
	currency *Currency, rev *swapdb.Reverse) (chainfee.SatPerVByte, error) {

	if rev.MinerFeeInvoice == "" {
		return currency.Chain.EstimateFee(ctx, lockupFeeConfTarget)
	}

	client, err := n.nodeFor(rev.Node)
	if err != nil {
		return 0, err
	}

	decoded, err := lightning.RaceCall(
		ctx, n.cfg.CallTimeout,
		func(ctx context.Context) (*lightning.Invoice, error) {
			return client.DecodeInvoice(ctx, rev.MinerFeeInvoice)
		},
	)
	if err != nil {
		return 0, fmt.Errorf("decode prepay invoice: %w", err)
	}

	// The prepay amount was quoted against legacy Bitcoin sizes no matter
	// what the swap itself uses, so the rate derivation mirrors that.
	sizes, err := swap.LookupTransactionSizes(
		swap.CurrencyBitcoinLike, swap.VersionLegacy,
	)
	if err != nil {
		return 0, err
	}

	return swap.PrepayMinerFeeRate(decoded.AmountMsat, sizes), nil
}

// sendReverseEvmLockup submits the lockup of a reverse swap to the swap
// contract. The prepay, when present, is forwarded to the claim address in
// the same transaction.
func (n *Nursery) sendReverseEvmLockup(ctx context.Context,
	currency *Currency, rev *swapdb.Reverse) (string, error) {

	var (
		contracts    = currency.EVM.Contracts
		claimAddress = common.HexToAddress(rev.ClaimAddress)
		timelock     = uint64(rev.TimeoutBlockHeight)
		amount       = evm.WeiFromSats(rev.OnchainAmount)
		prepay       = evm.WeiFromSats(rev.MinerFeeOnchainAmount)

		txHash common.Hash
		err    error
	)

	switch {
	case currency.Type == swap.CurrencyEther &&
		rev.MinerFeeOnchainAmount > 0:

		txHash, err = contracts.LockupEtherPrepayMinerfee(
			ctx, rev.PreimageHash, amount, prepay, claimAddress,
			timelock,
		)

	case currency.Type == swap.CurrencyEther:
		txHash, err = contracts.LockupEther(
			ctx, rev.PreimageHash, amount, claimAddress, timelock,
		)

	default:
		var token common.Address
		token, err = currency.EVM.TokenAddress(currency.Symbol)
		if err != nil {
			return "", err
		}

		if rev.MinerFeeOnchainAmount > 0 {
			txHash, err = contracts.LockupTokenPrepayMinerfee(
				ctx, token, rev.PreimageHash, amount, prepay,
				claimAddress, timelock,
			)
		} else {
			txHash, err = contracts.LockupToken(
				ctx, token, rev.PreimageHash, amount,
				claimAddress, timelock,
			)
		}
	}
	if err != nil {
		return "", err
	}

	return txHash.Hex(), nil
}

// failReverseSend fails a reverse swap whose lockup could not be sent. The
// hold invoices are cancelled so the payer gets both payments back.
func (n *Nursery) failReverseSend(ctx context.Context, currency *Currency,
	rev *swapdb.Reverse, sendErr error) error {

	log.Errorf("Lockup of reverseSwap swap %v failed: %v", rev.ID, sendErr)

	changed, err := n.cfg.Store.UpdateReverseStatus(
		ctx, rev.ID, swapdb.StatusTransactionFailed,
	)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, CoinsFailedToSendEvent{
			SwapID: rev.ID,
			Kind:   swap.KindReverse,
			Reason: sendErr.Error(),
		})
		if err != nil {
			return err
		}
	}

	if err := n.cancelReverseInvoices(ctx, rev, true); err != nil {
		log.Errorf("Invoice teardown of swap %v failed: %v", rev.ID,
			err)
	}

	n.forgetReverse(currency, rev.ID)
	n.notify(ctx, rev.ID, fmt.Sprintf("lockup failed: %v", sendErr))

	return nil
}

// lockupChainSwap broadcasts our lockup on the sending leg of a chain swap.
// It is a no-op when the lockup is already out, both the live path and the
// resume path funnel through here.
func (n *Nursery) lockupChainSwap(ctx context.Context, id string) error {
	c, err := n.cfg.Store.GetChain(ctx, id)
	if err != nil {
		return err
	}

	if swapdb.IsTerminal(swap.KindChain, c.Status) {
		log.Debugf("Not locking up finished chainSwap swap %v", id)
		return nil
	}

	if c.Sending.TransactionID != "" {
		log.Warnf("Prevented second lockup of %v swap %v",
			swap.KindChain, id)
		return nil
	}

	sending, err := n.cfg.Currencies.Get(c.Sending.Symbol)
	if err != nil {
		return err
	}

	log.Infof("Locking up %v of %v for chainSwap swap %v",
		c.Sending.ExpectedAmount, sending.Symbol, id)

	var (
		txid string
		vout uint32
		fee  btcutil.Amount
	)
	if sending.Type.IsUtxoBased() {
		txid, vout, fee, err = n.sendChainUtxoLockup(ctx, sending, c)
	} else {
		txid, err = n.sendChainEvmLockup(ctx, sending, c)
	}
	if err != nil {
		return n.failChainSend(ctx, c, err)
	}

	err = n.cfg.Store.SetChainServerLockup(
		ctx, id, txid, vout, c.Sending.ExpectedAmount, fee,
	)
	if err != nil {
		return err
	}

	changed, err := n.cfg.Store.UpdateChainStatus(
		ctx, id, swapdb.StatusTransactionServerMempool,
	)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, TransactionEvent{
			SwapID: id,
			Kind:   swap.KindChain,
			Status: swapdb.StatusTransactionServerMempool,
			TxID:   txid,
		})
		if err != nil {
			return err
		}
	}

	err = n.emit(ctx, CoinsSentEvent{
		SwapID:   id,
		Kind:     swap.KindChain,
		TxID:     txid,
		Amount:   c.Sending.ExpectedAmount,
		MinerFee: fee,
	})
	if err != nil {
		return err
	}

	c.Sending.TransactionID = txid
	c.Sending.TransactionVout = vout
	c.Status = swapdb.StatusTransactionServerMempool

	return n.armChainLockup(c)
}

// sendChainUtxoLockup sends the lockup on the sending leg of a chain swap
// through the wallet of a UTXO based chain.
func (n *Nursery) sendChainUtxoLockup(ctx context.Context,
	currency *Currency, c *swapdb.Chain) (string, uint32, btcutil.Amount,
	error) {

	feeRate, err := currency.Chain.EstimateFee(ctx, lockupFeeConfTarget)
	if err != nil {
		return "", 0, 0, err
	}

	result, err := currency.Wallet.SendToAddress(
		ctx, c.Sending.LockupAddress, c.Sending.ExpectedAmount,
		feeRate, labels.Lockup(swap.KindChain, c.ID),
	)
	if err != nil {
		return "", 0, 0, err
	}

	return result.TxID, result.Vout, result.Fee, nil
}

// sendChainEvmLockup submits the lockup on the sending leg of a chain swap
// to the swap contract.
func (n *Nursery) sendChainEvmLockup(ctx context.Context, currency *Currency,
	c *swapdb.Chain) (string, error) {

	var (
		contracts    = currency.EVM.Contracts
		claimAddress = common.HexToAddress(c.Sending.ClaimAddress)
		timelock     = uint64(c.Sending.TimeoutBlockHeight)
		amount       = evm.WeiFromSats(c.Sending.ExpectedAmount)

		txHash common.Hash
		err    error
	)

	if currency.Type == swap.CurrencyEther {
		txHash, err = contracts.LockupEther(
			ctx, c.PreimageHash, amount, claimAddress, timelock,
		)
	} else {
		var token common.Address
		token, err = currency.EVM.TokenAddress(currency.Symbol)
		if err != nil {
			return "", err
		}

		txHash, err = contracts.LockupToken(
			ctx, token, c.PreimageHash, amount, claimAddress,
			timelock,
		)
	}
	if err != nil {
		return "", err
	}

	return txHash.Hex(), nil
}

// failChainSend fails a chain swap whose lockup could not be sent. The user
// lockup stays untouched, its owner refunds it after the timeout.
func (n *Nursery) failChainSend(ctx context.Context, c *swapdb.Chain,
	sendErr error) error {

	log.Errorf("Lockup of chainSwap swap %v failed: %v", c.ID, sendErr)

	changed, err := n.cfg.Store.UpdateChainStatus(
		ctx, c.ID, swapdb.StatusTransactionFailed,
	)
	if err != nil {
		return err
	}

	if changed {
		err := n.emit(ctx, CoinsFailedToSendEvent{
			SwapID: c.ID,
			Kind:   swap.KindChain,
			Reason: sendErr.Error(),
		})
		if err != nil {
			return err
		}
	}

	n.forgetChain(c)
	n.notify(ctx, c.ID, fmt.Sprintf("lockup failed: %v", sendErr))

	return nil
}

// handleLockupFailed finishes a swap whose user lockup was rejected outright.
func (n *Nursery) handleLockupFailed(ctx context.Context, kind swap.Kind,
	id, txid, reason string) error {

	log.Warnf("Lockup of %v swap %v rejected: %v", kind, id, reason)

	changed, err := n.progressKind(
		ctx, kind, id, swapdb.StatusTransactionLockupFailed,
	)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	if err := n.forgetKind(ctx, kind, id); err != nil {
		return err
	}

	return n.emit(ctx, LockupFailedEvent{
		SwapID: id,
		Kind:   kind,
		TxID:   txid,
		Reason: reason,
	})
}

// handleZeroConfRejected parks a swap whose unconfirmed lockup must not be
// acted on. The watcher keeps the filter and the swap recovers on
// confirmation.
func (n *Nursery) handleZeroConfRejected(ctx context.Context, kind swap.Kind,
	id, txid, reason string) error {

	log.Infof("Waiting for confirmation of lockup %v of %v swap %v: %v",
		txid, kind, id, reason)

	changed, err := n.progressKind(
		ctx, kind, id, swapdb.StatusTransactionZeroConfRejected,
	)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	return n.emit(ctx, ZeroConfRejectedEvent{
		SwapID: id,
		Kind:   kind,
		TxID:   txid,
		Reason: reason,
	})
}

// progressKind writes a status through the store method of the swap's kind.
// Writes that would leave the allowed progression are skipped instead of
// failing the handler, stale watcher events must stay harmless.
func (n *Nursery) progressKind(ctx context.Context, kind swap.Kind, id string,
	status swapdb.Status) (bool, error) {

	var (
		current swapdb.Status
		update  func(context.Context, string, swapdb.Status) (bool,
			error)
	)

	switch kind {
	case swap.KindSubmarine:
		sub, err := n.cfg.Store.GetSubmarine(ctx, id)
		if err != nil {
			return false, err
		}
		current = sub.Status
		update = n.cfg.Store.UpdateSubmarineStatus

	case swap.KindReverse:
		rev, err := n.cfg.Store.GetReverse(ctx, id)
		if err != nil {
			return false, err
		}
		current = rev.Status
		update = n.cfg.Store.UpdateReverseStatus

	default:
		c, err := n.cfg.Store.GetChain(ctx, id)
		if err != nil {
			return false, err
		}
		current = c.Status
		update = n.cfg.Store.UpdateChainStatus
	}

	if !swapdb.CanProgress(kind, current, status) {
		log.Debugf("Skipping %v for %v swap %v in status %v", status,
			kind, id, current)
		return false, nil
	}

	return update(ctx, id, status)
}

// forgetKind drops all watcher registrations of a finished swap.
func (n *Nursery) forgetKind(ctx context.Context, kind swap.Kind,
	id string) error {

	switch kind {
	case swap.KindSubmarine:
		sub, err := n.cfg.Store.GetSubmarine(ctx, id)
		if err != nil {
			return err
		}

		currency, err := n.cfg.Currencies.Get(sub.ChainSymbol())
		if err != nil {
			return err
		}

		forgetOnCurrency(currency, id)

	case swap.KindReverse:
		rev, err := n.cfg.Store.GetReverse(ctx, id)
		if err != nil {
			return err
		}

		currency, err := n.cfg.Currencies.Get(rev.ChainSymbol())
		if err != nil {
			return err
		}

		n.forgetReverse(currency, id)

	default:
		c, err := n.cfg.Store.GetChain(ctx, id)
		if err != nil {
			return err
		}

		n.forgetChain(c)
	}

	return nil
}

// forgetReverse drops the chain and invoice registrations of a reverse swap.
func (n *Nursery) forgetReverse(currency *Currency, id string) {
	forgetOnCurrency(currency, id)
	n.cfg.HoldInvoices.Forget(id)
	n.cfg.InvoiceExpiries.Forget(id)
	delete(n.reverseReady, id)
}

// forgetChain drops the registrations of both legs of a chain swap.
func (n *Nursery) forgetChain(c *swapdb.Chain) {
	if receiving, err := n.cfg.Currencies.Get(c.Receiving.Symbol); err == nil {
		forgetOnCurrency(receiving, c.ID)
	}

	if sending, err := n.cfg.Currencies.Get(c.Sending.Symbol); err == nil {
		forgetOnCurrency(sending, c.ID)
	}
}

// forgetOnCurrency drops the watcher registrations of a swap on one
// currency.
func forgetOnCurrency(currency *Currency, id string) {
	if currency.Type.IsUtxoBased() {
		currency.Watcher.ForgetSwap(id)
		return
	}

	currency.EVM.Watcher.ForgetSwap(id)
}

// cancelReverseInvoices tears down the hold invoices of a reverse swap on
// its node, bounded by the call timeout.
func (n *Nursery) cancelReverseInvoices(ctx context.Context,
	rev *swapdb.Reverse, isSendFailure bool) error {

	client, err := n.nodeFor(rev.Node)
	if err != nil {
		return err
	}

	return lightning.RaceCallErr(
		ctx, n.cfg.CallTimeout, func(ctx context.Context) error {
			return lightning.CancelReverseInvoices(
				ctx, client, rev, isSendFailure,
			)
		},
	)
}
