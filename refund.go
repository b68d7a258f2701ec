package swapd

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/labels"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// refundReverse refunds the server lockup of a reverse swap whose timeout
// height passed. The hold invoices stay untouched here, they are torn down
// once the refund confirmed and the lockup is gone for good. A refund that
// does not broadcast leaves the swap unchanged for a manual retry.
func (n *Nursery) refundReverse(ctx context.Context,
	rev *swapdb.Reverse) error {

	currency, err := n.cfg.Currencies.Get(rev.ChainSymbol())
	if err != nil {
		return err
	}

	log.Infof("Refunding lockup %v of reverseSwap swap %v",
		rev.TransactionID, rev.ID)

	var (
		txid string
		vin  *uint32
		fee  btcutil.Amount
	)
	if currency.Type.IsUtxoBased() {
		htlc, err := rebuildHtlc(
			swap.KindReverse, rev.Version, rev.TimeoutBlockHeight,
			rev.RedeemScript, rev.SwapTree, rev.PreimageHash,
			currency.Params,
		)
		if err != nil {
			return err
		}

		txid, fee, err = n.refundUtxo(
			ctx, currency, htlc, rev.TransactionID, rev.KeyIndex,
			labels.Refund(swap.KindReverse, rev.ID),
		)
		if err != nil {
			return fmt.Errorf("refund swap %v: %w", rev.ID, err)
		}

		vin = new(uint32)
	} else {
		txid, fee, err = n.refundEvm(
			ctx, currency, rev.TransactionID, rev.PreimageHash,
		)
		if err != nil {
			return fmt.Errorf("refund swap %v: %w", rev.ID, err)
		}
	}

	err = n.cfg.Store.AddRefundTransaction(ctx, &swapdb.RefundTransaction{
		SwapID: rev.ID,
		Kind:   swap.KindReverse,
		Symbol: currency.Symbol,
		TxID:   txid,
		Vin:    vin,
	})
	if err != nil {
		return err
	}

	changed, err := n.progressKind(
		ctx, swap.KindReverse, rev.ID,
		swapdb.StatusTransactionRefunded,
	)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	return n.emit(ctx, RefundEvent{
		SwapID:   rev.ID,
		Kind:     swap.KindReverse,
		TxID:     txid,
		MinerFee: fee,
	})
}

// refundChain refunds our lockup on the sending leg of a chain swap whose
// timeout height passed. A refund that does not broadcast leaves the swap
// unchanged for a manual retry.
func (n *Nursery) refundChain(ctx context.Context, c *swapdb.Chain) error {
	sending, err := n.cfg.Currencies.Get(c.Sending.Symbol)
	if err != nil {
		return err
	}

	log.Infof("Refunding lockup %v of chainSwap swap %v",
		c.Sending.TransactionID, c.ID)

	var (
		txid string
		vin  *uint32
		fee  btcutil.Amount
	)
	if sending.Type.IsUtxoBased() {
		htlc, err := rebuildHtlc(
			swap.KindChain, c.Version,
			c.Sending.TimeoutBlockHeight, c.Sending.RedeemScript,
			c.Sending.SwapTree, c.PreimageHash, sending.Params,
		)
		if err != nil {
			return err
		}

		txid, fee, err = n.refundUtxo(
			ctx, sending, htlc, c.Sending.TransactionID,
			c.Sending.KeyIndex,
			labels.Refund(swap.KindChain, c.ID),
		)
		if err != nil {
			return fmt.Errorf("refund swap %v: %w", c.ID, err)
		}

		vin = new(uint32)
	} else {
		txid, fee, err = n.refundEvm(
			ctx, sending, c.Sending.TransactionID, c.PreimageHash,
		)
		if err != nil {
			return fmt.Errorf("refund swap %v: %w", c.ID, err)
		}
	}

	err = n.cfg.Store.AddRefundTransaction(ctx, &swapdb.RefundTransaction{
		SwapID: c.ID,
		Kind:   swap.KindChain,
		Symbol: sending.Symbol,
		TxID:   txid,
		Vin:    vin,
	})
	if err != nil {
		return err
	}

	changed, err := n.progressKind(
		ctx, swap.KindChain, c.ID, swapdb.StatusTransactionRefunded,
	)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	return n.emit(ctx, RefundEvent{
		SwapID:   c.ID,
		Kind:     swap.KindChain,
		TxID:     txid,
		MinerFee: fee,
	})
}

// refundUtxo spends a lockup output through the timeout path back to a
// fresh wallet address. The transaction carries the lockup timeout as its
// locktime, broadcasting early is rejected by the chain backend.
func (n *Nursery) refundUtxo(ctx context.Context, currency *Currency,
	htlc *swap.Htlc, lockupTxID string, keyIndex int32, label string) (
	string, btcutil.Amount, error) {

	lockupTx, err := currency.Chain.RawTransaction(ctx, lockupTxID)
	if err != nil {
		return "", 0, fmt.Errorf("fetch lockup: %w", err)
	}

	outpoint, value, err := swap.GetScriptOutput(lockupTx, htlc.PkScript)
	if err != nil {
		return "", 0, err
	}

	addr, err := currency.Wallet.NewAddress(ctx, label)
	if err != nil {
		return "", 0, err
	}

	destAddr, err := btcutil.DecodeAddress(addr, currency.Params)
	if err != nil {
		return "", 0, err
	}

	feeRate, err := currency.Chain.EstimateFee(ctx, spendFeeConfTarget)
	if err != nil {
		return "", 0, err
	}

	privKey, err := currency.Wallet.KeyForIndex(keyIndex)
	if err != nil {
		return "", 0, err
	}

	tx, fee, err := swap.CreateRefundTransaction(
		htlc, *outpoint, value, destAddr, feeRate, privKey,
	)
	if err != nil {
		return "", 0, err
	}

	txid, err := currency.Chain.SendRawTransaction(ctx, tx, true)
	if err != nil {
		return "", 0, fmt.Errorf("broadcast refund: %w", err)
	}

	log.Infof("Refunded %v lockup %v with %v, fee %v", currency.Symbol,
		lockupTxID, txid, fee)

	return txid, fee, nil
}

// refundEvm refunds a contract lockup after its timelock passed. The lockup
// values are read back from the lockup transaction, the contract recomputes
// its commitment from them.
func (n *Nursery) refundEvm(ctx context.Context, currency *Currency,
	lockupTxID string, preimageHash lntypes.Hash) (string, btcutil.Amount,
	error) {

	var (
		manager      = currency.EVM
		lockupTxHash = common.HexToHash(lockupTxID)

		txHash common.Hash
	)

	if currency.Type == swap.CurrencyEther {
		values, err := manager.Contracts.EtherSwapValues(
			ctx, lockupTxHash, preimageHash,
		)
		if err != nil {
			return "", 0, fmt.Errorf("read lockup values: %w", err)
		}

		txHash, err = manager.Contracts.RefundEther(
			ctx, preimageHash, values.Amount, values.ClaimAddress,
			values.Timelock,
		)
		if err != nil {
			return "", 0, err
		}
	} else {
		values, err := manager.Contracts.TokenSwapValues(
			ctx, lockupTxHash, preimageHash,
		)
		if err != nil {
			return "", 0, fmt.Errorf("read lockup values: %w", err)
		}

		txHash, err = manager.Contracts.RefundToken(
			ctx, values.TokenAddress, preimageHash, values.Amount,
			values.ClaimAddress, values.Timelock,
		)
		if err != nil {
			return "", 0, err
		}
	}

	fee, err := manager.TransactionFee(ctx, txHash)
	if err != nil {
		// The receipt is only available once the refund is mined.
		log.Debugf("Fee of refund %v not known yet: %v", txHash, err)
		fee = 0
	}

	log.Infof("Refunded %v lockup %v with %v", currency.Symbol,
		lockupTxID, txHash)

	return txHash.Hex(), fee, nil
}
