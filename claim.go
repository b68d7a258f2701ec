package swapd

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/batch"
	"github.com/swapdhq/swapd/labels"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// claimSubmarine claims the user lockup of a submarine swap with the
// preimage the payment revealed. The claim is offered to the batcher first,
// deferred claims finish when their batch is swept.
func (n *Nursery) claimSubmarine(ctx context.Context, sub *swapdb.Submarine,
	preimage lntypes.Preimage) error {

	deferred := n.cfg.Claimer.DeferClaim(ctx, batch.ClaimRequest{
		SwapID:   sub.ID,
		Kind:     swap.KindSubmarine,
		Symbol:   sub.ChainSymbol(),
		Preimage: preimage,
	})
	if deferred {
		changed, err := n.progressKind(
			ctx, swap.KindSubmarine, sub.ID,
			swapdb.StatusTransactionClaimPending,
		)
		if err != nil {
			return err
		}

		if !changed {
			return nil
		}

		return n.emit(ctx, ClaimPendingEvent{
			SwapID: sub.ID,
			Kind:   swap.KindSubmarine,
		})
	}

	return n.claimSubmarineNow(
		ctx, sub, preimage, labels.Claim(swap.KindSubmarine, sub.ID),
	)
}

// claimSubmarineNow broadcasts the claim of a submarine swap and finishes
// the swap.
func (n *Nursery) claimSubmarineNow(ctx context.Context,
	sub *swapdb.Submarine, preimage lntypes.Preimage, label string) error {

	currency, err := n.cfg.Currencies.Get(sub.ChainSymbol())
	if err != nil {
		return err
	}

	var (
		txid string
		fee  btcutil.Amount
	)
	if currency.Type.IsUtxoBased() {
		htlc, err := rebuildHtlc(
			swap.KindSubmarine, sub.Version,
			sub.TimeoutBlockHeight, sub.RedeemScript, sub.SwapTree,
			sub.PreimageHash, currency.Params,
		)
		if err != nil {
			return err
		}

		txid, fee, err = n.claimUtxo(
			ctx, currency, htlc, sub.LockupTransactionID,
			sub.KeyIndex, preimage, label,
		)
		if err != nil {
			return fmt.Errorf("claim lockup of %v: %w", sub.ID, err)
		}
	} else {
		txid, fee, err = n.claimEvm(
			ctx, currency, sub.LockupTransactionID, preimage,
		)
		if err != nil {
			return fmt.Errorf("claim lockup of %v: %w", sub.ID, err)
		}
	}

	if fee > 0 {
		err := n.cfg.Store.SetSubmarineMinerFee(ctx, sub.ID, fee)
		if err != nil {
			return err
		}
	}

	changed, err := n.progressKind(
		ctx, swap.KindSubmarine, sub.ID,
		swapdb.StatusTransactionClaimed,
	)
	if err != nil {
		return err
	}

	forgetOnCurrency(currency, sub.ID)

	if !changed {
		return nil
	}

	return n.emit(ctx, ClaimEvent{
		SwapID:   sub.ID,
		Kind:     swap.KindSubmarine,
		TxID:     txid,
		MinerFee: fee,
	})
}

// reofferSubmarineClaim re-offers the deferred claim of a submarine swap to
// the batcher, claiming immediately when batching is no longer available for
// its chain.
func (n *Nursery) reofferSubmarineClaim(ctx context.Context,
	id string) error {

	sub, err := n.cfg.Store.GetSubmarine(ctx, id)
	if err != nil {
		return err
	}

	if sub.Status != swapdb.StatusTransactionClaimPending {
		return nil
	}

	if sub.Preimage == nil {
		return fmt.Errorf("claim pending swap %v has no preimage", id)
	}

	deferred := n.cfg.Claimer.DeferClaim(ctx, batch.ClaimRequest{
		SwapID:   id,
		Kind:     swap.KindSubmarine,
		Symbol:   sub.ChainSymbol(),
		Preimage: *sub.Preimage,
	})
	if deferred {
		return nil
	}

	return n.claimSubmarineNow(
		ctx, sub, *sub.Preimage, labels.Claim(swap.KindSubmarine, id),
	)
}

// claimChain claims the user lockup on the receiving leg of a chain swap.
// The claim is offered to the batcher first.
func (n *Nursery) claimChain(ctx context.Context, c *swapdb.Chain,
	preimage lntypes.Preimage) error {

	deferred := n.cfg.Claimer.DeferClaim(ctx, batch.ClaimRequest{
		SwapID:   c.ID,
		Kind:     swap.KindChain,
		Symbol:   c.Receiving.Symbol,
		Preimage: preimage,
	})
	if deferred {
		changed, err := n.progressKind(
			ctx, swap.KindChain, c.ID,
			swapdb.StatusTransactionClaimPending,
		)
		if err != nil {
			return err
		}

		if !changed {
			return nil
		}

		return n.emit(ctx, ClaimPendingEvent{
			SwapID: c.ID,
			Kind:   swap.KindChain,
		})
	}

	return n.claimChainNow(
		ctx, c, preimage, labels.Claim(swap.KindChain, c.ID),
	)
}

// claimChainNow broadcasts the claim on the receiving leg of a chain swap
// and finishes the swap.
func (n *Nursery) claimChainNow(ctx context.Context, c *swapdb.Chain,
	preimage lntypes.Preimage, label string) error {

	receiving, err := n.cfg.Currencies.Get(c.Receiving.Symbol)
	if err != nil {
		return err
	}

	var (
		txid string
		fee  btcutil.Amount
	)
	if receiving.Type.IsUtxoBased() {
		htlc, err := rebuildHtlc(
			swap.KindChain, c.Version,
			c.Receiving.TimeoutBlockHeight, c.Receiving.RedeemScript,
			c.Receiving.SwapTree, c.PreimageHash, receiving.Params,
		)
		if err != nil {
			return err
		}

		txid, fee, err = n.claimUtxo(
			ctx, receiving, htlc, c.Receiving.TransactionID,
			c.Receiving.KeyIndex, preimage, label,
		)
		if err != nil {
			return fmt.Errorf("claim lockup of %v: %w", c.ID, err)
		}
	} else {
		txid, fee, err = n.claimEvm(
			ctx, receiving, c.Receiving.TransactionID, preimage,
		)
		if err != nil {
			return fmt.Errorf("claim lockup of %v: %w", c.ID, err)
		}
	}

	if fee > 0 {
		err := n.cfg.Store.SetChainClaimMinerFee(ctx, c.ID, fee)
		if err != nil {
			return err
		}
	}

	changed, err := n.progressKind(
		ctx, swap.KindChain, c.ID, swapdb.StatusTransactionClaimed,
	)
	if err != nil {
		return err
	}

	n.forgetChain(c)

	if !changed {
		return nil
	}

	return n.emit(ctx, ClaimEvent{
		SwapID:   c.ID,
		Kind:     swap.KindChain,
		TxID:     txid,
		MinerFee: fee,
	})
}

// reofferChainClaim re-offers the deferred claim of a chain swap to the
// batcher, claiming immediately when batching is no longer available for
// its receiving chain.
func (n *Nursery) reofferChainClaim(ctx context.Context, id string) error {
	c, err := n.cfg.Store.GetChain(ctx, id)
	if err != nil {
		return err
	}

	if c.Status != swapdb.StatusTransactionClaimPending {
		return nil
	}

	if c.Preimage == nil {
		return fmt.Errorf("claim pending swap %v has no preimage", id)
	}

	deferred := n.cfg.Claimer.DeferClaim(ctx, batch.ClaimRequest{
		SwapID:   id,
		Kind:     swap.KindChain,
		Symbol:   c.Receiving.Symbol,
		Preimage: *c.Preimage,
	})
	if deferred {
		return nil
	}

	return n.claimChainNow(
		ctx, c, *c.Preimage, labels.Claim(swap.KindChain, id),
	)
}

// SweepBatch executes the deferred claims of one chain. It is wired as the
// sweep callback of the batch claimer and puts every claim back on the
// queue of its swap kind, so the usual per kind serialization holds.
func (n *Nursery) SweepBatch(ctx context.Context, symbol string,
	reqs []batch.ClaimRequest) error {

	ids := make([]string, len(reqs))
	for i, req := range reqs {
		ids[i] = req.SwapID
	}
	label := labels.BatchClaim(ids)

	for _, req := range reqs {
		var err error
		switch req.Kind {
		case swap.KindSubmarine:
			err = n.swapQueue.submit(
				ctx, req.SwapID, "batched claim",
				func(ctx context.Context) error {
					return n.sweepSubmarineClaim(
						ctx, req.SwapID, req.Preimage,
						label,
					)
				},
			)

		default:
			err = n.chainQueue.submit(
				ctx, req.SwapID, "batched claim",
				func(ctx context.Context) error {
					return n.sweepChainClaim(
						ctx, req.SwapID, req.Preimage,
						label,
					)
				},
			)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// sweepSubmarineClaim finishes the deferred claim of one submarine swap as
// part of a batch sweep.
func (n *Nursery) sweepSubmarineClaim(ctx context.Context, id string,
	preimage lntypes.Preimage, label string) error {

	sub, err := n.cfg.Store.GetSubmarine(ctx, id)
	if err != nil {
		return err
	}

	if sub.Status != swapdb.StatusTransactionClaimPending {
		log.Debugf("Skipping batched claim of swap %v in status %v",
			id, sub.Status)
		return nil
	}

	return n.claimSubmarineNow(ctx, sub, preimage, label)
}

// sweepChainClaim finishes the deferred claim of one chain swap as part of
// a batch sweep.
func (n *Nursery) sweepChainClaim(ctx context.Context, id string,
	preimage lntypes.Preimage, label string) error {

	c, err := n.cfg.Store.GetChain(ctx, id)
	if err != nil {
		return err
	}

	if c.Status != swapdb.StatusTransactionClaimPending {
		log.Debugf("Skipping batched claim of swap %v in status %v",
			id, c.Status)
		return nil
	}

	return n.claimChainNow(ctx, c, preimage, label)
}

// claimUtxo spends a lockup output through the preimage path to a fresh
// wallet address and broadcasts the spend.
func (n *Nursery) claimUtxo(ctx context.Context, currency *Currency,
	htlc *swap.Htlc, lockupTxID string, keyIndex int32,
	preimage lntypes.Preimage, label string) (string, btcutil.Amount,
	error) {

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

	tx, fee, err := swap.CreateClaimTransaction(
		htlc, *outpoint, value, destAddr, feeRate, privKey, preimage,
	)
	if err != nil {
		return "", 0, err
	}

	// Claims of small lockups can spend a large share on fees, the
	// backend's fee rate ceiling must not block them.
	txid, err := currency.Chain.SendRawTransaction(ctx, tx, true)
	if err != nil {
		return "", 0, fmt.Errorf("broadcast claim: %w", err)
	}

	log.Infof("Claimed %v lockup %v with %v, fee %v", currency.Symbol,
		lockupTxID, txid, fee)

	return txid, fee, nil
}

// claimEvm claims a contract lockup with the preimage. The lockup values
// are read back from the lockup transaction, the contract recomputes its
// commitment from them.
func (n *Nursery) claimEvm(ctx context.Context, currency *Currency,
	lockupTxID string, preimage lntypes.Preimage) (string,
	btcutil.Amount, error) {

	var (
		manager      = currency.EVM
		lockupTxHash = common.HexToHash(lockupTxID)
		preimageHash = preimage.Hash()

		txHash common.Hash
	)

	if currency.Type == swap.CurrencyEther {
		values, err := manager.Contracts.EtherSwapValues(
			ctx, lockupTxHash, preimageHash,
		)
		if err != nil {
			return "", 0, fmt.Errorf("read lockup values: %w", err)
		}

		txHash, err = manager.Contracts.ClaimEther(
			ctx, preimage, values.Amount, values.RefundAddress,
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

		txHash, err = manager.Contracts.ClaimToken(
			ctx, values.TokenAddress, preimage, values.Amount,
			values.RefundAddress, values.Timelock,
		)
		if err != nil {
			return "", 0, err
		}
	}

	fee, err := manager.TransactionFee(ctx, txHash)
	if err != nil {
		// The receipt is only available once the claim is mined.
		log.Debugf("Fee of claim %v not known yet: %v", txHash, err)
		fee = 0
	}

	log.Infof("Claimed %v lockup %v with %v", currency.Symbol,
		lockupTxID, txHash)

	return txHash.Hex(), fee, nil
}

// rebuildHtlc reconstructs the lockup script of a swap from its persisted
// form.
func rebuildHtlc(kind swap.Kind, version swap.Version, cltvExpiry int32,
	redeemScript, swapTree []byte, hash lntypes.Hash,
	params *chaincfg.Params) (*swap.Htlc, error) {

	if version == swap.VersionTaproot {
		tree, err := swap.DeserializeTree(swapTree)
		if err != nil {
			return nil, fmt.Errorf("deserialize swap tree: %w", err)
		}

		return swap.NewHtlcFromTree(kind, tree, hash, params)
	}

	return swap.NewHtlcFromScript(
		kind, cltvExpiry, redeemScript, hash, params,
	)
}
