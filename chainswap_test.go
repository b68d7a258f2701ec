package swapd

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
	"github.com/swapdhq/swapd/batch"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
	"github.com/swapdhq/swapd/test"
)

// TestChainSwapHappyPath drives a chain swap from Bitcoin to Ether through
// its full lifecycle: the confirmed user lockup triggers our contract
// lockup, the counterparty claim reveals the preimage and our claim sweeps
// the user lockup.
func TestChainSwapHappyPath(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newChainSwapToEvm("chain-happy", 9, 700_000, 650_000, false)
	c.registerChain(f)

	lockup := lockupTransaction(f.htlc, 700_000)
	c.sendTx(lockup, true)

	txEvent := nextEventAs[TransactionEvent](c)
	require.Equal(t, swap.KindChain, txEvent.Kind)
	require.Equal(t, swapdb.StatusTransactionConfirmed, txEvent.Status)
	require.True(t, txEvent.Confirmed)

	call := c.nextContractCall()
	require.Equal(t, "LockupEther", call.Method)
	require.Equal(t, f.cs.PreimageHash, call.PreimageHash)
	require.Equal(t, evm.WeiFromSats(650_000), call.Amount)
	require.Equal(t, testEvmClaimAddress, call.ClaimAddress)
	require.Equal(t, uint64(testEvmTimeoutHeight), call.Timelock)

	txEvent = nextEventAs[TransactionEvent](c)
	require.Equal(t, swapdb.StatusTransactionServerMempool, txEvent.Status)
	require.Equal(t, call.TxHash.Hex(), txEvent.TxID)

	sent := nextEventAs[CoinsSentEvent](c)
	require.Equal(t, call.TxHash.Hex(), sent.TxID)
	require.Equal(t, btcutil.Amount(650_000), sent.Amount)

	// The counterparty claims the contract lockup, revealing the preimage.
	c.syncQueue(swap.KindChain)
	err := c.nursery.handleChainClaim(
		context.Background(), f.cs.ID, f.preimage,
	)
	require.NoError(t, err)

	require.Equal(t, f.cs.ID, c.nextOffer().SwapID)

	claim := c.nextBroadcast()
	require.Equal(t, outpointOf(lockup), claim.TxIn[0].PreviousOutPoint)
	require.Equal(t, f.preimage[:], []byte(claim.TxIn[0].Witness[1]))

	claimEvent := nextEventAs[ClaimEvent](c)
	require.Equal(t, f.cs.ID, claimEvent.SwapID)
	require.Equal(t, claim.TxHash().String(), claimEvent.TxID)
	require.Positive(t, claimEvent.MinerFee)

	cs := c.chainSwap(f.cs.ID)
	require.Equal(t, swapdb.StatusTransactionClaimed, cs.Status)
	require.Equal(t, btcutil.Amount(700_000), cs.Receiving.Amount)
	require.NotNil(t, cs.Preimage)
	require.Equal(t, f.preimage, *cs.Preimage)

	require.False(t, c.btc.HasOutputFilter(f.htlc.PkScript))

	c.stop()
}

// TestChainSwapZeroConf verifies that an unconfirmed user lockup already
// triggers our own lockup when zero-conf is enabled, and that the later
// confirmation does not lock up a second time.
func TestChainSwapZeroConf(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newChainSwapToEvm("chain-zeroconf", 10, 700_000, 650_000, true)
	c.registerChain(f)

	lockup := lockupTransaction(f.htlc, 700_000)
	c.sendTx(lockup, false)

	txEvent := nextEventAs[TransactionEvent](c)
	require.Equal(t, swapdb.StatusTransactionMempool, txEvent.Status)
	require.False(t, txEvent.Confirmed)

	require.Equal(t, "LockupEther", c.nextContractCall().Method)
	nextEventAs[TransactionEvent](c)
	nextEventAs[CoinsSentEvent](c)

	// The confirmation of the already accepted lockup must not move the
	// swap backwards or lock up a second time.
	c.sendTx(lockup, true)

	c.syncQueue(swap.KindChain)
	c.assertNoEvent()
	select {
	case call := <-c.contracts.Calls:
		t.Fatalf("unexpected second lockup %v", call.Method)
	default:
	}

	require.Equal(
		t, swapdb.StatusTransactionServerMempool,
		c.chainSwap(f.cs.ID).Status,
	)

	c.stop()
}

// TestChainSwapEvmReceiving drives a chain swap from Ether to Bitcoin: the
// contract lockup triggers our onchain lockup, the counterparty sweep of it
// reveals the preimage and our claim goes back through the contract.
func TestChainSwapEvmReceiving(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newChainSwapFromEvm("chain-evm", 11, 800_000, 750_000)
	c.registerChain(f)

	lockupHash := common.Hash{0: 0xcc, 31: 0x01}
	err := c.nursery.handleChainEvmLockup(
		context.Background(), evm.LockupEvent{
			SwapID:   f.cs.ID,
			Kind:     swap.KindChain,
			TxHash:   lockupHash,
			Amount:   evm.WeiFromSats(800_000),
			Timelock: uint64(testEvmTimeoutHeight),
		},
	)
	require.NoError(t, err)

	txEvent := nextEventAs[TransactionEvent](c)
	require.Equal(t, swapdb.StatusTransactionConfirmed, txEvent.Status)
	require.Equal(t, lockupHash.Hex(), txEvent.TxID)

	send := c.nextSend()
	require.Equal(t, f.cs.Sending.LockupAddress, send.Addr)
	require.Equal(t, btcutil.Amount(750_000), send.Amount)
	require.Equal(t, chainfee.SatPerVByte(2), send.FeeRate)

	txEvent = nextEventAs[TransactionEvent](c)
	require.Equal(t, swapdb.StatusTransactionServerMempool, txEvent.Status)
	require.Equal(t, send.Result.TxID, txEvent.TxID)

	sent := nextEventAs[CoinsSentEvent](c)
	require.Equal(t, btcutil.Amount(750_000), sent.Amount)
	require.Equal(t, btcutil.Amount(200), sent.MinerFee)

	lockupOp := wire.OutPoint{Hash: send.Result.Tx.TxHash()}
	require.True(t, c.btc.HasInputFilter(lockupOp))

	c.sendTx(send.Result.Tx, true)

	txEvent = nextEventAs[TransactionEvent](c)
	require.Equal(
		t, swapdb.StatusTransactionServerConfirmed, txEvent.Status,
	)

	// The claim readback and its mined receipt are scripted before the
	// counterparty sweep triggers the claim. The contract mock hands out
	// its transaction hashes deterministically.
	c.contracts.SetEtherSwapValues(lockupHash, &evm.EtherSwapValues{
		Amount:        evm.WeiFromSats(800_000),
		RefundAddress: common.HexToAddress("0xdd"),
		Timelock:      uint64(testEvmTimeoutHeight),
	})
	claimHash := common.Hash{0: 0xee, 31: 0x01}
	c.backend.SetReceipt(claimHash, &types.Receipt{
		BlockNumber:       big.NewInt(90),
		GasUsed:           21_000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
	})
	c.backend.SetHeight(95)

	c.sendTx(spendTransaction(lockupOp, f.preimage), false)

	require.Equal(t, f.cs.ID, c.nextOffer().SwapID)

	call := c.nextContractCall()
	require.Equal(t, "ClaimEther", call.Method)
	require.Equal(t, f.preimage, call.Preimage)
	require.Equal(t, evm.WeiFromSats(800_000), call.Amount)
	require.Equal(t, claimHash, call.TxHash)

	claimEvent := nextEventAs[ClaimEvent](c)
	require.Equal(t, claimHash.Hex(), claimEvent.TxID)
	require.Equal(t, btcutil.Amount(2_100), claimEvent.MinerFee)

	cs := c.chainSwap(f.cs.ID)
	require.Equal(t, swapdb.StatusTransactionClaimed, cs.Status)
	require.Equal(t, btcutil.Amount(2_100), cs.Receiving.Fee)
	require.False(t, c.btc.HasInputFilter(lockupOp))

	c.stop()
}

// TestChainSwapEvmValidation verifies that contract lockups below the
// expected amount or with a foreign timelock fail the swap instead of
// triggering our own lockup.
func TestChainSwapEvmValidation(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	short := c.newChainSwapFromEvm("chain-evm-short", 12, 800_000, 750_000)
	c.registerChain(short)

	err := c.nursery.handleChainEvmLockup(
		context.Background(), evm.LockupEvent{
			SwapID:   short.cs.ID,
			Kind:     swap.KindChain,
			TxHash:   common.Hash{0: 0xcc, 31: 0x02},
			Amount:   evm.WeiFromSats(700_000),
			Timelock: uint64(testEvmTimeoutHeight),
		},
	)
	require.NoError(t, err)

	failed := nextEventAs[LockupFailedEvent](c)
	require.Equal(t, short.cs.ID, failed.SwapID)
	require.Contains(t, failed.Reason, "expected")
	require.Equal(
		t, swapdb.StatusTransactionLockupFailed,
		c.chainSwap(short.cs.ID).Status,
	)

	wrongLock := c.newChainSwapFromEvm("chain-evm-lock", 13, 800_000,
		750_000)
	c.registerChain(wrongLock)

	err = c.nursery.handleChainEvmLockup(
		context.Background(), evm.LockupEvent{
			SwapID:   wrongLock.cs.ID,
			Kind:     swap.KindChain,
			TxHash:   common.Hash{0: 0xcc, 31: 0x03},
			Amount:   evm.WeiFromSats(800_000),
			Timelock: uint64(testEvmTimeoutHeight) + 10,
		},
	)
	require.NoError(t, err)

	failed = nextEventAs[LockupFailedEvent](c)
	require.Contains(t, failed.Reason, "timelock")
	require.Equal(
		t, swapdb.StatusTransactionLockupFailed,
		c.chainSwap(wrongLock.cs.ID).Status,
	)

	c.assertNoSend()

	c.stop()
}

// TestChainSwapSendFailure verifies that a failing contract lockup fails the
// swap and leaves the user lockup to its owner.
func TestChainSwapSendFailure(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newChainSwapToEvm("chain-sendfail", 14, 700_000, 650_000, false)
	c.registerChain(f)

	c.contracts.SetCallError(errors.New("gas estimation failed"))

	c.sendTx(lockupTransaction(f.htlc, 700_000), true)

	nextEventAs[TransactionEvent](c)

	failed := nextEventAs[CoinsFailedToSendEvent](c)
	require.Equal(t, f.cs.ID, failed.SwapID)
	require.Contains(t, failed.Reason, "gas estimation failed")

	n := c.nextNotification()
	require.Equal(t, f.cs.ID, n.swapID)
	require.Contains(t, n.message, "lockup failed")

	require.Equal(
		t, swapdb.StatusTransactionFailed, c.chainSwap(f.cs.ID).Status,
	)

	c.stop()
}

// TestChainSwapDeferredClaim verifies that a deferred chain swap claim parks
// the swap until the batcher sweeps it.
func TestChainSwapDeferredClaim(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newChainSwapToEvm("chain-deferred", 15, 700_000, 650_000, false)
	c.registerChain(f)

	lockup := lockupTransaction(f.htlc, 700_000)
	c.sendTx(lockup, true)

	nextEventAs[TransactionEvent](c)
	c.nextContractCall()
	nextEventAs[TransactionEvent](c)
	nextEventAs[CoinsSentEvent](c)

	c.claimer.setDeferred(true)

	c.syncQueue(swap.KindChain)
	err := c.nursery.handleChainClaim(
		context.Background(), f.cs.ID, f.preimage,
	)
	require.NoError(t, err)

	offer := c.nextOffer()
	require.Equal(t, swap.KindChain, offer.Kind)
	require.Equal(t, "BTC", offer.Symbol)
	require.Equal(t, f.preimage, offer.Preimage)

	nextEventAs[ClaimPendingEvent](c)
	require.Equal(
		t, swapdb.StatusTransactionClaimPending,
		c.chainSwap(f.cs.ID).Status,
	)
	c.assertNoEvent()

	err = c.nursery.SweepBatch(
		context.Background(), "BTC", []batch.ClaimRequest{offer},
	)
	require.NoError(t, err)

	claim := c.nextBroadcast()
	require.Equal(t, outpointOf(lockup), claim.TxIn[0].PreviousOutPoint)

	claimEvent := nextEventAs[ClaimEvent](c)
	require.Equal(t, claim.TxHash().String(), claimEvent.TxID)
	require.Equal(
		t, swapdb.StatusTransactionClaimed, c.chainSwap(f.cs.ID).Status,
	)

	c.stop()
}

// TestChainSwapExpiry verifies that a chain swap whose sending leg locked up
// refunds through the contract after the timeout, and that the confirmed
// refund settles the refund record.
func TestChainSwapExpiry(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newChainSwapToEvm("chain-expiry", 16, 700_000, 650_000, false)
	c.registerChain(f)

	c.sendTx(lockupTransaction(f.htlc, 700_000), true)

	nextEventAs[TransactionEvent](c)
	lockupCall := c.nextContractCall()
	nextEventAs[TransactionEvent](c)
	nextEventAs[CoinsSentEvent](c)

	c.contracts.SetEtherSwapValues(lockupCall.TxHash, &evm.EtherSwapValues{
		Amount:       evm.WeiFromSats(650_000),
		ClaimAddress: testEvmClaimAddress,
		Timelock:     uint64(testEvmTimeoutHeight),
	})

	c.backend.SendHead(uint64(testEvmTimeoutHeight))

	refundCall := c.nextContractCall()
	require.Equal(t, "RefundEther", refundCall.Method)
	require.Equal(t, f.cs.PreimageHash, refundCall.PreimageHash)
	require.Equal(t, evm.WeiFromSats(650_000), refundCall.Amount)
	require.Equal(t, testEvmClaimAddress, refundCall.ClaimAddress)

	refundEvent := nextEventAs[RefundEvent](c)
	require.Equal(t, f.cs.ID, refundEvent.SwapID)
	require.Equal(t, refundCall.TxHash.Hex(), refundEvent.TxID)
	require.Equal(
		t, swapdb.StatusTransactionRefunded, c.chainSwap(f.cs.ID).Status,
	)

	c.backend.SetReceipt(refundCall.TxHash, &types.Receipt{
		BlockNumber:       big.NewInt(973),
		GasUsed:           21_000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
	})
	c.backend.SetHeight(980)

	// The second tick cannot fire before the first scan queued the
	// teardown, the barrier then waits for the teardown itself.
	c.tickRefund()
	c.tickRefund()
	c.syncQueue(swap.KindChain)

	pending, err := c.store.PendingRefunds(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)

	c.stop()
}

// TestChainSwapExpiryNoLockup verifies that a chain swap expires cleanly
// when the timeout passes before anything was locked up.
func TestChainSwapExpiryNoLockup(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newChainSwapToEvm("chain-noop", 17, 700_000, 650_000, false)
	c.registerChain(f)

	c.mineBlock(testTimeoutHeight)

	expired := nextEventAs[ExpirationEvent](c)
	require.Equal(t, f.cs.ID, expired.SwapID)
	require.Equal(t, swap.KindChain, expired.Kind)

	require.Equal(
		t, swapdb.StatusSwapExpired, c.chainSwap(f.cs.ID).Status,
	)
	require.False(t, c.btc.HasOutputFilter(f.htlc.PkScript))

	c.stop()
}
