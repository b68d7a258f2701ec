package swapd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
	"github.com/swapdhq/swapd/lightning"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
	"github.com/swapdhq/swapd/test"
)

// TestReverseHappyPath drives a reverse swap without a prepay invoice from
// registration to settlement: the hold invoice is accepted, the server locks
// up, the user claims onchain and the invoice settles with the revealed
// preimage.
func TestReverseHappyPath(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newReverse("rev-happy", 1, 400_000, 0)
	c.registerReverse(f)

	c.lnd.SetInvoiceState(f.preimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	send := c.nextSend()
	require.Equal(t, f.rev.LockupAddress, send.Addr)
	require.Equal(t, btcutil.Amount(400_000), send.Amount)
	require.Equal(t, chainfee.SatPerVByte(2), send.FeeRate)

	txEvent := nextEventAs[TransactionEvent](c)
	require.Equal(t, swap.KindReverse, txEvent.Kind)
	require.Equal(t, swapdb.StatusTransactionMempool, txEvent.Status)
	require.Equal(t, send.Result.TxID, txEvent.TxID)

	sent := nextEventAs[CoinsSentEvent](c)
	require.Equal(t, send.Result.TxID, sent.TxID)
	require.Equal(t, btcutil.Amount(400_000), sent.Amount)
	require.Equal(t, send.Result.Fee, sent.MinerFee)

	rev := c.reverse(f.rev.ID)
	require.Equal(t, send.Result.TxID, rev.TransactionID)
	require.Equal(t, send.Result.Fee, rev.MinerFee)

	// The claim watch sits on the lockup outpoint.
	lockupOp := wire.OutPoint{
		Hash:  send.Result.Tx.TxHash(),
		Index: send.Result.Vout,
	}
	require.True(t, c.btc.HasInputFilter(lockupOp))

	c.sendTx(send.Result.Tx, true)

	confirmed := nextEventAs[TransactionEvent](c)
	require.Equal(t, swapdb.StatusTransactionConfirmed, confirmed.Status)
	require.True(t, confirmed.Confirmed)

	// The user sweeps the lockup, revealing the preimage.
	c.sendTx(spendTransaction(lockupOp, f.preimage), false)

	require.Equal(t, f.preimage, c.nextSettle())

	settled := nextEventAs[InvoiceSettledEvent](c)
	require.Equal(t, f.rev.ID, settled.SwapID)

	rev = c.reverse(f.rev.ID)
	require.Equal(t, swapdb.StatusInvoiceSettled, rev.Status)
	require.Equal(t, &f.preimage, rev.Preimage)

	require.False(t, c.btc.HasInputFilter(lockupOp))

	c.stop()
}

// TestReversePrepayMainFirst verifies that a swap with a prepay invoice does
// not lock up on the main invoice alone and that the prepay acceptance
// releases the lockup at the fee rate the prepay funds.
func TestReversePrepayMainFirst(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	// 1530 sat prepay over the 153 vbyte legacy lockup funds 10 sat/vb.
	f := c.newReverse("rev-prepay", 2, 400_000, 1_530_000)
	c.registerReverse(f)

	c.lnd.SetInvoiceState(f.preimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	c.syncQueue(swap.KindReverse)
	c.assertNoSend()

	c.lnd.SetInvoiceState(f.feePreimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	feePaid := nextEventAs[MinerFeePaidEvent](c)
	require.Equal(t, f.rev.ID, feePaid.SwapID)

	send := c.nextSend()
	require.Equal(t, chainfee.SatPerVByte(10), send.FeeRate)

	nextEventAs[TransactionEvent](c)
	nextEventAs[CoinsSentEvent](c)

	lockupOp := wire.OutPoint{Hash: send.Result.Tx.TxHash()}
	c.sendTx(send.Result.Tx, true)
	nextEventAs[TransactionEvent](c)

	c.sendTx(spendTransaction(lockupOp, f.preimage), false)

	// The main invoice settles first, then the prepay.
	require.Equal(t, f.preimage, c.nextSettle())
	require.Equal(t, f.feePreimage, c.nextSettle())

	nextEventAs[InvoiceSettledEvent](c)
	require.Equal(
		t, swapdb.StatusInvoiceSettled, c.reverse(f.rev.ID).Status,
	)

	c.stop()
}

// TestReversePrepayFeeFirst verifies the opposite acceptance order: the
// prepay alone does not lock up, the main invoice acceptance does.
func TestReversePrepayFeeFirst(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newReverse("rev-feefirst", 3, 400_000, 1_530_000)
	c.registerReverse(f)

	c.lnd.SetInvoiceState(f.feePreimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	nextEventAs[MinerFeePaidEvent](c)
	c.syncQueue(swap.KindReverse)
	c.assertNoSend()

	require.Equal(
		t, swapdb.StatusMinerFeePaid, c.reverse(f.rev.ID).Status,
	)

	c.lnd.SetInvoiceState(f.preimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	send := c.nextSend()
	require.Equal(t, f.rev.LockupAddress, send.Addr)

	nextEventAs[TransactionEvent](c)
	nextEventAs[CoinsSentEvent](c)

	require.Equal(
		t, swapdb.StatusTransactionMempool, c.reverse(f.rev.ID).Status,
	)

	c.stop()
}

// TestReverseInvoiceExpired verifies that an unpaid hold invoice crossing
// its expiry fails the swap and cancels the invoice.
func TestReverseInvoiceExpired(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newReverse("rev-expired", 4, 400_000, 0)
	c.registerReverse(f)

	c.clock.SetTime(testTime.Add(2 * time.Hour))
	c.tickExpiry()

	expired := nextEventAs[InvoiceExpiredEvent](c)
	require.Equal(t, f.rev.ID, expired.SwapID)

	require.Equal(t, f.preimage.Hash(), c.nextCancel())

	require.Equal(
		t, swapdb.StatusInvoiceExpired, c.reverse(f.rev.ID).Status,
	)

	c.stop()
}

// TestReverseSendFailure verifies that a failed lockup send fails the swap,
// cancels the invoice and notifies the operator.
func TestReverseSendFailure(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newReverse("rev-sendfail", 5, 400_000, 0)
	c.registerReverse(f)

	c.wallet.SetSendError(errors.New("wallet empty"))

	c.lnd.SetInvoiceState(f.preimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	send := c.nextSend()
	require.Nil(t, send.Result)

	failed := nextEventAs[CoinsFailedToSendEvent](c)
	require.Equal(t, f.rev.ID, failed.SwapID)
	require.Contains(t, failed.Reason, "wallet empty")

	require.Equal(t, f.preimage.Hash(), c.nextCancel())

	n := c.nextNotification()
	require.Equal(t, f.rev.ID, n.swapID)
	require.Contains(t, n.message, "lockup failed")

	require.Equal(
		t, swapdb.StatusTransactionFailed, c.reverse(f.rev.ID).Status,
	)

	c.stop()
}

// TestReverseExpiryRefund verifies that an unclaimed lockup is refunded
// after the timeout and that the refund confirmation cancels the main
// invoice while settling the prepay.
func TestReverseExpiryRefund(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newReverse("rev-refund", 6, 400_000, 1_530_000)
	c.registerReverse(f)

	c.lnd.SetInvoiceState(f.preimage.Hash(), lightning.InvoiceAccepted)
	c.lnd.SetInvoiceState(f.feePreimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	nextEventAs[MinerFeePaidEvent](c)
	send := c.nextSend()
	nextEventAs[TransactionEvent](c)
	nextEventAs[CoinsSentEvent](c)

	c.mineBlock(testTimeoutHeight)

	refund := c.nextBroadcast()
	lockupOp := wire.OutPoint{Hash: send.Result.Tx.TxHash()}
	require.Equal(t, lockupOp, refund.TxIn[0].PreviousOutPoint)

	refundEvent := nextEventAs[RefundEvent](c)
	require.Equal(t, refund.TxHash().String(), refundEvent.TxID)

	require.Equal(
		t, swapdb.StatusTransactionRefunded, c.reverse(f.rev.ID).Status,
	)

	// The refund is not confirmed yet, the invoices stay held. HTLCs
	// could still be released if the refund is reorged away.
	c.tickRefund()
	c.syncQueue(swap.KindReverse)
	c.assertNoCancel()

	c.btc.SetConfirmations(refundEvent.TxID, 1)
	c.tickRefund()

	require.Equal(t, f.preimage.Hash(), c.nextCancel())
	require.Equal(t, f.feePreimage, c.nextSettle())

	c.syncQueue(swap.KindReverse)

	pending, err := c.store.PendingRefunds(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)

	c.stop()
}

// TestReverseCyclicSelfPayment verifies that a reverse swap paid by the
// daemon's own submarine swap cancels its hold invoice instead of settling
// it, settling would deadlock the payment.
func TestReverseCyclicSelfPayment(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newReverse("rev-cyclic", 7, 400_000, 0)
	c.registerReverse(f)

	sub := &swapdb.Submarine{
		ID:           "sub-cyclic",
		Pair:         swapdb.Pair{Base: "BTC", Quote: "BTC"},
		Version:      swap.VersionLegacy,
		PreimageHash: f.preimage.Hash(),
		Invoice:      f.invoice,
		Status:       swapdb.StatusSwapCreated,
		CreatedAt:    testTime,
	}
	require.NoError(t, c.store.CreateSubmarine(context.Background(), sub))

	c.lnd.SetInvoiceState(f.preimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	send := c.nextSend()
	nextEventAs[TransactionEvent](c)
	nextEventAs[CoinsSentEvent](c)

	lockupOp := wire.OutPoint{Hash: send.Result.Tx.TxHash()}
	c.sendTx(send.Result.Tx, true)
	nextEventAs[TransactionEvent](c)

	c.sendTx(spendTransaction(lockupOp, f.preimage), false)

	require.Equal(t, f.preimage.Hash(), c.nextCancel())

	nextEventAs[InvoiceSettledEvent](c)

	rev := c.reverse(f.rev.ID)
	require.Equal(t, swapdb.StatusInvoiceSettled, rev.Status)
	require.Equal(t, &f.preimage, rev.Preimage)

	c.stop()
}

// TestReverseDoubleLockupGuard verifies that a repeated invoice acceptance
// cannot trigger a second lockup.
func TestReverseDoubleLockupGuard(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()

	f := c.newReverse("rev-double", 8, 400_000, 0)
	c.registerReverse(f)

	c.lnd.SetInvoiceState(f.preimage.Hash(), lightning.InvoiceAccepted)
	c.tickHold()

	c.nextSend()
	nextEventAs[TransactionEvent](c)
	nextEventAs[CoinsSentEvent](c)

	err := c.nursery.handleReverseInvoicePaid(
		context.Background(), f.rev.ID,
	)
	require.NoError(t, err)

	c.assertNoSend()

	c.stop()
}
