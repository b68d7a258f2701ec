package chain

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"github.com/swapdhq/swapd/swap"
)

var (
	testPreimage = lntypes.Preimage{1, 2, 3, 4}

	testScript = []byte{0, 20, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10,
		11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
)

// watcherTestContext runs a watcher against a mock chain backend.
type watcherTestContext struct {
	t       *testing.T
	chain   *mockChain
	watcher *Watcher
	runErr  chan error
	cancel  context.CancelFunc
}

func newWatcherTestContext(t *testing.T,
	cfg *WatcherConfig) *watcherTestContext {

	chain := newMockChain()
	if cfg == nil {
		cfg = &WatcherConfig{}
	}
	cfg.Symbol = "BTC"
	cfg.Chain = chain

	w := NewWatcher(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- w.Run(ctx)
	}()

	c := &watcherTestContext{
		t:       t,
		chain:   chain,
		watcher: w,
		runErr:  runErr,
		cancel:  cancel,
	}
	t.Cleanup(c.stop)

	return c
}

func (c *watcherTestContext) stop() {
	c.cancel()

	select {
	case err := <-c.runErr:
		require.ErrorIs(c.t, err, context.Canceled)

	case <-time.After(5 * time.Second):
		c.t.Fatal("watcher did not stop")
	}
}

// notifyTx delivers a transaction event to the watcher.
func (c *watcherTestContext) notifyTx(tx *wire.MsgTx, confirmed bool) {
	c.t.Helper()

	select {
	case c.chain.txChan <- TxEvent{Tx: tx, Confirmed: confirmed}:
	case <-time.After(5 * time.Second):
		c.t.Fatal("watcher did not accept tx")
	}
}

// notifyBlock delivers a block event to the watcher.
func (c *watcherTestContext) notifyBlock(height int32) {
	c.t.Helper()

	select {
	case c.chain.blockChan <- height:
	case <-time.After(5 * time.Second):
		c.t.Fatal("watcher did not accept block")
	}
}

// receiveEvent waits for the next watcher event.
func (c *watcherTestContext) receiveEvent() Event {
	c.t.Helper()

	select {
	case event := <-c.watcher.Events():
		return event

	case <-time.After(5 * time.Second):
		c.t.Fatal("no event received")
		return nil
	}
}

// assertNoEvent asserts that no event is pending.
func (c *watcherTestContext) assertNoEvent() {
	c.t.Helper()

	select {
	case event := <-c.watcher.Events():
		c.t.Fatalf("unexpected event %T", event)

	case <-time.After(100 * time.Millisecond):
	}
}

// lockupTx pays the given amount to the test script with a final sequence.
func lockupTx(amount btcutil.Amount) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		PkScript: testScript,
		Value:    int64(amount),
	})

	return tx
}

func TestWatcherLockup(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	ctx.watcher.WatchOutput(&OutputRegistration{
		SwapID:         "lockup",
		Kind:           swap.KindSubmarine,
		PkScript:       testScript,
		ExpectedAmount: 100_000,
		AcceptZeroConf: true,
	})
	require.True(t, ctx.chain.hasOutputFilter(testScript))

	// A mempool lockup paying the expected amount with a final sequence
	// is accepted right away.
	tx := lockupTx(100_000)
	ctx.notifyTx(tx, false)

	event := ctx.receiveEvent()
	lockup, ok := event.(LockupEvent)
	require.True(t, ok)
	require.Equal(t, "lockup", lockup.SwapID)
	require.Equal(t, btcutil.Amount(100_000), lockup.Amount)
	require.Equal(t, uint32(0), lockup.Vout)
	require.False(t, lockup.Confirmed)

	// The confirmation arrives through the same filter.
	ctx.notifyTx(tx, true)

	event = ctx.receiveEvent()
	lockup, ok = event.(LockupEvent)
	require.True(t, ok)
	require.True(t, lockup.Confirmed)
}

func TestWatcherZeroConfDisabled(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	ctx.watcher.WatchOutput(&OutputRegistration{
		SwapID:         "no-zero-conf",
		Kind:           swap.KindSubmarine,
		PkScript:       testScript,
		ExpectedAmount: 100_000,
	})

	tx := lockupTx(100_000)
	ctx.notifyTx(tx, false)

	event := ctx.receiveEvent()
	rejected, ok := event.(ZeroConfRejectedEvent)
	require.True(t, ok)
	require.Equal(t, "no-zero-conf", rejected.SwapID)

	// The filter stays active for the eventual confirmation.
	ctx.notifyTx(tx, true)

	event = ctx.receiveEvent()
	lockup, ok := event.(LockupEvent)
	require.True(t, ok)
	require.True(t, lockup.Confirmed)
}

func TestWatcherZeroConfRBF(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	ctx.watcher.WatchOutput(&OutputRegistration{
		SwapID:         "rbf",
		Kind:           swap.KindSubmarine,
		PkScript:       testScript,
		ExpectedAmount: 100_000,
		AcceptZeroConf: true,
	})

	tx := lockupTx(100_000)
	tx.TxIn[0].Sequence = 0

	ctx.notifyTx(tx, false)

	event := ctx.receiveEvent()
	rejected, ok := event.(ZeroConfRejectedEvent)
	require.True(t, ok)
	require.Contains(t, rejected.Reason, "RBF")
}

func TestWatcherInsufficientLockup(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	ctx.watcher.WatchOutput(&OutputRegistration{
		SwapID:         "short",
		Kind:           swap.KindSubmarine,
		PkScript:       testScript,
		ExpectedAmount: 100_000,
		AcceptZeroConf: true,
	})

	ctx.notifyTx(lockupTx(99_999), false)

	event := ctx.receiveEvent()
	failed, ok := event.(LockupFailedEvent)
	require.True(t, ok)
	require.Contains(t, failed.Reason, "instead of")
}

func TestWatcherOverpaidLockup(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	ctx.watcher.WatchOutput(&OutputRegistration{
		SwapID:         "overpaid",
		Kind:           swap.KindChain,
		PkScript:       testScript,
		ExpectedAmount: 100_000,
		AcceptZeroConf: true,
	})

	// 100k sats above the expected amount is far beyond both the exempt
	// amount and the percentage tolerance.
	ctx.notifyTx(lockupTx(200_000), true)

	event := ctx.receiveEvent()
	failed, ok := event.(LockupFailedEvent)
	require.True(t, ok)
	require.Contains(t, failed.Reason, "overpaid")
}

// rejectLockups vetoes every transaction with a fixed reason.
type rejectLockups struct{}

func (rejectLockups) ApproveLockup(string, *wire.MsgTx) (bool, string) {
	return false, "vetoed by hook"
}

func TestWatcherHookVeto(t *testing.T) {
	ctx := newWatcherTestContext(t, &WatcherConfig{
		Hook: rejectLockups{},
	})

	ctx.watcher.WatchOutput(&OutputRegistration{
		SwapID:         "hooked",
		Kind:           swap.KindSubmarine,
		PkScript:       testScript,
		ExpectedAmount: 100_000,
		AcceptZeroConf: true,
	})

	ctx.notifyTx(lockupTx(100_000), true)

	event := ctx.receiveEvent()
	failed, ok := event.(LockupFailedEvent)
	require.True(t, ok)
	require.Equal(t, "vetoed by hook", failed.Reason)
}

func TestWatcherServerLockup(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	ctx.watcher.WatchOutput(&OutputRegistration{
		SwapID:       "server",
		Kind:         swap.KindReverse,
		PkScript:     testScript,
		ServerLockup: true,
	})

	// Our own lockup in the mempool is not news.
	tx := lockupTx(500_000)
	ctx.notifyTx(tx, false)
	ctx.assertNoEvent()

	ctx.notifyTx(tx, true)

	event := ctx.receiveEvent()
	lockup, ok := event.(LockupEvent)
	require.True(t, ok)
	require.True(t, lockup.ServerLockup)
	require.True(t, lockup.Confirmed)

	// The output filter is spent, only the claim watch remains.
	require.False(t, ctx.chain.hasOutputFilter(testScript))
}

func TestWatcherClaim(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	outpoint := wire.OutPoint{Index: 1}
	ctx.watcher.WatchInput(&InputRegistration{
		SwapID:       "claimed",
		Kind:         swap.KindReverse,
		Outpoint:     outpoint,
		PreimageHash: testPreimage.Hash(),
	})
	require.True(t, ctx.chain.hasInputFilter(outpoint))

	// A spend without the preimage is our own refund, not a claim.
	refund := wire.NewMsgTx(2)
	refund.AddTxIn(&wire.TxIn{
		PreviousOutPoint: outpoint,
		Witness:          wire.TxWitness{[]byte{1}, []byte{2}},
	})
	ctx.notifyTx(refund, false)
	ctx.assertNoEvent()

	// A witness item hashing to the payment hash identifies the claim.
	claim := wire.NewMsgTx(2)
	claim.AddTxIn(&wire.TxIn{
		PreviousOutPoint: outpoint,
		Witness: wire.TxWitness{
			[]byte{1}, testPreimage[:], []byte{2},
		},
	})
	ctx.notifyTx(claim, false)

	event := ctx.receiveEvent()
	claimed, ok := event.(ClaimEvent)
	require.True(t, ok)
	require.Equal(t, "claimed", claimed.SwapID)
	require.Equal(t, testPreimage, claimed.Preimage)
	require.False(t, claimed.Confirmed)
}

func TestWatcherExpiry(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	ctx.watcher.WatchExpiry(&ExpiryRegistration{
		SwapID:             "expiring",
		Kind:               swap.KindReverse,
		TimeoutBlockHeight: 100,
	})

	ctx.notifyBlock(99)
	ctx.assertNoEvent()

	ctx.notifyBlock(100)

	event := ctx.receiveEvent()
	expired, ok := event.(ExpiryEvent)
	require.True(t, ok)
	require.Equal(t, "expiring", expired.SwapID)
	require.Equal(t, int32(100), expired.Height)
	require.Equal(t, int32(100), ctx.watcher.Height())

	// Expiries fire once.
	ctx.notifyBlock(101)
	ctx.assertNoEvent()
}

func TestWatcherForgetSwap(t *testing.T) {
	ctx := newWatcherTestContext(t, nil)

	outpoint := wire.OutPoint{Index: 9}
	ctx.watcher.WatchOutput(&OutputRegistration{
		SwapID:         "gone",
		Kind:           swap.KindChain,
		PkScript:       testScript,
		ExpectedAmount: 100_000,
		AcceptZeroConf: true,
	})
	ctx.watcher.WatchInput(&InputRegistration{
		SwapID:       "gone",
		Kind:         swap.KindChain,
		Outpoint:     outpoint,
		PreimageHash: testPreimage.Hash(),
	})
	ctx.watcher.WatchExpiry(&ExpiryRegistration{
		SwapID:             "gone",
		Kind:               swap.KindChain,
		TimeoutBlockHeight: 100,
	})

	ctx.watcher.ForgetSwap("gone")

	require.False(t, ctx.chain.hasOutputFilter(testScript))
	require.False(t, ctx.chain.hasInputFilter(outpoint))

	ctx.notifyTx(lockupTx(100_000), true)
	ctx.notifyBlock(100)
	ctx.assertNoEvent()
}
