package evm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"github.com/swapdhq/swapd/swap"
)

var (
	testPreimage = lntypes.Preimage{21}

	etherSwapAddress = common.HexToAddress("0x01")
	erc20SwapAddress = common.HexToAddress("0x02")
	claimAddress     = common.HexToAddress("0x03")
	refundAddress    = common.HexToAddress("0x04")
	tokenAddress     = common.HexToAddress("0x05")
)

type evmTestContext struct {
	t       *testing.T
	backend *mockBackend
	watcher *Watcher
	runErr  chan error
	cancel  context.CancelFunc
}

func newEvmTestContext(t *testing.T, confTarget uint64) *evmTestContext {
	backend := newMockBackend()

	w := NewWatcher(&WatcherConfig{
		Symbol:           "ETH",
		Backend:          backend,
		EtherSwapAddress: etherSwapAddress,
		ERC20SwapAddress: erc20SwapAddress,
		ConfTarget:       confTarget,
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- w.Run(ctx)
	}()

	select {
	case <-backend.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not subscribe")
	}

	c := &evmTestContext{
		t:       t,
		backend: backend,
		watcher: w,
		runErr:  runErr,
		cancel:  cancel,
	}
	t.Cleanup(c.stop)

	return c
}

func (c *evmTestContext) stop() {
	c.cancel()

	select {
	case err := <-c.runErr:
		require.ErrorIs(c.t, err, context.Canceled)

	case <-time.After(5 * time.Second):
		c.t.Fatal("watcher did not stop")
	}
}

func (c *evmTestContext) receiveEvent() Event {
	c.t.Helper()

	select {
	case event := <-c.watcher.Events():
		return event

	case <-time.After(5 * time.Second):
		c.t.Fatal("no event received")
		return nil
	}
}

func (c *evmTestContext) assertNoEvent() {
	c.t.Helper()

	select {
	case event := <-c.watcher.Events():
		c.t.Fatalf("unexpected event %T", event)

	case <-time.After(100 * time.Millisecond):
	}
}

// etherLockupLog builds a Lockup log of the EtherSwap contract.
func etherLockupLog(t *testing.T, preimageHash lntypes.Hash, amount int64,
	timelock uint64, blockNumber uint64) types.Log {

	data, err := etherSwapABI.Events["Lockup"].Inputs.NonIndexed().Pack(
		big.NewInt(amount), claimAddress,
		new(big.Int).SetUint64(timelock),
	)
	require.NoError(t, err)

	return types.Log{
		Address: etherSwapAddress,
		Topics: []common.Hash{
			etherLockupTopic,
			common.Hash(preimageHash),
			common.BytesToHash(refundAddress.Bytes()),
		},
		Data:        data,
		TxHash:      common.HexToHash("0xaa"),
		BlockNumber: blockNumber,
	}
}

func TestEvmWatcherEtherLockup(t *testing.T) {
	ctx := newEvmTestContext(t, 1)

	hash := testPreimage.Hash()
	ctx.watcher.WatchLockup(&LockupRegistration{
		SwapID:       "ether",
		Kind:         swap.KindSubmarine,
		PreimageHash: hash,
	})

	// A lockup for an unknown preimage hash is not ours.
	ctx.backend.sendLog(etherLockupLog(
		t, lntypes.Preimage{99}.Hash(), 1000, 800, 100,
	))
	ctx.assertNoEvent()

	ctx.backend.sendLog(etherLockupLog(t, hash, 1000, 800, 100))

	event := ctx.receiveEvent()
	lockup, ok := event.(LockupEvent)
	require.True(t, ok)
	require.Equal(t, "ether", lockup.SwapID)
	require.False(t, lockup.Token)
	require.Equal(t, big.NewInt(1000), lockup.Amount)
	require.Equal(t, claimAddress, lockup.ClaimAddress)
	require.Equal(t, refundAddress, lockup.RefundAddress)
	require.Equal(t, uint64(800), lockup.Timelock)
}

func TestEvmWatcherTokenLockup(t *testing.T) {
	ctx := newEvmTestContext(t, 1)

	hash := testPreimage.Hash()
	ctx.watcher.WatchLockup(&LockupRegistration{
		SwapID:       "token",
		Kind:         swap.KindChain,
		PreimageHash: hash,
	})

	data, err := erc20SwapABI.Events["Lockup"].Inputs.NonIndexed().Pack(
		big.NewInt(5000), tokenAddress, claimAddress,
		new(big.Int).SetUint64(900),
	)
	require.NoError(t, err)

	ctx.backend.sendLog(types.Log{
		Address: erc20SwapAddress,
		Topics: []common.Hash{
			erc20LockupTopic,
			common.Hash(hash),
			common.BytesToHash(refundAddress.Bytes()),
		},
		Data:   data,
		TxHash: common.HexToHash("0xbb"),
	})

	event := ctx.receiveEvent()
	lockup, ok := event.(LockupEvent)
	require.True(t, ok)
	require.True(t, lockup.Token)
	require.Equal(t, big.NewInt(5000), lockup.Amount)
	require.Equal(t, tokenAddress, lockup.TokenAddress)
	require.Equal(t, uint64(900), lockup.Timelock)
}

func TestEvmWatcherClaim(t *testing.T) {
	ctx := newEvmTestContext(t, 1)

	hash := testPreimage.Hash()
	ctx.watcher.WatchClaim(&ClaimRegistration{
		SwapID:       "claimed",
		Kind:         swap.KindReverse,
		PreimageHash: hash,
	})

	data, err := etherSwapABI.Events["Claim"].Inputs.NonIndexed().Pack(
		[32]byte(testPreimage),
	)
	require.NoError(t, err)

	ctx.backend.sendLog(types.Log{
		Address: etherSwapAddress,
		Topics:  []common.Hash{claimTopic, common.Hash(hash)},
		Data:    data,
		TxHash:  common.HexToHash("0xcc"),
	})

	event := ctx.receiveEvent()
	claim, ok := event.(ClaimEvent)
	require.True(t, ok)
	require.Equal(t, "claimed", claim.SwapID)
	require.Equal(t, testPreimage, claim.Preimage)
}

func TestEvmWatcherRefund(t *testing.T) {
	ctx := newEvmTestContext(t, 1)

	hash := testPreimage.Hash()
	ctx.watcher.WatchClaim(&ClaimRegistration{
		SwapID:       "refunded",
		Kind:         swap.KindChain,
		PreimageHash: hash,
	})

	ctx.backend.sendLog(types.Log{
		Address: etherSwapAddress,
		Topics:  []common.Hash{refundTopic, common.Hash(hash)},
		TxHash:  common.HexToHash("0xdd"),
	})

	event := ctx.receiveEvent()
	refund, ok := event.(RefundEvent)
	require.True(t, ok)
	require.Equal(t, "refunded", refund.SwapID)
}

func TestEvmWatcherServerLockupConfirmations(t *testing.T) {
	ctx := newEvmTestContext(t, 2)

	hash := testPreimage.Hash()
	ctx.watcher.WatchLockup(&LockupRegistration{
		SwapID:       "server",
		Kind:         swap.KindReverse,
		PreimageHash: hash,
		ServerLockup: true,
	})

	// Mined at block 100, two confirmations means block 101.
	ctx.backend.sendLog(etherLockupLog(t, hash, 1000, 800, 100))
	ctx.assertNoEvent()

	ctx.backend.sendHead(100)
	ctx.assertNoEvent()

	ctx.backend.sendHead(101)

	event := ctx.receiveEvent()
	confirmed, ok := event.(LockupConfirmedEvent)
	require.True(t, ok)
	require.Equal(t, "server", confirmed.SwapID)
	require.Equal(t, uint64(101), ctx.watcher.Height())
}

func TestEvmWatcherReorg(t *testing.T) {
	ctx := newEvmTestContext(t, 2)

	hash := testPreimage.Hash()
	ctx.watcher.WatchLockup(&LockupRegistration{
		SwapID:       "reorged",
		Kind:         swap.KindReverse,
		PreimageHash: hash,
		ServerLockup: true,
	})

	ctx.backend.sendLog(etherLockupLog(t, hash, 1000, 800, 100))

	// The lockup's block is reorged out before it confirms.
	removed := etherLockupLog(t, hash, 1000, 800, 100)
	removed.Removed = true
	ctx.backend.sendLog(removed)

	ctx.backend.sendHead(105)
	ctx.assertNoEvent()

	// The new chain includes the lockup again.
	ctx.backend.sendLog(etherLockupLog(t, hash, 1000, 800, 106))
	ctx.backend.sendHead(107)

	event := ctx.receiveEvent()
	_, ok := event.(LockupConfirmedEvent)
	require.True(t, ok)
}

func TestEvmWatcherExpiry(t *testing.T) {
	ctx := newEvmTestContext(t, 1)

	ctx.watcher.WatchExpiry(&ExpiryRegistration{
		SwapID:             "expiring",
		Kind:               swap.KindChain,
		TimeoutBlockHeight: 800,
	})

	ctx.backend.sendHead(799)
	ctx.assertNoEvent()

	ctx.backend.sendHead(800)

	event := ctx.receiveEvent()
	expired, ok := event.(ExpiryEvent)
	require.True(t, ok)
	require.Equal(t, "expiring", expired.SwapID)
	require.Equal(t, uint64(800), expired.Height)

	// Expiries fire once.
	ctx.backend.sendHead(801)
	ctx.assertNoEvent()
}

func TestEvmWatcherForgetSwap(t *testing.T) {
	ctx := newEvmTestContext(t, 1)

	hash := testPreimage.Hash()
	ctx.watcher.WatchLockup(&LockupRegistration{
		SwapID:       "gone",
		Kind:         swap.KindChain,
		PreimageHash: hash,
	})
	ctx.watcher.WatchClaim(&ClaimRegistration{
		SwapID:       "gone",
		Kind:         swap.KindChain,
		PreimageHash: hash,
	})
	ctx.watcher.WatchExpiry(&ExpiryRegistration{
		SwapID:             "gone",
		Kind:               swap.KindChain,
		TimeoutBlockHeight: 800,
	})

	ctx.watcher.ForgetSwap("gone")

	ctx.backend.sendLog(etherLockupLog(t, hash, 1000, 800, 100))
	ctx.backend.sendHead(800)
	ctx.assertNoEvent()
}
