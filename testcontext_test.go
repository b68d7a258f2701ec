package swapd

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"github.com/swapdhq/swapd/batch"
	"github.com/swapdhq/swapd/chain"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/lightning"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
	"github.com/swapdhq/swapd/test"
)

var (
	// testTime is the wall clock time the test clock starts at.
	testTime = time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)

	// testEvmClaimAddress is the claim address of EVM sending legs.
	testEvmClaimAddress = common.HexToAddress(
		"0x00000000000000000000000000000000000000aa",
	)
)

const (
	// testTimeoutHeight is the refund timeout of UTXO fixtures.
	testTimeoutHeight int32 = 900

	// testEvmTimeoutHeight is the refund timeout of EVM fixtures.
	testEvmTimeoutHeight int32 = 972
)

// testContext wires a nursery to mocked chain, wallet, Lightning and
// contract backends. The chain watcher, the invoice watchers and the
// nursery run for real, the EVM watcher is constructed but not run, its
// events are replayed by calling the nursery handlers directly.
type testContext struct {
	t *testing.T

	nursery *Nursery
	store   *swapdb.Store

	btc       *test.ChainMock
	wallet    *test.WalletMock
	lnd       *test.LightningMock
	contracts *test.ContractsMock
	backend   *test.EvmBackendMock

	notifier *mockNotifier
	claimer  *mockClaimer
	rates    *mockRates
	opener   *mockOpener

	chainWatcher  *chain.Watcher
	evmWatcher    *evm.Watcher
	holdWatcher   *lightning.HoldInvoiceWatcher
	expiryWatcher *lightning.InvoiceExpiryWatcher

	holdTick   *ticker.Force
	expiryTick *ticker.Force
	retryTick  *ticker.Force
	refundTick *ticker.Force

	clock *clock.TestClock

	events <-chan Event

	cancel context.CancelFunc
	errs   chan error
}

// newTestContext builds an unstarted nursery over fresh mocks and a
// throwaway store. Tests persist or register their fixtures and then call
// start.
func newTestContext(t *testing.T) *testContext {
	t.Helper()

	store, err := swapdb.Open(filepath.Join(t.TempDir(), "swapd.db"))
	require.NoError(t, err)

	btc := test.NewChainMock()
	wallet := test.NewWalletMock(&chaincfg.RegressionNetParams, btc)

	chainWatcher := chain.NewWatcher(&chain.WatcherConfig{
		Symbol: "BTC",
		Chain:  btc,
	})

	contracts := test.NewContractsMock()
	backend := test.NewEvmBackendMock()
	evmWatcher := evm.NewWatcher(&evm.WatcherConfig{
		Symbol:  "ETH",
		Backend: backend,
		EtherSwapAddress: common.HexToAddress(
			"0x0000000000000000000000000000000000000001",
		),
	})
	manager := evm.NewManager("ETH", contracts, backend, evmWatcher, nil)

	currencies, err := NewCurrencySet(
		&Currency{
			Symbol:  "BTC",
			Type:    swap.CurrencyBitcoinLike,
			Chain:   btc,
			Wallet:  wallet,
			Watcher: chainWatcher,
			Params:  &chaincfg.RegressionNetParams,
		},
		&Currency{
			Symbol: "ETH",
			Type:   swap.CurrencyEther,
			EVM:    manager,
		},
	)
	require.NoError(t, err)

	lnd := test.NewLightningMock("lnd")
	nodes, err := lightning.NewNodeSwitch(lnd)
	require.NoError(t, err)

	holdTick := ticker.NewForce(time.Hour)
	expiryTick := ticker.NewForce(time.Hour)
	retryTick := ticker.NewForce(time.Hour)
	refundTick := ticker.NewForce(time.Hour)

	testClock := clock.NewTestClock(testTime)

	holdWatcher := lightning.NewHoldInvoiceWatcher(
		&lightning.HoldInvoiceWatcherConfig{
			Nodes:  nodes,
			Ticker: holdTick,
		},
	)
	expiryWatcher := lightning.NewInvoiceExpiryWatcher(
		&lightning.InvoiceExpiryWatcherConfig{
			Nodes:  nodes,
			Ticker: expiryTick,
			Clock:  testClock,
		},
	)

	notifier := newMockNotifier()
	claimer := newMockClaimer()
	rates := &mockRates{}
	opener := newMockOpener(777)

	nursery := New(&Config{
		Store:           store,
		Currencies:      currencies,
		Nodes:           nodes,
		HoldInvoices:    holdWatcher,
		InvoiceExpiries: expiryWatcher,
		Claimer:         claimer,
		Notifier:        notifier,
		Rates:           rates,
		Opener:          opener,
		RetryTicker:     retryTick,
		RefundTicker:    refundTick,
	})

	return &testContext{
		t:             t,
		nursery:       nursery,
		store:         store,
		btc:           btc,
		wallet:        wallet,
		lnd:           lnd,
		contracts:     contracts,
		backend:       backend,
		notifier:      notifier,
		claimer:       claimer,
		rates:         rates,
		opener:        opener,
		chainWatcher:  chainWatcher,
		evmWatcher:    evmWatcher,
		holdWatcher:   holdWatcher,
		expiryWatcher: expiryWatcher,
		holdTick:      holdTick,
		expiryTick:    expiryTick,
		retryTick:     retryTick,
		refundTick:    refundTick,
		clock:         testClock,
		events:        nursery.Events(),
	}
}

// start runs the nursery and its watchers.
func (c *testContext) start() {
	c.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.errs = make(chan error, 5)

	go func() { c.errs <- c.chainWatcher.Run(ctx) }()
	go func() { c.errs <- c.evmWatcher.Run(ctx) }()
	go func() { c.errs <- c.holdWatcher.Run(ctx) }()
	go func() { c.errs <- c.expiryWatcher.Run(ctx) }()
	go func() { c.errs <- c.nursery.Run(ctx) }()

	select {
	case <-c.backend.Ready():
	case <-time.After(test.Timeout):
		c.t.Fatal("contract watcher did not subscribe")
	}
}

// stop shuts everything down and asserts a clean exit.
func (c *testContext) stop() {
	c.t.Helper()

	if c.cancel != nil {
		c.cancel()

		for i := 0; i < 5; i++ {
			select {
			case err := <-c.errs:
				require.ErrorIs(c.t, err, context.Canceled)

			case <-time.After(test.Timeout):
				c.t.Fatal("shutdown timeout")
			}
		}
	}

	require.NoError(c.t, c.store.Close())
}

// forceTick delivers a tick on the given forced ticker.
func (c *testContext) forceTick(tick *ticker.Force) {
	c.t.Helper()

	select {
	case tick.Force <- testTime:
	case <-time.After(test.Timeout):
		c.t.Fatal("tick not accepted")
	}
}

// tickHold forces a hold invoice polling round.
func (c *testContext) tickHold() {
	c.t.Helper()
	c.forceTick(c.holdTick)
}

// tickExpiry forces an invoice expiry scan.
func (c *testContext) tickExpiry() {
	c.t.Helper()
	c.forceTick(c.expiryTick)
}

// tickRetry forces a settle retry round.
func (c *testContext) tickRetry() {
	c.t.Helper()
	c.forceTick(c.retryTick)
}

// tickRefund forces a refund confirmation scan.
func (c *testContext) tickRefund() {
	c.t.Helper()
	c.forceTick(c.refundTick)
}

// sendTx relays a transaction to the chain watcher. The transaction is also
// registered with the chain mock, claims and refunds look their funding
// transaction up by id.
func (c *testContext) sendTx(tx *wire.MsgTx, confirmed bool) {
	c.t.Helper()

	c.btc.AddRawTransaction(tx)

	select {
	case c.btc.TxChannel <- chain.TxEvent{Tx: tx, Confirmed: confirmed}:
	case <-time.After(test.Timeout):
		c.t.Fatal("chain watcher did not accept transaction")
	}
}

// mineBlock reports a new block height to the chain watcher.
func (c *testContext) mineBlock(height int32) {
	c.t.Helper()

	select {
	case c.btc.BlockChannel <- height:
	case <-time.After(test.Timeout):
		c.t.Fatal("chain watcher did not accept block")
	}
}

// syncQueue submits a no-op task to the queue of the given kind and waits
// for it, so every task submitted before the call has finished. Negative
// assertions run behind this barrier instead of sleeping.
func (c *testContext) syncQueue(kind swap.Kind) {
	c.t.Helper()

	done := make(chan struct{})
	err := c.nursery.kindQueue(kind).submit(
		context.Background(), "sync", "sync",
		func(context.Context) error {
			close(done)
			return nil
		},
	)
	require.NoError(c.t, err)

	select {
	case <-done:
	case <-time.After(test.Timeout):
		c.t.Fatal("queue did not drain")
	}
}

// nextEvent returns the next nursery lifecycle event.
func (c *testContext) nextEvent() Event {
	c.t.Helper()

	select {
	case event := <-c.events:
		return event

	case <-time.After(test.Timeout):
		c.t.Fatal("no lifecycle event delivered")
		return nil
	}
}

// nextEventAs returns the next nursery event, requiring it to be of the
// given type.
func nextEventAs[E Event](c *testContext) E {
	c.t.Helper()

	event := c.nextEvent()

	typed, ok := event.(E)
	if !ok {
		c.t.Fatalf("expected %T, got %T: %v", typed, event, event)
	}

	return typed
}

// assertNoEvent asserts that no lifecycle event is buffered. Callers
// synchronize on the relevant queue first.
func (c *testContext) assertNoEvent() {
	c.t.Helper()

	select {
	case event := <-c.events:
		c.t.Fatalf("unexpected event %T: %v", event, event)
	default:
	}
}

// nextSend returns the next wallet send.
func (c *testContext) nextSend() test.SendRequest {
	c.t.Helper()

	select {
	case req := <-c.wallet.Sends:
		return req

	case <-time.After(test.Timeout):
		c.t.Fatal("no wallet send dispatched")
		return test.SendRequest{}
	}
}

// assertNoSend asserts that no wallet send is buffered. Callers synchronize
// on the relevant queue first.
func (c *testContext) assertNoSend() {
	c.t.Helper()

	select {
	case req := <-c.wallet.Sends:
		c.t.Fatalf("unexpected send of %v to %v", req.Amount, req.Addr)
	default:
	}
}

// nextBroadcast returns the next raw transaction broadcast, a claim or a
// refund.
func (c *testContext) nextBroadcast() *wire.MsgTx {
	c.t.Helper()

	select {
	case tx := <-c.btc.SendChannel:
		return tx

	case <-time.After(test.Timeout):
		c.t.Fatal("no transaction broadcast")
		return nil
	}
}

// nextPayment returns the next dispatched invoice payment.
func (c *testContext) nextPayment() lightning.PayRequest {
	c.t.Helper()

	select {
	case req := <-c.lnd.Payments:
		return req

	case <-time.After(test.Timeout):
		c.t.Fatal("no payment dispatched")
		return lightning.PayRequest{}
	}
}

// assertNoPayment asserts that no invoice payment is buffered. Callers
// synchronize on the relevant queue first.
func (c *testContext) assertNoPayment() {
	c.t.Helper()

	select {
	case req := <-c.lnd.Payments:
		c.t.Fatalf("unexpected payment of %v", req.Invoice)
	default:
	}
}

// nextSettle returns the preimage of the next hold invoice settle.
func (c *testContext) nextSettle() lntypes.Preimage {
	c.t.Helper()

	select {
	case preimage := <-c.lnd.Settles:
		return preimage

	case <-time.After(test.Timeout):
		c.t.Fatal("no invoice settled")
		return lntypes.Preimage{}
	}
}

// nextCancel returns the hash of the next hold invoice cancel.
func (c *testContext) nextCancel() lntypes.Hash {
	c.t.Helper()

	select {
	case hash := <-c.lnd.Cancels:
		return hash

	case <-time.After(test.Timeout):
		c.t.Fatal("no invoice cancelled")
		return lntypes.Hash{}
	}
}

// assertNoCancel asserts that no hold invoice cancel is buffered. Callers
// synchronize on the relevant queue first.
func (c *testContext) assertNoCancel() {
	c.t.Helper()

	select {
	case hash := <-c.lnd.Cancels:
		c.t.Fatalf("unexpected cancel of %v", hash)
	default:
	}
}

// nextOffer returns the next claim offered to the batch claimer.
func (c *testContext) nextOffer() batch.ClaimRequest {
	c.t.Helper()

	select {
	case req := <-c.claimer.offers:
		return req

	case <-time.After(test.Timeout):
		c.t.Fatal("no claim offered")
		return batch.ClaimRequest{}
	}
}

// nextNotification returns the next operator notification.
func (c *testContext) nextNotification() notification {
	c.t.Helper()

	select {
	case n := <-c.notifier.notifications:
		return n

	case <-time.After(test.Timeout):
		c.t.Fatal("no notification delivered")
		return notification{}
	}
}

// nextContractCall returns the next swap contract call.
func (c *testContext) nextContractCall() test.ContractCall {
	c.t.Helper()

	select {
	case call := <-c.contracts.Calls:
		return call

	case <-time.After(test.Timeout):
		c.t.Fatal("no contract call submitted")
		return test.ContractCall{}
	}
}

// nextOpen returns the next channel open request.
func (c *testContext) nextOpen() openRequest {
	c.t.Helper()

	select {
	case req := <-c.opener.opens:
		return req

	case <-time.After(test.Timeout):
		c.t.Fatal("no channel open requested")
		return openRequest{}
	}
}

// submarine reads the submarine swap row.
func (c *testContext) submarine(id string) *swapdb.Submarine {
	c.t.Helper()

	sub, err := c.store.GetSubmarine(context.Background(), id)
	require.NoError(c.t, err)

	return sub
}

// reverse reads the reverse swap row.
func (c *testContext) reverse(id string) *swapdb.Reverse {
	c.t.Helper()

	rev, err := c.store.GetReverse(context.Background(), id)
	require.NoError(c.t, err)

	return rev
}

// chainSwap reads the chain swap row.
func (c *testContext) chainSwap(id string) *swapdb.Chain {
	c.t.Helper()

	cs, err := c.store.GetChain(context.Background(), id)
	require.NoError(c.t, err)

	return cs
}

// submarineFixture bundles a submarine swap with the secrets a test needs
// to play the counterparty.
type submarineFixture struct {
	sub      *swapdb.Submarine
	htlc     *swap.Htlc
	preimage lntypes.Preimage
	invoice  string
}

// newSubmarine builds a submarine swap around a fresh legacy htlc and
// scripts the decode of its invoice. The key index doubles as preimage
// seed, so every fixture gets a distinct script.
func (c *testContext) newSubmarine(id string, index int32,
	amount btcutil.Amount, zeroConf bool) *submarineFixture {

	c.t.Helper()

	preimage := test.CreatePreimage(index)
	hash := preimage.Hash()
	theirKey := test.CompressedKey(index + 1000)

	htlc, err := swap.NewHtlc(
		swap.VersionLegacy, swap.KindSubmarine, testTimeoutHeight,
		test.CompressedKey(index), theirKey, hash,
		&chaincfg.RegressionNetParams,
	)
	require.NoError(c.t, err)

	invoice := fmt.Sprintf("lnbcrt_sub_%v", id)
	c.lnd.SetDecoded(invoice, &lightning.Invoice{
		PaymentHash: hash,
		Amount:      amount,
		ExpiresAt:   testTime.Add(time.Hour),
	})

	return &submarineFixture{
		sub: &swapdb.Submarine{
			ID:                 id,
			Pair:               swapdb.Pair{Base: "BTC", Quote: "BTC"},
			Version:            swap.VersionLegacy,
			PreimageHash:       hash,
			Invoice:            invoice,
			KeyIndex:           index,
			RedeemScript:       htlc.ClaimScript(),
			TheirPublicKey:     theirKey[:],
			LockupAddress:      htlc.Address.String(),
			TimeoutBlockHeight: testTimeoutHeight,
			ExpectedAmount:     amount,
			AcceptZeroConf:     zeroConf,
			Status:             swapdb.StatusSwapCreated,
			CreatedAt:          testTime,
		},
		htlc:     htlc,
		preimage: preimage,
		invoice:  invoice,
	}
}

// newEvmSubmarine builds a submarine swap whose lockup happens on the Ether
// chain.
func (c *testContext) newEvmSubmarine(id string, index int32,
	amount btcutil.Amount) *submarineFixture {

	c.t.Helper()

	preimage := test.CreatePreimage(index)
	hash := preimage.Hash()

	invoice := fmt.Sprintf("lnbcrt_sub_%v", id)
	c.lnd.SetDecoded(invoice, &lightning.Invoice{
		PaymentHash: hash,
		Amount:      amount,
		ExpiresAt:   testTime.Add(time.Hour),
	})

	return &submarineFixture{
		sub: &swapdb.Submarine{
			ID:                 id,
			Pair:               swapdb.Pair{Base: "ETH", Quote: "BTC"},
			OrderSide:          swap.OrderSell,
			Version:            swap.VersionLegacy,
			PreimageHash:       hash,
			Invoice:            invoice,
			TimeoutBlockHeight: testEvmTimeoutHeight,
			ExpectedAmount:     amount,
			Status:             swapdb.StatusSwapCreated,
			CreatedAt:          testTime,
		},
		preimage: preimage,
		invoice:  invoice,
	}
}

// registerSubmarine registers the fixture with the nursery.
func (c *testContext) registerSubmarine(f *submarineFixture) {
	c.t.Helper()

	err := c.nursery.RegisterSubmarine(context.Background(), f.sub)
	require.NoError(c.t, err)
}

// reverseFixture bundles a reverse swap with its invoice secrets.
type reverseFixture struct {
	rev         *swapdb.Reverse
	htlc        *swap.Htlc
	preimage    lntypes.Preimage
	feePreimage lntypes.Preimage
	invoice     string
	feeInvoice  string
}

// newReverse builds a reverse swap around a fresh legacy htlc and scripts
// its hold invoice on the Lightning mock. A prepay amount above zero adds a
// miner fee invoice.
func (c *testContext) newReverse(id string, index int32,
	amount btcutil.Amount, prepay lnwire.MilliSatoshi) *reverseFixture {

	c.t.Helper()

	preimage := test.CreatePreimage(index)
	hash := preimage.Hash()
	theirKey := test.CompressedKey(index + 1000)

	htlc, err := swap.NewHtlc(
		swap.VersionLegacy, swap.KindReverse, testTimeoutHeight,
		theirKey, test.CompressedKey(index), hash,
		&chaincfg.RegressionNetParams,
	)
	require.NoError(c.t, err)

	invoice := fmt.Sprintf("lnbcrt_rev_%v", id)
	c.lnd.SetDecoded(invoice, &lightning.Invoice{
		PaymentHash: hash,
		Amount:      amount,
		ExpiresAt:   testTime.Add(time.Hour),
	})
	c.lnd.SetInvoiceState(hash, lightning.InvoiceOpen)

	f := &reverseFixture{
		rev: &swapdb.Reverse{
			ID:                 id,
			Pair:               swapdb.Pair{Base: "BTC", Quote: "BTC"},
			Version:            swap.VersionLegacy,
			PreimageHash:       hash,
			Invoice:            invoice,
			KeyIndex:           index,
			RedeemScript:       htlc.ClaimScript(),
			TheirPublicKey:     theirKey[:],
			LockupAddress:      htlc.Address.String(),
			OnchainAmount:      amount,
			TimeoutBlockHeight: testTimeoutHeight,
			Status:             swapdb.StatusSwapCreated,
			CreatedAt:          testTime,
		},
		htlc:     htlc,
		preimage: preimage,
		invoice:  invoice,
	}

	if prepay > 0 {
		f.feePreimage = test.CreatePreimage(index + 500)
		feeHash := f.feePreimage.Hash()
		f.feeInvoice = fmt.Sprintf("lnbcrt_fee_%v", id)

		c.lnd.SetDecoded(f.feeInvoice, &lightning.Invoice{
			PaymentHash: feeHash,
			AmountMsat:  prepay,
			ExpiresAt:   testTime.Add(time.Hour),
		})
		c.lnd.SetInvoiceState(feeHash, lightning.InvoiceOpen)

		feePreimage := f.feePreimage
		f.rev.MinerFeeInvoice = f.feeInvoice
		f.rev.MinerFeeInvoicePreimage = &feePreimage
	}

	return f
}

// registerReverse registers the fixture with the nursery.
func (c *testContext) registerReverse(f *reverseFixture) {
	c.t.Helper()

	err := c.nursery.RegisterReverse(context.Background(), f.rev)
	require.NoError(c.t, err)
}

// chainFixture bundles a chain swap with the script secrets of its UTXO
// leg.
type chainFixture struct {
	cs       *swapdb.Chain
	htlc     *swap.Htlc
	preimage lntypes.Preimage
}

// newChainSwapToEvm builds a chain swap receiving coins on BTC and sending
// Ether.
func (c *testContext) newChainSwapToEvm(id string, index int32,
	receive, send btcutil.Amount, zeroConf bool) *chainFixture {

	c.t.Helper()

	preimage := test.CreatePreimage(index)
	hash := preimage.Hash()
	theirKey := test.CompressedKey(index + 1000)

	htlc, err := swap.NewHtlc(
		swap.VersionLegacy, swap.KindChain, testTimeoutHeight,
		test.CompressedKey(index), theirKey, hash,
		&chaincfg.RegressionNetParams,
	)
	require.NoError(c.t, err)

	return &chainFixture{
		cs: &swapdb.Chain{
			ID:           id,
			Version:      swap.VersionLegacy,
			PreimageHash: hash,
			Receiving: swapdb.ChainData{
				Symbol:             "BTC",
				LockupAddress:      htlc.Address.String(),
				ExpectedAmount:     receive,
				TimeoutBlockHeight: testTimeoutHeight,
				KeyIndex:           index,
				RedeemScript:       htlc.ClaimScript(),
				TheirPublicKey:     theirKey[:],
			},
			Sending: swapdb.ChainData{
				Symbol:             "ETH",
				ClaimAddress:       testEvmClaimAddress.Hex(),
				ExpectedAmount:     send,
				TimeoutBlockHeight: testEvmTimeoutHeight,
			},
			AcceptZeroConf: zeroConf,
			Status:         swapdb.StatusSwapCreated,
			CreatedAt:      testTime,
		},
		htlc:     htlc,
		preimage: preimage,
	}
}

// newChainSwapFromEvm builds a chain swap receiving Ether and sending coins
// on BTC.
func (c *testContext) newChainSwapFromEvm(id string, index int32,
	receive, send btcutil.Amount) *chainFixture {

	c.t.Helper()

	preimage := test.CreatePreimage(index)
	hash := preimage.Hash()
	theirKey := test.CompressedKey(index + 1000)

	htlc, err := swap.NewHtlc(
		swap.VersionLegacy, swap.KindChain, testTimeoutHeight,
		theirKey, test.CompressedKey(index), hash,
		&chaincfg.RegressionNetParams,
	)
	require.NoError(c.t, err)

	return &chainFixture{
		cs: &swapdb.Chain{
			ID:           id,
			Version:      swap.VersionLegacy,
			PreimageHash: hash,
			Receiving: swapdb.ChainData{
				Symbol:             "ETH",
				ExpectedAmount:     receive,
				TimeoutBlockHeight: testEvmTimeoutHeight,
			},
			Sending: swapdb.ChainData{
				Symbol:             "BTC",
				LockupAddress:      htlc.Address.String(),
				ExpectedAmount:     send,
				TimeoutBlockHeight: testTimeoutHeight,
				KeyIndex:           index,
				RedeemScript:       htlc.ClaimScript(),
				TheirPublicKey:     theirKey[:],
			},
			Status:    swapdb.StatusSwapCreated,
			CreatedAt: testTime,
		},
		htlc:     htlc,
		preimage: preimage,
	}
}

// registerChain registers the fixture with the nursery.
func (c *testContext) registerChain(f *chainFixture) {
	c.t.Helper()

	err := c.nursery.RegisterChain(context.Background(), f.cs)
	require.NoError(c.t, err)
}

// lockupTransaction pays the given amount to the htlc of a fixture. The
// input does not signal RBF.
func lockupTransaction(htlc *swap.Htlc, amount btcutil.Amount) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), htlc.PkScript))

	return tx
}

// spendTransaction spends the given outpoint, revealing the preimage in the
// witness the way a claim sweep does.
func spendTransaction(outpoint wire.OutPoint,
	preimage lntypes.Preimage) *wire.MsgTx {

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&outpoint, nil, nil))
	tx.TxIn[0].Witness = wire.TxWitness{
		make([]byte, 73),
		preimage[:],
		make([]byte, 100),
	}
	tx.AddTxOut(wire.NewTxOut(100_000, make([]byte, 22)))

	return tx
}

// outpointOf returns the first output of a transaction as an outpoint.
func outpointOf(tx *wire.MsgTx) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: 0}
}
