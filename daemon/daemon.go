package daemon

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/swapdhq/swapd"
	"github.com/swapdhq/swapd/batch"
	"github.com/swapdhq/swapd/chain"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/lightning"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
	"golang.org/x/sync/errgroup"
)

// Symbols of the chains the daemon wires up. The nursery itself is symbol
// agnostic, embedding applications may register others.
const (
	bitcoinSymbol = "BTC"
	etherSymbol   = "ETH"
)

// Daemon assembles the swap nursery with its production backends. Everything
// runs until the context is cancelled or a component fails.
type Daemon struct {
	cfg *Config
}

// New creates a daemon from a validated config.
func New(cfg *Config) *Daemon {
	return &Daemon{cfg: cfg}
}

// Run connects all backends and blocks driving swaps until the context is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	network := lndclient.Network(d.cfg.Network)
	chainParams, err := network.ChainParams()
	if err != nil {
		return err
	}

	// The connection blocks until lnd is unlocked and synced, the caller
	// context lets a shutdown request interrupt the wait.
	log.Infof("Connecting to lnd at %v", d.cfg.Lnd.Host)
	lndServices, err := lndclient.NewLndServices(
		&lndclient.LndServicesConfig{
			LndAddress:            d.cfg.Lnd.Host,
			Network:               network,
			CustomMacaroonPath:    d.cfg.Lnd.MacaroonPath,
			TLSPath:               d.cfg.Lnd.TLSPath,
			CallerCtx:             ctx,
			BlockUntilChainSynced: true,
			BlockUntilUnlocked:    true,
		},
	)
	if err != nil {
		return fmt.Errorf("connect to lnd: %w", err)
	}
	defer lndServices.Close()

	alias := lndServices.NodeAlias
	if alias == "" {
		alias = "lnd"
	}

	nodes, err := lightning.NewNodeSwitch(
		lightning.NewLndClient(alias, &lndServices.LndServices),
	)
	if err != nil {
		return err
	}

	store, err := swapdb.Open(d.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open swap database: %w", err)
	}
	defer store.Close()

	// runners are the long running components feeding the nursery.
	var (
		currencies []*swapd.Currency
		runners    []func(context.Context) error
	)

	if d.cfg.Bitcoin.Host != "" {
		bitcoind, watcher, err := d.buildBitcoin(chainParams)
		if err != nil {
			return err
		}
		defer bitcoind.Close()

		currencies = append(currencies, &swapd.Currency{
			Symbol:  bitcoinSymbol,
			Type:    swap.CurrencyBitcoinLike,
			Chain:   bitcoind,
			Wallet:  bitcoind,
			Watcher: watcher,
			Params:  chainParams,
		})
		runners = append(runners, bitcoind.Run, watcher.Run)
	}

	if d.cfg.Ethereum.RPCURL != "" {
		client, manager, evmCurrencies, err := d.buildEthereum(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		currencies = append(currencies, evmCurrencies...)
		runners = append(runners, manager.Watcher.Run)
	}

	currencySet, err := swapd.NewCurrencySet(currencies...)
	if err != nil {
		return err
	}

	holdWatcher := lightning.NewHoldInvoiceWatcher(
		&lightning.HoldInvoiceWatcherConfig{
			Nodes:       nodes,
			Ticker:      ticker.NewForce(d.cfg.InvoicePollInterval),
			CallTimeout: d.cfg.CallTimeout,
		},
	)
	expiryWatcher := lightning.NewInvoiceExpiryWatcher(
		&lightning.InvoiceExpiryWatcherConfig{
			Nodes:       nodes,
			Ticker:      ticker.NewForce(d.cfg.InvoicePollInterval),
			Clock:       clock.NewDefaultClock(),
			CallTimeout: d.cfg.CallTimeout,
		},
	)
	runners = append(runners, holdWatcher.Run, expiryWatcher.Run)

	// The batcher feeds completed batches back into the nursery, which
	// only exists further down. The closure bridges the cycle.
	var (
		nursery *swapd.Nursery
		claimer batch.Claimer
	)
	if len(d.cfg.BatchSymbols) > 0 {
		batcher := batch.NewBatcher(&batch.BatcherConfig{
			Symbols:      d.cfg.BatchSymbols,
			MaxBatchSize: d.cfg.MaxBatchSize,
			Ticker:       ticker.NewForce(d.cfg.BatchInterval),
			Sweep: func(ctx context.Context, symbol string,
				reqs []batch.ClaimRequest) error {

				return nursery.SweepBatch(ctx, symbol, reqs)
			},
		})

		claimer = batcher
		runners = append(runners, batcher.Run)

		log.Infof("Batching claims on %v every %v",
			strings.Join(d.cfg.BatchSymbols, ", "),
			d.cfg.BatchInterval)
	}

	nursery = swapd.New(&swapd.Config{
		Store:             store,
		Currencies:        currencySet,
		Nodes:             nodes,
		HoldInvoices:      holdWatcher,
		InvoiceExpiries:   expiryWatcher,
		Claimer:           claimer,
		RetryTicker:       ticker.NewForce(d.cfg.RetryInterval),
		RefundTicker:      ticker.NewForce(d.cfg.RefundInterval),
		RefundConfTarget:  d.cfg.RefundConfTarget,
		CallTimeout:       d.cfg.CallTimeout,
		PaymentTimeout:    d.cfg.PaymentTimeout,
		MaxRoutingFeeBase: btcutil.Amount(d.cfg.MaxRoutingFeeBase),
		MaxRoutingFeeRate: d.cfg.MaxRoutingFeeRate,
		MaxPendingTasks:   d.cfg.MaxPendingTasks,
	})

	eg, ctx := errgroup.WithContext(ctx)

	for _, run := range runners {
		eg.Go(func() error { return run(ctx) })
	}
	eg.Go(func() error { return nursery.Run(ctx) })
	eg.Go(func() error { return d.pumpEvents(ctx, nursery.Events()) })

	log.Infof("Swap daemon fully started")

	return eg.Wait()
}

// buildBitcoin connects the bitcoind backend and its lockup watcher.
func (d *Daemon) buildBitcoin(chainParams *chaincfg.Params) (*chain.Bitcoind,
	*chain.Watcher, error) {

	swapKey, err := readSwapKey(d.cfg.Bitcoin.SwapKeyPath, chainParams)
	if err != nil {
		return nil, nil, err
	}

	bitcoind, err := chain.NewBitcoind(&chain.BitcoindConfig{
		Symbol:       bitcoinSymbol,
		Host:         d.cfg.Bitcoin.Host,
		User:         d.cfg.Bitcoin.User,
		Password:     d.cfg.Bitcoin.Password,
		Params:       chainParams,
		SwapKey:      swapKey,
		PollInterval: d.cfg.Bitcoin.PollInterval,
		FallbackFeeRate: chainfee.SatPerVByte(
			d.cfg.Bitcoin.FallbackFeeRate,
		),
	})
	if err != nil {
		return nil, nil, err
	}

	watcher := chain.NewWatcher(&chain.WatcherConfig{
		Symbol: bitcoinSymbol,
		Chain:  bitcoind,
		ZeroConf: chain.NewZeroConfAcceptor(
			btcutil.Amount(d.cfg.Bitcoin.ZeroConfLimit),
		),
	})

	return bitcoind, watcher, nil
}

// buildEthereum connects the Ethereum backend, binds the swap contracts and
// assembles the currencies the manager serves.
func (d *Daemon) buildEthereum(ctx context.Context) (*ethclient.Client,
	*evm.Manager, []*swapd.Currency, error) {

	cfg := d.cfg.Ethereum

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to ethereum "+
			"node: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("ethereum chain id: %w", err)
	}

	key, err := crypto.LoadECDSA(cfg.KeyPath)
	if err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("load ethereum key: %w", err)
	}

	etherSwapAddr := common.HexToAddress(cfg.EtherSwap)
	erc20SwapAddr := common.Address{}
	if cfg.ERC20Swap != "" {
		erc20SwapAddr = common.HexToAddress(cfg.ERC20Swap)
	}

	contracts, err := evm.NewContracts(
		client, key, chainID, etherSwapAddr, erc20SwapAddr,
	)
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}

	log.Infof("Ethereum chain id %v, signing address %v", chainID,
		contracts.Address())

	tokens, err := parseTokens(cfg.Tokens)
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}

	watcher := evm.NewWatcher(&evm.WatcherConfig{
		Symbol:           etherSymbol,
		Backend:          client,
		EtherSwapAddress: etherSwapAddr,
		ERC20SwapAddress: erc20SwapAddr,
		ConfTarget:       cfg.ConfTarget,
	})

	manager := evm.NewManager(
		etherSymbol, contracts, client, watcher, tokens,
	)

	currencies := []*swapd.Currency{{
		Symbol: etherSymbol,
		Type:   swap.CurrencyEther,
		EVM:    manager,
	}}
	for symbol := range tokens {
		currencies = append(currencies, &swapd.Currency{
			Symbol: symbol,
			Type:   swap.CurrencyERC20,
			EVM:    manager,
		})
	}

	return client, manager, currencies, nil
}

// pumpEvents drains the nursery's lifecycle events into the log. Embedding
// applications consume the stream through an API layer instead.
func (d *Daemon) pumpEvents(ctx context.Context,
	events <-chan swapd.Event) error {

	for {
		select {
		case event := <-events:
			log.Infof("Swap %v event %T: %+v", event.ID(), event,
				event)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readSwapKey loads the extended private key swap keys are derived from and
// checks it against the active network.
func readSwapKey(path string, chainParams *chaincfg.Params) (
	*hdkeychain.ExtendedKey, error) {

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read swap key: %w", err)
	}

	key, err := hdkeychain.NewKeyFromString(
		strings.TrimSpace(string(raw)),
	)
	if err != nil {
		return nil, fmt.Errorf("parse swap key: %w", err)
	}

	if !key.IsPrivate() {
		return nil, fmt.Errorf("swap key is not an extended private " +
			"key")
	}

	if !key.IsForNet(chainParams) {
		return nil, fmt.Errorf("swap key is not for %v",
			chainParams.Name)
	}

	return key, nil
}
