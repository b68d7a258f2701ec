package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/swapdhq/swapd/swap"
)

const (
	// DefaultPollInterval is the default frequency the node is polled
	// with for new blocks and mempool transactions.
	DefaultPollInterval = 10 * time.Second

	// DefaultFallbackFeeRate is used when the node has no fee estimate
	// yet, typically on fresh regtest chains.
	DefaultFallbackFeeRate = chainfee.SatPerVByte(2)

	// trackedHashes is how many recent block hashes are kept to detect
	// chain reorganizations.
	trackedHashes = 20
)

// BitcoindConfig holds the connection and wallet parameters of a bitcoind
// node.
type BitcoindConfig struct {
	// Symbol is the ticker of the chain the node serves, for logging.
	Symbol string

	// Host is the RPC address of the node, host:port.
	Host string

	// User is the RPC user.
	User string

	// Password is the RPC password.
	Password string

	// Params are the chain parameters addresses are validated against.
	Params *chaincfg.Params

	// SwapKey is the extended private key swap claim and refund keys are
	// derived from. Derivation happens under the hardened swap key
	// family branch.
	SwapKey *hdkeychain.ExtendedKey

	// PollInterval overrides the default poll frequency.
	PollInterval time.Duration

	// FallbackFeeRate overrides the default fee rate used when the node
	// has no estimate.
	FallbackFeeRate chainfee.SatPerVByte
}

// Bitcoind implements Client and Wallet on top of a bitcoind node's JSON-RPC
// interface. Block and mempool events are polled, bitcoind's push
// notifications do not cover the websocket API of btcd. Looking up arbitrary
// transactions requires the node to run with txindex enabled.
type Bitcoind struct {
	cfg    BitcoindConfig
	client *rpcclient.Client

	// txQueue and blockQueue sit between the poll loop and the public
	// streams, so that a catch up scan never stalls on a slow consumer.
	txQueue    *queue.ConcurrentQueue
	blockQueue *queue.ConcurrentQueue

	txChan    chan TxEvent
	blockChan chan int32

	mu            sync.Mutex
	inputFilters  map[wire.OutPoint]struct{}
	outputFilters map[string]struct{}

	// height and recentHashes are only touched by the Run goroutine.
	height       int32
	recentHashes map[int32]*chainhash.Hash
}

var (
	_ Client = (*Bitcoind)(nil)
	_ Wallet = (*Bitcoind)(nil)
)

// NewBitcoind connects to the configured bitcoind node.
func NewBitcoind(cfg *BitcoindConfig) (*Bitcoind, error) {
	if cfg.Host == "" {
		return nil, errors.New("no bitcoind host configured")
	}
	if cfg.Params == nil {
		return nil, errors.New("no chain parameters configured")
	}

	b := &Bitcoind{
		cfg:           *cfg,
		txQueue:       queue.NewConcurrentQueue(defaultEventBuffer),
		blockQueue:    queue.NewConcurrentQueue(defaultEventBuffer),
		txChan:        make(chan TxEvent),
		blockChan:     make(chan int32),
		inputFilters:  make(map[wire.OutPoint]struct{}),
		outputFilters: make(map[string]struct{}),
		recentHashes:  make(map[int32]*chainhash.Hash),
	}

	if b.cfg.PollInterval == 0 {
		b.cfg.PollInterval = DefaultPollInterval
	}
	if b.cfg.FallbackFeeRate == 0 {
		b.cfg.FallbackFeeRate = DefaultFallbackFeeRate
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %v node: %w", cfg.Symbol,
			err)
	}
	b.client = client

	return b, nil
}

// Close shuts the RPC client down.
func (b *Bitcoind) Close() {
	b.client.Shutdown()
}

// CurrencyType returns the flavor of chain the node serves.
func (b *Bitcoind) CurrencyType() swap.CurrencyType {
	return swap.CurrencyBitcoinLike
}

// Run polls the node for new blocks and mempool transactions until the
// context is cancelled, feeding the transaction and block streams. RPC
// failures are logged and retried on the next tick.
func (b *Bitcoind) Run(ctx context.Context) error {
	height, err := b.client.GetBlockCount()
	if err != nil {
		return fmt.Errorf("get %v block count: %w", b.cfg.Symbol, err)
	}
	b.height = int32(height)

	hash, err := b.client.GetBlockHash(height)
	if err != nil {
		return fmt.Errorf("get %v block hash: %w", b.cfg.Symbol, err)
	}
	b.recentHashes[b.height] = hash

	// Transactions already in the mempool are not replayed, pending
	// swaps reconcile through direct lookups on resume.
	seen, err := b.mempoolSet()
	if err != nil {
		return fmt.Errorf("get %v mempool: %w", b.cfg.Symbol, err)
	}

	log.Infof("Polling %v node at height %v every %v", b.cfg.Symbol,
		b.height, b.cfg.PollInterval)

	b.txQueue.Start()
	b.blockQueue.Start()

	var wg sync.WaitGroup

	defer func() {
		wg.Wait()
		b.txQueue.Stop()
		b.blockQueue.Stop()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		b.pumpTxs(ctx)
	}()
	go func() {
		defer wg.Done()
		b.pumpBlocks(ctx)
	}()

	// Publish the startup height so expired swaps are acted on before
	// the next block arrives.
	if err := b.emitBlock(ctx, b.height); err != nil {
		return err
	}

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			next, err := b.poll(ctx, seen)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				log.Errorf("Polling %v node: %v",
					b.cfg.Symbol, err)

				continue
			}
			seen = next

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// poll scans blocks past our height and new mempool transactions, relaying
// everything that matches the installed filters.
func (b *Bitcoind) poll(ctx context.Context,
	seen map[chainhash.Hash]struct{}) (map[chainhash.Hash]struct{},
	error) {

	best, err := b.client.GetBlockCount()
	if err != nil {
		return nil, fmt.Errorf("get block count: %w", err)
	}

	// When the chain shrank or the hash at our height changed, the chain
	// reorganized. Rewind to the fork point and rescan from there.
	if int32(best) < b.height {
		b.rewind()
	} else if hash, ok := b.recentHashes[b.height]; ok {
		chainHash, err := b.client.GetBlockHash(int64(b.height))
		if err != nil || !chainHash.IsEqual(hash) {
			b.rewind()
		}
	}

	for height := b.height + 1; height <= int32(best); height++ {
		hash, err := b.client.GetBlockHash(int64(height))
		if err != nil {
			return nil, fmt.Errorf("get block hash %v: %w",
				height, err)
		}

		block, err := b.client.GetBlock(hash)
		if err != nil {
			return nil, fmt.Errorf("get block %v: %w", hash, err)
		}

		for _, tx := range block.Transactions {
			if !b.matchesFilters(tx) {
				continue
			}

			err := b.emitTx(ctx, TxEvent{Tx: tx, Confirmed: true})
			if err != nil {
				return nil, err
			}
		}

		b.height = height
		b.recentHashes[height] = hash
		delete(b.recentHashes, height-trackedHashes)

		if err := b.emitBlock(ctx, height); err != nil {
			return nil, err
		}
	}

	mempool, err := b.client.GetRawMempool()
	if err != nil {
		return nil, fmt.Errorf("get mempool: %w", err)
	}

	hasFilters := b.hasFilters()
	next := make(map[chainhash.Hash]struct{}, len(mempool))
	for _, txid := range mempool {
		next[*txid] = struct{}{}

		if _, ok := seen[*txid]; ok || !hasFilters {
			continue
		}

		// The transaction may have been evicted or mined between the
		// mempool listing and this lookup.
		tx, err := b.client.GetRawTransaction(txid)
		if err != nil {
			continue
		}

		if !b.matchesFilters(tx.MsgTx()) {
			continue
		}

		err = b.emitTx(ctx, TxEvent{Tx: tx.MsgTx(), Confirmed: false})
		if err != nil {
			return nil, err
		}
	}

	return next, nil
}

// rewind walks our height back to the last block still part of the chain.
// Blocks past the tracked window cannot be verified, rescans are bounded by
// it.
func (b *Bitcoind) rewind() {
	start := b.height

	for b.height > 0 {
		hash, ok := b.recentHashes[b.height]
		if !ok {
			break
		}

		chainHash, err := b.client.GetBlockHash(int64(b.height))
		if err == nil && chainHash.IsEqual(hash) {
			break
		}

		delete(b.recentHashes, b.height)
		b.height--
	}

	log.Warnf("%v chain reorganized, rescanning from height %v (was %v)",
		b.cfg.Symbol, b.height, start)
}

// mempoolSet returns the current mempool as a lookup set.
func (b *Bitcoind) mempoolSet() (map[chainhash.Hash]struct{}, error) {
	mempool, err := b.client.GetRawMempool()
	if err != nil {
		return nil, err
	}

	set := make(map[chainhash.Hash]struct{}, len(mempool))
	for _, txid := range mempool {
		set[*txid] = struct{}{}
	}

	return set, nil
}

func (b *Bitcoind) emitTx(ctx context.Context, event TxEvent) error {
	select {
	case b.txQueue.ChanIn() <- event:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bitcoind) emitBlock(ctx context.Context, height int32) error {
	select {
	case b.blockQueue.ChanIn() <- height:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpTxs moves queued transaction events onto the public stream.
func (b *Bitcoind) pumpTxs(ctx context.Context) {
	for {
		select {
		case item := <-b.txQueue.ChanOut():
			select {
			case b.txChan <- item.(TxEvent):
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// pumpBlocks moves queued block heights onto the public stream.
func (b *Bitcoind) pumpBlocks(ctx context.Context) {
	for {
		select {
		case item := <-b.blockQueue.ChanOut():
			select {
			case b.blockChan <- item.(int32):
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// EstimateFee asks the node for a smart fee estimate, falling back to the
// configured rate when none is available.
func (b *Bitcoind) EstimateFee(_ context.Context, confTarget int32) (
	chainfee.SatPerVByte, error) {

	estimate, err := b.client.EstimateSmartFee(
		int64(confTarget), &btcjson.EstimateModeConservative,
	)
	if err != nil {
		return 0, fmt.Errorf("estimate fee: %w", err)
	}

	if estimate.FeeRate == nil || *estimate.FeeRate <= 0 {
		return b.cfg.FallbackFeeRate, nil
	}

	// The node reports BTC/kvB.
	perKvB, err := btcutil.NewAmount(*estimate.FeeRate)
	if err != nil {
		return 0, err
	}

	rate := chainfee.SatPerVByte(perKvB / 1000)
	if rate < 1 {
		rate = 1
	}

	return rate, nil
}

// RawTransaction fetches a transaction by its id.
func (b *Bitcoind) RawTransaction(_ context.Context, txid string) (
	*wire.MsgTx, error) {

	txHash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("parse txid: %w", err)
	}

	tx, err := b.client.GetRawTransaction(txHash)
	if err != nil {
		return nil, fmt.Errorf("get transaction %v: %w", txid, err)
	}

	return tx.MsgTx(), nil
}

// SendRawTransaction broadcasts a transaction. With relaxedFeePolicy set the
// node's maximum fee rate check is lifted.
func (b *Bitcoind) SendRawTransaction(_ context.Context, tx *wire.MsgTx,
	relaxedFeePolicy bool) (string, error) {

	txHash, err := b.client.SendRawTransaction(tx, relaxedFeePolicy)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	return txHash.String(), nil
}

// TransactionConfirmations returns the number of confirmations of the given
// transaction, zero while it sits in the mempool.
func (b *Bitcoind) TransactionConfirmations(_ context.Context, txid string) (
	uint32, error) {

	txHash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return 0, fmt.Errorf("parse txid: %w", err)
	}

	tx, err := b.client.GetRawTransactionVerbose(txHash)
	if err != nil {
		return 0, fmt.Errorf("get transaction %v: %w", txid, err)
	}

	return uint32(tx.Confirmations), nil
}

// AddInputFilter relays transactions spending the given outpoint to the
// transaction stream.
func (b *Bitcoind) AddInputFilter(op wire.OutPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inputFilters[op] = struct{}{}
}

// AddOutputFilter relays transactions paying to the given script to the
// transaction stream.
func (b *Bitcoind) AddOutputFilter(pkScript []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outputFilters[hex.EncodeToString(pkScript)] = struct{}{}
}

// RemoveInputFilter removes a previously installed input filter.
func (b *Bitcoind) RemoveInputFilter(op wire.OutPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inputFilters, op)
}

// RemoveOutputFilter removes a previously installed output filter.
func (b *Bitcoind) RemoveOutputFilter(pkScript []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.outputFilters, hex.EncodeToString(pkScript))
}

func (b *Bitcoind) hasFilters() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.inputFilters) > 0 || len(b.outputFilters) > 0
}

func (b *Bitcoind) matchesFilters(tx *wire.MsgTx) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.inputFilters) == 0 && len(b.outputFilters) == 0 {
		return false
	}

	for _, txIn := range tx.TxIn {
		if _, ok := b.inputFilters[txIn.PreviousOutPoint]; ok {
			return true
		}
	}

	for _, txOut := range tx.TxOut {
		script := hex.EncodeToString(txOut.PkScript)
		if _, ok := b.outputFilters[script]; ok {
			return true
		}
	}

	return false
}

// Transactions is the stream of transactions matching the installed filters.
func (b *Bitcoind) Transactions() <-chan TxEvent {
	return b.txChan
}

// Blocks is the stream of new block heights.
func (b *Bitcoind) Blocks() <-chan int32 {
	return b.blockChan
}

// SendToAddress sends the given amount through the node's wallet. The fee
// rate is passed to the wallet, a zero rate leaves the choice to the node.
func (b *Bitcoind) SendToAddress(_ context.Context, addr string,
	amount btcutil.Amount, feeRate chainfee.SatPerVByte, label string) (
	*SendResult, error) {

	// Positional sendtoaddress arguments, fee_rate is in sat/vB.
	args := []interface{}{
		addr, amount.ToBTC(), label, "", false, true,
	}
	if feeRate > 0 {
		args = append(args, nil, nil, false, int64(feeRate))
	}

	params, err := marshalParams(args...)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.RawRequest("sendtoaddress", params)
	if err != nil {
		return nil, fmt.Errorf("send to address: %w", err)
	}

	var txid string
	if err := json.Unmarshal(resp, &txid); err != nil {
		return nil, fmt.Errorf("parse sendtoaddress response: %w", err)
	}

	txHash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, err
	}

	walletTx, err := b.client.GetTransaction(txHash)
	if err != nil {
		return nil, fmt.Errorf("get wallet transaction %v: %w", txid,
			err)
	}

	// The wallet reports the fee as a negative BTC amount.
	fee, err := btcutil.NewAmount(-walletTx.Fee)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(walletTx.Hex)
	if err != nil {
		return nil, err
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize wallet transaction: %w",
			err)
	}

	pkScript, err := b.DecodeAddress(addr)
	if err != nil {
		return nil, err
	}

	vout, err := findOutput(tx, pkScript)
	if err != nil {
		return nil, err
	}

	return &SendResult{
		Tx:   tx,
		TxID: txid,
		Vout: vout,
		Fee:  fee,
	}, nil
}

// NewAddress returns a fresh wallet address carrying the given label.
func (b *Bitcoind) NewAddress(_ context.Context, label string) (string,
	error) {

	params, err := marshalParams(label)
	if err != nil {
		return "", err
	}

	resp, err := b.client.RawRequest("getnewaddress", params)
	if err != nil {
		return "", fmt.Errorf("get new address: %w", err)
	}

	var addr string
	if err := json.Unmarshal(resp, &addr); err != nil {
		return "", fmt.Errorf("parse getnewaddress response: %w", err)
	}

	return addr, nil
}

// KeyForIndex derives the swap key pair at the given index under the
// hardened swap key family branch.
func (b *Bitcoind) KeyForIndex(index int32) (*btcec.PrivateKey, error) {
	if b.cfg.SwapKey == nil {
		return nil, errors.New("no swap key configured")
	}
	if index < 0 {
		return nil, fmt.Errorf("negative key index %v", index)
	}

	family, err := b.cfg.SwapKey.Derive(
		hdkeychain.HardenedKeyStart + uint32(swap.KeyFamily),
	)
	if err != nil {
		return nil, err
	}

	key, err := family.Derive(uint32(index))
	if err != nil {
		return nil, err
	}

	return key.ECPrivKey()
}

// DecodeAddress converts an address string into the script it pays to,
// validating it against the wallet's network.
func (b *Bitcoind) DecodeAddress(addr string) ([]byte, error) {
	return DecodeBitcoinAddress(addr, b.cfg.Params)
}

// findOutput returns the index of the output paying the given script.
func findOutput(tx *wire.MsgTx, pkScript []byte) (uint32, error) {
	for i, txOut := range tx.TxOut {
		if bytes.Equal(txOut.PkScript, pkScript) {
			return uint32(i), nil
		}
	}

	return 0, fmt.Errorf("transaction %v pays no output to the "+
		"requested script", tx.TxHash())
}

// marshalParams encodes positional JSON-RPC parameters.
func marshalParams(params ...interface{}) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, len(params))
	for i, param := range params {
		data, err := json.Marshal(param)
		if err != nil {
			return nil, err
		}
		raw[i] = data
	}

	return raw, nil
}
