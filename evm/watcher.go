package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/swap"
)

// defaultEventBuffer is the size of the watcher's outgoing event channel.
const defaultEventBuffer = 100

// Definitions of the EtherSwap and ERC20Swap contracts. The Lockup
// signatures differ, Claim and Refund are shared. The watcher only consumes
// the events, the contract handler packs the function calls.
const (
	etherSwapJSON = `[
		{"type":"event","name":"Lockup","inputs":[
			{"name":"preimageHash","type":"bytes32","indexed":true},
			{"name":"amount","type":"uint256"},
			{"name":"claimAddress","type":"address"},
			{"name":"refundAddress","type":"address","indexed":true},
			{"name":"timelock","type":"uint256"}]},
		{"type":"event","name":"Claim","inputs":[
			{"name":"preimageHash","type":"bytes32","indexed":true},
			{"name":"preimage","type":"bytes32"}]},
		{"type":"event","name":"Refund","inputs":[
			{"name":"preimageHash","type":"bytes32","indexed":true}]},
		{"type":"function","name":"lock","stateMutability":"payable",
			"inputs":[
			{"name":"preimageHash","type":"bytes32"},
			{"name":"claimAddress","type":"address"},
			{"name":"timelock","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"lockPrepayMinerfee",
			"stateMutability":"payable","inputs":[
			{"name":"preimageHash","type":"bytes32"},
			{"name":"claimAddress","type":"address"},
			{"name":"timelock","type":"uint256"},
			{"name":"prepayAmount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"claim",
			"stateMutability":"nonpayable","inputs":[
			{"name":"preimage","type":"bytes32"},
			{"name":"amount","type":"uint256"},
			{"name":"refundAddress","type":"address"},
			{"name":"timelock","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"refund",
			"stateMutability":"nonpayable","inputs":[
			{"name":"preimageHash","type":"bytes32"},
			{"name":"amount","type":"uint256"},
			{"name":"claimAddress","type":"address"},
			{"name":"timelock","type":"uint256"}],"outputs":[]}
	]`

	erc20SwapJSON = `[
		{"type":"event","name":"Lockup","inputs":[
			{"name":"preimageHash","type":"bytes32","indexed":true},
			{"name":"amount","type":"uint256"},
			{"name":"tokenAddress","type":"address"},
			{"name":"claimAddress","type":"address"},
			{"name":"refundAddress","type":"address","indexed":true},
			{"name":"timelock","type":"uint256"}]},
		{"type":"event","name":"Claim","inputs":[
			{"name":"preimageHash","type":"bytes32","indexed":true},
			{"name":"preimage","type":"bytes32"}]},
		{"type":"event","name":"Refund","inputs":[
			{"name":"preimageHash","type":"bytes32","indexed":true}]},
		{"type":"function","name":"lock",
			"stateMutability":"nonpayable","inputs":[
			{"name":"preimageHash","type":"bytes32"},
			{"name":"amount","type":"uint256"},
			{"name":"tokenAddress","type":"address"},
			{"name":"claimAddress","type":"address"},
			{"name":"timelock","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"lockPrepayMinerfee",
			"stateMutability":"payable","inputs":[
			{"name":"preimageHash","type":"bytes32"},
			{"name":"amount","type":"uint256"},
			{"name":"tokenAddress","type":"address"},
			{"name":"claimAddress","type":"address"},
			{"name":"timelock","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"claim",
			"stateMutability":"nonpayable","inputs":[
			{"name":"preimage","type":"bytes32"},
			{"name":"amount","type":"uint256"},
			{"name":"tokenAddress","type":"address"},
			{"name":"refundAddress","type":"address"},
			{"name":"timelock","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"refund",
			"stateMutability":"nonpayable","inputs":[
			{"name":"preimageHash","type":"bytes32"},
			{"name":"amount","type":"uint256"},
			{"name":"tokenAddress","type":"address"},
			{"name":"claimAddress","type":"address"},
			{"name":"timelock","type":"uint256"}],"outputs":[]}
	]`
)

var (
	etherSwapABI abi.ABI
	erc20SwapABI abi.ABI

	etherLockupTopic common.Hash
	erc20LockupTopic common.Hash
	claimTopic       common.Hash
	refundTopic      common.Hash
)

func init() {
	var err error
	etherSwapABI, err = abi.JSON(strings.NewReader(etherSwapJSON))
	if err != nil {
		panic(err)
	}

	erc20SwapABI, err = abi.JSON(strings.NewReader(erc20SwapJSON))
	if err != nil {
		panic(err)
	}

	etherLockupTopic = etherSwapABI.Events["Lockup"].ID
	erc20LockupTopic = erc20SwapABI.Events["Lockup"].ID
	claimTopic = etherSwapABI.Events["Claim"].ID
	refundTopic = etherSwapABI.Events["Refund"].ID
}

// LockupRegistration tracks a preimage hash a Lockup log is expected for.
type LockupRegistration struct {
	// SwapID identifies the swap.
	SwapID string

	// Kind is the swap kind.
	Kind swap.Kind

	// PreimageHash is the first Lockup topic to match.
	PreimageHash lntypes.Hash

	// ServerLockup marks the registration as watching our own lockup. No
	// lockup event fires for it, only a confirmation event once the
	// configured number of confirmations is reached.
	ServerLockup bool
}

// ClaimRegistration tracks a preimage hash a Claim or Refund log is expected
// for.
type ClaimRegistration struct {
	// SwapID identifies the swap.
	SwapID string

	// Kind is the swap kind.
	Kind swap.Kind

	// PreimageHash is the first topic to match.
	PreimageHash lntypes.Hash
}

// ExpiryRegistration tracks a swap timeout height. It fires at most once.
type ExpiryRegistration struct {
	// SwapID identifies the swap.
	SwapID string

	// Kind is the swap kind.
	Kind swap.Kind

	// TimeoutBlockHeight is the height at which the refund path opens.
	TimeoutBlockHeight uint64
}

// pendingLockup is a mined server lockup waiting for its confirmations.
type pendingLockup struct {
	reg     *LockupRegistration
	minedAt uint64
}

// WatcherConfig holds the dependencies of a Watcher.
type WatcherConfig struct {
	// Symbol is the ticker of the chain being watched.
	Symbol string

	// Backend is the JSON-RPC client delivering logs and headers.
	Backend Backend

	// EtherSwapAddress is the deployed EtherSwap contract.
	EtherSwapAddress common.Address

	// ERC20SwapAddress is the deployed ERC20Swap contract. The zero
	// address disables token swaps.
	ERC20SwapAddress common.Address

	// ConfTarget is the number of confirmations our own lockups need
	// before they count as confirmed. Values below one are treated as
	// one.
	ConfTarget uint64

	// EventBuffer overrides the default event channel capacity.
	EventBuffer int
}

// Watcher subscribes to the Lockup, Claim and Refund logs of the swap
// contracts and to new block headers, matching both against the registered
// swaps.
type Watcher struct {
	cfg WatcherConfig

	currentHeight uint64 // used atomically

	mu       sync.Mutex
	lockups  map[common.Hash]*LockupRegistration
	claims   map[common.Hash]*ClaimRegistration
	expiries map[string]*ExpiryRegistration
	pending  map[common.Hash]*pendingLockup

	events chan Event
}

// NewWatcher returns a watcher for the given EVM backend.
func NewWatcher(cfg *WatcherConfig) *Watcher {
	buffer := cfg.EventBuffer
	if buffer == 0 {
		buffer = defaultEventBuffer
	}

	w := &Watcher{
		cfg:      *cfg,
		lockups:  make(map[common.Hash]*LockupRegistration),
		claims:   make(map[common.Hash]*ClaimRegistration),
		expiries: make(map[string]*ExpiryRegistration),
		pending:  make(map[common.Hash]*pendingLockup),
		events:   make(chan Event, buffer),
	}

	if w.cfg.ConfTarget < 1 {
		w.cfg.ConfTarget = 1
	}

	return w
}

// Symbol returns the ticker of the watched chain.
func (w *Watcher) Symbol() string {
	return w.cfg.Symbol
}

// Events returns the stream of watcher events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Height returns the best block height seen so far.
func (w *Watcher) Height() uint64 {
	return atomic.LoadUint64(&w.currentHeight)
}

// WatchLockup registers a preimage hash to match Lockup logs against.
func (w *Watcher) WatchLockup(reg *LockupRegistration) {
	w.mu.Lock()
	w.lockups[common.Hash(reg.PreimageHash)] = reg
	w.mu.Unlock()

	log.Debugf("Watching %v lockup logs for %v swap %v", w.cfg.Symbol,
		reg.Kind, reg.SwapID)
}

// WatchClaim registers a preimage hash to match Claim and Refund logs
// against.
func (w *Watcher) WatchClaim(reg *ClaimRegistration) {
	w.mu.Lock()
	w.claims[common.Hash(reg.PreimageHash)] = reg
	w.mu.Unlock()

	log.Debugf("Watching %v claim logs for %v swap %v", w.cfg.Symbol,
		reg.Kind, reg.SwapID)
}

// WatchExpiry registers a swap timeout height.
func (w *Watcher) WatchExpiry(reg *ExpiryRegistration) {
	w.mu.Lock()
	w.expiries[reg.SwapID] = reg
	w.mu.Unlock()
}

// ForgetSwap drops all registrations of the given swap.
func (w *Watcher) ForgetSwap(swapID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for hash, reg := range w.lockups {
		if reg.SwapID == swapID {
			delete(w.lockups, hash)
		}
	}

	for hash, reg := range w.claims {
		if reg.SwapID == swapID {
			delete(w.claims, hash)
		}
	}

	for txHash, pending := range w.pending {
		if pending.reg.SwapID == swapID {
			delete(w.pending, txHash)
		}
	}

	delete(w.expiries, swapID)
}

// Run starts the watcher event loop. It only returns when the context is
// cancelled or a subscription fails.
func (w *Watcher) Run(ctx context.Context) error {
	log.Infof("Starting %v contract watcher", w.cfg.Symbol)

	addresses := []common.Address{w.cfg.EtherSwapAddress}
	if w.cfg.ERC20SwapAddress != (common.Address{}) {
		addresses = append(addresses, w.cfg.ERC20SwapAddress)
	}

	logChan := make(chan types.Log, defaultEventBuffer)
	logSub, err := w.cfg.Backend.SubscribeFilterLogs(
		ctx, ethereum.FilterQuery{
			Addresses: addresses,
			Topics: [][]common.Hash{{
				etherLockupTopic, erc20LockupTopic,
				claimTopic, refundTopic,
			}},
		}, logChan,
	)
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	defer logSub.Unsubscribe()

	headChan := make(chan *types.Header, defaultEventBuffer)
	headSub, err := w.cfg.Backend.SubscribeNewHead(ctx, headChan)
	if err != nil {
		return fmt.Errorf("subscribe heads: %w", err)
	}
	defer headSub.Unsubscribe()

	for {
		select {
		case lg := <-logChan:
			if err := w.handleLog(ctx, lg); err != nil {
				return err
			}

		case head := <-headChan:
			if err := w.handleHead(ctx, head); err != nil {
				return err
			}

		case err := <-logSub.Err():
			return fmt.Errorf("%v log subscription: %w",
				w.cfg.Symbol, err)

		case err := <-headSub.Err():
			return fmt.Errorf("%v head subscription: %w",
				w.cfg.Symbol, err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleLog matches a contract log against the registrations and emits the
// resulting event.
func (w *Watcher) handleLog(ctx context.Context, lg types.Log) error {
	if len(lg.Topics) < 2 {
		return nil
	}

	preimageHash := lntypes.Hash(lg.Topics[1])

	// A removed log means the block it was part of was reorged out.
	// Lockups waiting for confirmations start over when the log is
	// emitted again.
	if lg.Removed {
		w.mu.Lock()
		delete(w.pending, lg.TxHash)
		w.mu.Unlock()

		log.Warnf("%v log of %v reorged out", w.cfg.Symbol,
			lg.TxHash)

		return nil
	}

	switch lg.Topics[0] {
	case etherLockupTopic:
		return w.handleLockup(ctx, lg, preimageHash, false)

	case erc20LockupTopic:
		return w.handleLockup(ctx, lg, preimageHash, true)

	case claimTopic:
		return w.handleClaim(ctx, lg, preimageHash)

	case refundTopic:
		return w.handleRefund(ctx, lg, preimageHash)

	default:
		return nil
	}
}

func (w *Watcher) handleLockup(ctx context.Context, lg types.Log,
	preimageHash lntypes.Hash, token bool) error {

	w.mu.Lock()
	reg, ok := w.lockups[common.Hash(preimageHash)]
	w.mu.Unlock()

	if !ok {
		return nil
	}

	// Our own lockups only need their confirmation depth tracked.
	if reg.ServerLockup {
		w.mu.Lock()
		w.pending[lg.TxHash] = &pendingLockup{
			reg:     reg,
			minedAt: lg.BlockNumber,
		}
		w.mu.Unlock()

		return w.checkPendingLockups(ctx, w.Height())
	}

	event := LockupEvent{
		SwapID: reg.SwapID,
		Kind:   reg.Kind,
		Token:  token,
		TxHash: lg.TxHash,
	}

	if token {
		vals, err := erc20SwapABI.Unpack("Lockup", lg.Data)
		if err != nil {
			return err
		}

		event.Amount = vals[0].(*big.Int)
		event.TokenAddress = vals[1].(common.Address)
		event.ClaimAddress = vals[2].(common.Address)
		event.Timelock = vals[3].(*big.Int).Uint64()
	} else {
		vals, err := etherSwapABI.Unpack("Lockup", lg.Data)
		if err != nil {
			return err
		}

		event.Amount = vals[0].(*big.Int)
		event.ClaimAddress = vals[1].(common.Address)
		event.Timelock = vals[2].(*big.Int).Uint64()
	}

	if len(lg.Topics) > 2 {
		event.RefundAddress = common.BytesToAddress(
			lg.Topics[2].Bytes(),
		)
	}

	log.Infof("Found %v lockup of %v swap %v in %v", w.cfg.Symbol,
		reg.Kind, reg.SwapID, lg.TxHash)

	return w.emit(ctx, event)
}

func (w *Watcher) handleClaim(ctx context.Context, lg types.Log,
	preimageHash lntypes.Hash) error {

	w.mu.Lock()
	reg, ok := w.claims[common.Hash(preimageHash)]
	w.mu.Unlock()

	if !ok {
		return nil
	}

	vals, err := etherSwapABI.Unpack("Claim", lg.Data)
	if err != nil {
		return err
	}

	preimage := lntypes.Preimage(vals[0].([32]byte))

	log.Infof("Counterparty claimed %v swap %v in %v", reg.Kind,
		reg.SwapID, lg.TxHash)

	return w.emit(ctx, ClaimEvent{
		SwapID:   reg.SwapID,
		Kind:     reg.Kind,
		Preimage: preimage,
		TxHash:   lg.TxHash,
	})
}

func (w *Watcher) handleRefund(ctx context.Context, lg types.Log,
	preimageHash lntypes.Hash) error {

	w.mu.Lock()
	reg, ok := w.claims[common.Hash(preimageHash)]
	w.mu.Unlock()

	if !ok {
		return nil
	}

	return w.emit(ctx, RefundEvent{
		SwapID: reg.SwapID,
		Kind:   reg.Kind,
		TxHash: lg.TxHash,
	})
}

// handleHead records the new height, completes pending lockup confirmations
// and fires the expiry registrations it unlocks.
func (w *Watcher) handleHead(ctx context.Context, head *types.Header) error {
	height := head.Number.Uint64()
	atomic.StoreUint64(&w.currentHeight, height)

	if err := w.checkPendingLockups(ctx, height); err != nil {
		return err
	}

	w.mu.Lock()
	var expired []*ExpiryRegistration
	for id, reg := range w.expiries {
		if height >= reg.TimeoutBlockHeight {
			expired = append(expired, reg)
			delete(w.expiries, id)
		}
	}
	w.mu.Unlock()

	for _, reg := range expired {
		log.Infof("%v swap %v timed out at height %v", reg.Kind,
			reg.SwapID, height)

		err := w.emit(ctx, ExpiryEvent{
			SwapID: reg.SwapID,
			Kind:   reg.Kind,
			Height: height,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *Watcher) checkPendingLockups(ctx context.Context,
	height uint64) error {

	w.mu.Lock()
	var confirmed []*pendingLockup
	var txHashes []common.Hash
	for txHash, pending := range w.pending {
		if height >= pending.minedAt+w.cfg.ConfTarget-1 {
			confirmed = append(confirmed, pending)
			txHashes = append(txHashes, txHash)
			delete(w.pending, txHash)
		}
	}
	w.mu.Unlock()

	for i, pending := range confirmed {
		log.Infof("Server lockup of %v swap %v confirmed: %v",
			pending.reg.Kind, pending.reg.SwapID, txHashes[i])

		err := w.emit(ctx, LockupConfirmedEvent{
			SwapID: pending.reg.SwapID,
			Kind:   pending.reg.Kind,
			TxHash: txHashes[i],
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *Watcher) emit(ctx context.Context, event Event) error {
	select {
	case w.events <- event:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}
