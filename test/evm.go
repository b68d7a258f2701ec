package test

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/evm"
)

// Subscription implements ethereum.Subscription for backend mocks.
type Subscription struct {
	errChan chan error
}

// NewSubscription returns an idle subscription.
func NewSubscription() *Subscription {
	return &Subscription{errChan: make(chan error, 1)}
}

// Unsubscribe implements ethereum.Subscription.
func (s *Subscription) Unsubscribe() {}

// Err implements ethereum.Subscription.
func (s *Subscription) Err() <-chan error {
	return s.errChan
}

// EvmBackendMock is a scriptable evm.Backend. It captures the channels the
// watcher subscribes with so tests can inject logs and headers.
type EvmBackendMock struct {
	mu       sync.Mutex
	logSink  chan<- types.Log
	headSink chan<- *types.Header

	// ready is closed once both subscriptions are installed.
	ready chan struct{}

	receipts map[common.Hash]*types.Receipt
	height   uint64
}

var _ evm.Backend = (*EvmBackendMock)(nil)

// NewEvmBackendMock returns an EVM backend mock.
func NewEvmBackendMock() *EvmBackendMock {
	return &EvmBackendMock{
		ready:    make(chan struct{}),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

// Ready is closed once the watcher under test installed its subscriptions.
// Logs and heads sent earlier would be lost.
func (b *EvmBackendMock) Ready() <-chan struct{} {
	return b.ready
}

// SetReceipt scripts the receipt of a mined transaction.
func (b *EvmBackendMock) SetReceipt(txHash common.Hash,
	receipt *types.Receipt) {

	b.mu.Lock()
	defer b.mu.Unlock()

	b.receipts[txHash] = receipt
}

// SetHeight scripts the current chain height.
func (b *EvmBackendMock) SetHeight(height uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.height = height
}

// SendLog injects a contract log into the subscribed watcher.
func (b *EvmBackendMock) SendLog(lg types.Log) {
	b.mu.Lock()
	sink := b.logSink
	b.mu.Unlock()

	sink <- lg
}

// SendHead injects a new block header into the subscribed watcher.
func (b *EvmBackendMock) SendHead(height uint64) {
	b.mu.Lock()
	sink := b.headSink
	b.height = height
	b.mu.Unlock()

	sink <- &types.Header{Number: new(big.Int).SetUint64(height)}
}

// SubscribeFilterLogs implements evm.Backend.
func (b *EvmBackendMock) SubscribeFilterLogs(_ context.Context,
	_ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription,
	error) {

	b.mu.Lock()
	b.logSink = ch
	b.mu.Unlock()

	return NewSubscription(), nil
}

// FilterLogs implements evm.Backend.
func (b *EvmBackendMock) FilterLogs(context.Context, ethereum.FilterQuery) (
	[]types.Log, error) {

	return nil, nil
}

// SubscribeNewHead implements evm.Backend.
func (b *EvmBackendMock) SubscribeNewHead(_ context.Context,
	ch chan<- *types.Header) (ethereum.Subscription, error) {

	b.mu.Lock()
	b.headSink = ch
	b.mu.Unlock()

	// The watcher subscribes to logs first, heads second.
	close(b.ready)

	return NewSubscription(), nil
}

// TransactionReceipt implements evm.Backend.
func (b *EvmBackendMock) TransactionReceipt(_ context.Context,
	txHash common.Hash) (*types.Receipt, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return receipt, nil
}

// BlockNumber implements evm.Backend.
func (b *EvmBackendMock) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.height, nil
}

// ContractCall records one swap contract transaction of the contracts mock.
type ContractCall struct {
	// Method is the contract method name, "ClaimEther" or alike.
	Method string

	// Token is the token contract, zero for Ether calls.
	Token common.Address

	// PreimageHash is the hash of lockup and refund calls.
	PreimageHash lntypes.Hash

	// Preimage is the preimage of claim calls.
	Preimage lntypes.Preimage

	// Amount is the contract amount in wei.
	Amount *big.Int

	// PrepayAmount is the miner fee prepay in wei, nil without one.
	PrepayAmount *big.Int

	// ClaimAddress is the claim address of lockup and refund calls.
	ClaimAddress common.Address

	// RefundAddress is the refund address of claim calls.
	RefundAddress common.Address

	// Timelock is the contract timelock.
	Timelock uint64

	// TxHash is the hash the call returned.
	TxHash common.Hash
}

// ContractsMock is a scriptable evm.ContractHandler. Every submitted call is
// delivered on Calls.
type ContractsMock struct {
	// Calls receives every submitted contract transaction.
	Calls chan ContractCall

	mu          sync.Mutex
	etherValues map[common.Hash]*evm.EtherSwapValues
	tokenValues map[common.Hash]*evm.TokenSwapValues
	callErr     error
	counter     byte
}

var _ evm.ContractHandler = (*ContractsMock)(nil)

// NewContractsMock returns a contracts mock.
func NewContractsMock() *ContractsMock {
	return &ContractsMock{
		Calls:       make(chan ContractCall, 10),
		etherValues: make(map[common.Hash]*evm.EtherSwapValues),
		tokenValues: make(map[common.Hash]*evm.TokenSwapValues),
	}
}

// SetCallError makes every contract call fail until cleared.
func (m *ContractsMock) SetCallError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callErr = err
}

// SetEtherSwapValues scripts the readback values of an Ether lockup.
func (m *ContractsMock) SetEtherSwapValues(lockupTxHash common.Hash,
	values *evm.EtherSwapValues) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.etherValues[lockupTxHash] = values
}

// SetTokenSwapValues scripts the readback values of an ERC20 lockup.
func (m *ContractsMock) SetTokenSwapValues(lockupTxHash common.Hash,
	values *evm.TokenSwapValues) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokenValues[lockupTxHash] = values
}

// submit records a call and returns a distinct transaction hash.
func (m *ContractsMock) submit(call ContractCall) (common.Hash, error) {
	m.mu.Lock()
	if m.callErr != nil {
		err := m.callErr
		m.mu.Unlock()
		return common.Hash{}, err
	}

	m.counter++
	call.TxHash = common.Hash{0: 0xee, 31: m.counter}
	m.mu.Unlock()

	m.Calls <- call

	return call.TxHash, nil
}

// LockupEther implements evm.ContractHandler.
func (m *ContractsMock) LockupEther(_ context.Context,
	preimageHash lntypes.Hash, amount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	return m.submit(ContractCall{
		Method:       "LockupEther",
		PreimageHash: preimageHash,
		Amount:       amount,
		ClaimAddress: claimAddress,
		Timelock:     timelock,
	})
}

// LockupEtherPrepayMinerfee implements evm.ContractHandler.
func (m *ContractsMock) LockupEtherPrepayMinerfee(_ context.Context,
	preimageHash lntypes.Hash, amount, prepayAmount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	return m.submit(ContractCall{
		Method:       "LockupEtherPrepayMinerfee",
		PreimageHash: preimageHash,
		Amount:       amount,
		PrepayAmount: prepayAmount,
		ClaimAddress: claimAddress,
		Timelock:     timelock,
	})
}

// LockupToken implements evm.ContractHandler.
func (m *ContractsMock) LockupToken(_ context.Context, token common.Address,
	preimageHash lntypes.Hash, amount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	return m.submit(ContractCall{
		Method:       "LockupToken",
		Token:        token,
		PreimageHash: preimageHash,
		Amount:       amount,
		ClaimAddress: claimAddress,
		Timelock:     timelock,
	})
}

// LockupTokenPrepayMinerfee implements evm.ContractHandler.
func (m *ContractsMock) LockupTokenPrepayMinerfee(_ context.Context,
	token common.Address, preimageHash lntypes.Hash,
	amount, prepayAmount *big.Int, claimAddress common.Address,
	timelock uint64) (common.Hash, error) {

	return m.submit(ContractCall{
		Method:       "LockupTokenPrepayMinerfee",
		Token:        token,
		PreimageHash: preimageHash,
		Amount:       amount,
		PrepayAmount: prepayAmount,
		ClaimAddress: claimAddress,
		Timelock:     timelock,
	})
}

// ClaimEther implements evm.ContractHandler.
func (m *ContractsMock) ClaimEther(_ context.Context,
	preimage lntypes.Preimage, amount *big.Int,
	refundAddress common.Address, timelock uint64) (common.Hash, error) {

	return m.submit(ContractCall{
		Method:        "ClaimEther",
		Preimage:      preimage,
		Amount:        amount,
		RefundAddress: refundAddress,
		Timelock:      timelock,
	})
}

// ClaimToken implements evm.ContractHandler.
func (m *ContractsMock) ClaimToken(_ context.Context, token common.Address,
	preimage lntypes.Preimage, amount *big.Int,
	refundAddress common.Address, timelock uint64) (common.Hash, error) {

	return m.submit(ContractCall{
		Method:        "ClaimToken",
		Token:         token,
		Preimage:      preimage,
		Amount:        amount,
		RefundAddress: refundAddress,
		Timelock:      timelock,
	})
}

// RefundEther implements evm.ContractHandler.
func (m *ContractsMock) RefundEther(_ context.Context,
	preimageHash lntypes.Hash, amount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	return m.submit(ContractCall{
		Method:       "RefundEther",
		PreimageHash: preimageHash,
		Amount:       amount,
		ClaimAddress: claimAddress,
		Timelock:     timelock,
	})
}

// RefundToken implements evm.ContractHandler.
func (m *ContractsMock) RefundToken(_ context.Context, token common.Address,
	preimageHash lntypes.Hash, amount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	return m.submit(ContractCall{
		Method:       "RefundToken",
		Token:        token,
		PreimageHash: preimageHash,
		Amount:       amount,
		ClaimAddress: claimAddress,
		Timelock:     timelock,
	})
}

// EtherSwapValues implements evm.ContractHandler.
func (m *ContractsMock) EtherSwapValues(_ context.Context,
	lockupTxHash common.Hash, _ lntypes.Hash) (*evm.EtherSwapValues,
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	values, ok := m.etherValues[lockupTxHash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return values, nil
}

// TokenSwapValues implements evm.ContractHandler.
func (m *ContractsMock) TokenSwapValues(_ context.Context,
	lockupTxHash common.Hash, _ lntypes.Hash) (*evm.TokenSwapValues,
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	values, ok := m.tokenValues[lockupTxHash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return values, nil
}
