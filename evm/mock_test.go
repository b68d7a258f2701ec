package evm

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// mockSubscription implements ethereum.Subscription.
type mockSubscription struct {
	errChan chan error
}

func newMockSubscription() *mockSubscription {
	return &mockSubscription{errChan: make(chan error, 1)}
}

func (m *mockSubscription) Unsubscribe() {}

func (m *mockSubscription) Err() <-chan error {
	return m.errChan
}

// mockBackend is a scriptable EVM backend for watcher tests. It captures
// the channels the watcher subscribes with so tests can inject logs and
// headers.
type mockBackend struct {
	mu       sync.Mutex
	logSink  chan<- types.Log
	headSink chan<- *types.Header

	// ready is closed once both subscriptions are installed.
	ready chan struct{}

	receipts map[common.Hash]*types.Receipt
	height   uint64
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		ready:    make(chan struct{}),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (b *mockBackend) SubscribeFilterLogs(_ context.Context,
	_ ethereum.FilterQuery, ch chan<- types.Log) (
	ethereum.Subscription, error) {

	b.mu.Lock()
	b.logSink = ch
	b.mu.Unlock()

	return newMockSubscription(), nil
}

func (b *mockBackend) FilterLogs(context.Context, ethereum.FilterQuery) (
	[]types.Log, error) {

	return nil, nil
}

func (b *mockBackend) SubscribeNewHead(_ context.Context,
	ch chan<- *types.Header) (ethereum.Subscription, error) {

	b.mu.Lock()
	b.headSink = ch
	b.mu.Unlock()

	// The watcher subscribes to logs first, heads second.
	close(b.ready)

	return newMockSubscription(), nil
}

func (b *mockBackend) TransactionReceipt(_ context.Context,
	txHash common.Hash) (*types.Receipt, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return receipt, nil
}

func (b *mockBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.height, nil
}

func (b *mockBackend) sendLog(lg types.Log) {
	b.mu.Lock()
	sink := b.logSink
	b.mu.Unlock()

	sink <- lg
}

func (b *mockBackend) sendHead(height uint64) {
	b.mu.Lock()
	sink := b.headSink
	b.height = height
	b.mu.Unlock()

	sink <- &types.Header{Number: new(big.Int).SetUint64(height)}
}
