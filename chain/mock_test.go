package chain

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/swapdhq/swapd/swap"
)

// mockChain is a scriptable chain backend for watcher tests.
type mockChain struct {
	currency swap.CurrencyType

	txChan    chan TxEvent
	blockChan chan int32

	mu            sync.Mutex
	inputFilters  map[wire.OutPoint]struct{}
	outputFilters map[string]struct{}
	rawTxs        map[string]*wire.MsgTx
	confs         map[string]uint32
	sentTxs       []*wire.MsgTx

	feeRate chainfee.SatPerVByte
}

func newMockChain() *mockChain {
	return &mockChain{
		currency:      swap.CurrencyBitcoinLike,
		txChan:        make(chan TxEvent),
		blockChan:     make(chan int32),
		inputFilters:  make(map[wire.OutPoint]struct{}),
		outputFilters: make(map[string]struct{}),
		rawTxs:        make(map[string]*wire.MsgTx),
		confs:         make(map[string]uint32),
		feeRate:       chainfee.SatPerVByte(2),
	}
}

func (m *mockChain) CurrencyType() swap.CurrencyType {
	return m.currency
}

func (m *mockChain) EstimateFee(context.Context, int32) (
	chainfee.SatPerVByte, error) {

	return m.feeRate, nil
}

func (m *mockChain) RawTransaction(_ context.Context, txid string) (
	*wire.MsgTx, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rawTxs[txid], nil
}

func (m *mockChain) SendRawTransaction(_ context.Context, tx *wire.MsgTx,
	_ bool) (string, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sentTxs = append(m.sentTxs, tx)

	return tx.TxHash().String(), nil
}

func (m *mockChain) TransactionConfirmations(_ context.Context,
	txid string) (uint32, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.confs[txid], nil
}

func (m *mockChain) AddInputFilter(op wire.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inputFilters[op] = struct{}{}
}

func (m *mockChain) AddOutputFilter(pkScript []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outputFilters[hex.EncodeToString(pkScript)] = struct{}{}
}

func (m *mockChain) RemoveInputFilter(op wire.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inputFilters, op)
}

func (m *mockChain) RemoveOutputFilter(pkScript []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.outputFilters, hex.EncodeToString(pkScript))
}

func (m *mockChain) Transactions() <-chan TxEvent {
	return m.txChan
}

func (m *mockChain) Blocks() <-chan int32 {
	return m.blockChan
}

// hasOutputFilter reports whether a backend filter for the script is
// currently installed.
func (m *mockChain) hasOutputFilter(pkScript []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.outputFilters[hex.EncodeToString(pkScript)]
	return ok
}

// hasInputFilter reports whether a backend filter for the outpoint is
// currently installed.
func (m *mockChain) hasInputFilter(op wire.OutPoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.inputFilters[op]
	return ok
}
