package test

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/swapdhq/swapd/chain"
	"github.com/swapdhq/swapd/swap"
)

// ChainMock is a scriptable chain.Client. Tests feed transactions and blocks
// through the exported channels and observe broadcasts on SendChannel.
type ChainMock struct {
	// TxChannel delivers transactions to the watcher under test.
	TxChannel chan chain.TxEvent

	// BlockChannel delivers new block heights to the watcher under test.
	BlockChannel chan int32

	// SendChannel receives every transaction broadcast through the mock.
	SendChannel chan *wire.MsgTx

	currency swap.CurrencyType

	mu            sync.Mutex
	inputFilters  map[wire.OutPoint]struct{}
	outputFilters map[string]struct{}
	rawTxs        map[string]*wire.MsgTx
	confs         map[string]uint32
	feeRate       chainfee.SatPerVByte
	sendErr       error
}

var _ chain.Client = (*ChainMock)(nil)

// NewChainMock returns a chain mock with a default fee rate of 2 sat/vbyte.
func NewChainMock() *ChainMock {
	return &ChainMock{
		TxChannel:     make(chan chain.TxEvent, 10),
		BlockChannel:  make(chan int32, 10),
		SendChannel:   make(chan *wire.MsgTx, 10),
		currency:      swap.CurrencyBitcoinLike,
		inputFilters:  make(map[wire.OutPoint]struct{}),
		outputFilters: make(map[string]struct{}),
		rawTxs:        make(map[string]*wire.MsgTx),
		confs:         make(map[string]uint32),
		feeRate:       chainfee.SatPerVByte(2),
	}
}

// AddRawTransaction makes a transaction fetchable by its id.
func (m *ChainMock) AddRawTransaction(tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rawTxs[tx.TxHash().String()] = tx
}

// SetConfirmations scripts the confirmation count of a transaction.
func (m *ChainMock) SetConfirmations(txid string, confs uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.confs[txid] = confs
}

// SetFeeRate scripts the fee estimate.
func (m *ChainMock) SetFeeRate(feeRate chainfee.SatPerVByte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feeRate = feeRate
}

// SetSendError makes every broadcast fail until cleared.
func (m *ChainMock) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendErr = err
}

// HasInputFilter reports whether the given outpoint is being watched.
func (m *ChainMock) HasInputFilter(op wire.OutPoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.inputFilters[op]
	return ok
}

// HasOutputFilter reports whether the given script is being watched.
func (m *ChainMock) HasOutputFilter(pkScript []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.outputFilters[hex.EncodeToString(pkScript)]
	return ok
}

// CurrencyType implements chain.Client.
func (m *ChainMock) CurrencyType() swap.CurrencyType {
	return m.currency
}

// EstimateFee implements chain.Client.
func (m *ChainMock) EstimateFee(context.Context, int32) (chainfee.SatPerVByte,
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.feeRate, nil
}

// RawTransaction implements chain.Client.
func (m *ChainMock) RawTransaction(_ context.Context, txid string) (
	*wire.MsgTx, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.rawTxs[txid]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %v", txid)
	}

	return tx, nil
}

// SendRawTransaction implements chain.Client. Broadcast transactions become
// fetchable and are delivered on SendChannel.
func (m *ChainMock) SendRawTransaction(_ context.Context, tx *wire.MsgTx,
	_ bool) (string, error) {

	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return "", err
	}

	txid := tx.TxHash().String()
	m.rawTxs[txid] = tx
	m.mu.Unlock()

	m.SendChannel <- tx

	return txid, nil
}

// TransactionConfirmations implements chain.Client.
func (m *ChainMock) TransactionConfirmations(_ context.Context, txid string) (
	uint32, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.confs[txid], nil
}

// AddInputFilter implements chain.Client.
func (m *ChainMock) AddInputFilter(op wire.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inputFilters[op] = struct{}{}
}

// AddOutputFilter implements chain.Client.
func (m *ChainMock) AddOutputFilter(pkScript []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outputFilters[hex.EncodeToString(pkScript)] = struct{}{}
}

// RemoveInputFilter implements chain.Client.
func (m *ChainMock) RemoveInputFilter(op wire.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inputFilters, op)
}

// RemoveOutputFilter implements chain.Client.
func (m *ChainMock) RemoveOutputFilter(pkScript []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.outputFilters, hex.EncodeToString(pkScript))
}

// Transactions implements chain.Client.
func (m *ChainMock) Transactions() <-chan chain.TxEvent {
	return m.TxChannel
}

// Blocks implements chain.Client.
func (m *ChainMock) Blocks() <-chan int32 {
	return m.BlockChannel
}

// SendRequest records one WalletMock.SendToAddress call.
type SendRequest struct {
	// Addr is the destination address.
	Addr string

	// Amount is the requested amount.
	Amount btcutil.Amount

	// FeeRate is the requested fee rate.
	FeeRate chainfee.SatPerVByte

	// Label is the transaction label.
	Label string

	// Result is the synthesized send, nil when the send failed.
	Result *chain.SendResult
}

// WalletMock is a chain.Wallet over real address handling. Sends synthesize
// a spendable transaction paying the requested script and register it with
// the linked chain mock, so tests can confirm it or spend from it.
type WalletMock struct {
	// Sends receives every SendToAddress call.
	Sends chan SendRequest

	params *chaincfg.Params
	chain  *ChainMock

	mu          sync.Mutex
	sendErr     error
	sendFee     btcutil.Amount
	sendCounter byte
	addrCounter int32
}

var _ chain.Wallet = (*WalletMock)(nil)

// NewWalletMock returns a wallet mock for the given network, broadcasting
// through the given chain mock.
func NewWalletMock(params *chaincfg.Params, chainMock *ChainMock) *WalletMock {
	return &WalletMock{
		Sends:   make(chan SendRequest, 10),
		params:  params,
		chain:   chainMock,
		sendFee: 200,
	}
}

// SetSendError makes every send fail until cleared.
func (m *WalletMock) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendErr = err
}

// SendToAddress implements chain.Wallet.
func (m *WalletMock) SendToAddress(_ context.Context, addr string,
	amount btcutil.Amount, feeRate chainfee.SatPerVByte, label string) (
	*chain.SendResult, error) {

	m.mu.Lock()
	sendErr := m.sendErr
	m.sendCounter++
	counter := m.sendCounter
	fee := m.sendFee
	m.mu.Unlock()

	if sendErr != nil {
		m.Sends <- SendRequest{
			Addr:    addr,
			Amount:  amount,
			FeeRate: feeRate,
			Label:   label,
		}

		return nil, sendErr
	}

	pkScript, err := m.DecodeAddress(addr)
	if err != nil {
		return nil, err
	}

	// A distinct funding outpoint keeps the txids of repeated sends
	// unique.
	var prevHash chainhash.Hash
	prevHash[0] = counter

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	if m.chain != nil {
		m.chain.AddRawTransaction(tx)
	}

	result := &chain.SendResult{
		Tx:   tx,
		TxID: tx.TxHash().String(),
		Vout: 0,
		Fee:  fee,
	}

	m.Sends <- SendRequest{
		Addr:    addr,
		Amount:  amount,
		FeeRate: feeRate,
		Label:   label,
		Result:  result,
	}

	return result, nil
}

// NewAddress implements chain.Wallet, returning deterministic p2wkh
// addresses.
func (m *WalletMock) NewAddress(context.Context, string) (string, error) {
	m.mu.Lock()
	m.addrCounter++
	index := m.addrCounter
	m.mu.Unlock()

	_, pubKey := CreateKey(1000 + index)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), m.params,
	)
	if err != nil {
		return "", err
	}

	return addr.String(), nil
}

// KeyForIndex implements chain.Wallet with the deterministic test keys.
func (m *WalletMock) KeyForIndex(index int32) (*btcec.PrivateKey, error) {
	privKey, _ := CreateKey(index)

	return privKey, nil
}

// DecodeAddress implements chain.Wallet.
func (m *WalletMock) DecodeAddress(addr string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, m.params)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(decoded)
}
