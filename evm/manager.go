package evm

import (
	"context"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Manager bundles everything the nursery needs to drive swaps on one EVM
// chain.
type Manager struct {
	// Symbol is the ticker of the chain, "ETH" or "RBTC".
	Symbol string

	// Contracts submits swap contract transactions.
	Contracts ContractHandler

	// Backend is the JSON-RPC client.
	Backend Backend

	// Watcher delivers contract events.
	Watcher *Watcher

	// Tokens maps ERC20 ticker symbols to their contract addresses.
	Tokens map[string]common.Address
}

// NewManager returns a manager for one EVM chain.
func NewManager(symbol string, contracts ContractHandler, backend Backend,
	watcher *Watcher, tokens map[string]common.Address) *Manager {

	return &Manager{
		Symbol:    symbol,
		Contracts: contracts,
		Backend:   backend,
		Watcher:   watcher,
		Tokens:    tokens,
	}
}

// HasSymbol reports whether the given ticker is the chain's native coin or
// one of its configured tokens.
func (m *Manager) HasSymbol(symbol string) bool {
	if symbol == m.Symbol {
		return true
	}

	_, ok := m.Tokens[symbol]
	return ok
}

// TokenAddress returns the contract address of a configured token.
func (m *Manager) TokenAddress(symbol string) (common.Address, error) {
	addr, ok := m.Tokens[symbol]
	if !ok {
		return common.Address{}, errors.New("unknown token")
	}

	return addr, nil
}

// TransactionFee returns the miner fee a mined transaction paid, in
// satoshis.
func (m *Manager) TransactionFee(ctx context.Context, txHash common.Hash) (
	btcutil.Amount, error) {

	receipt, err := m.Backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		return 0, err
	}

	fee := new(big.Int).Mul(
		new(big.Int).SetUint64(receipt.GasUsed),
		receipt.EffectiveGasPrice,
	)

	return SatsFromWei(fee), nil
}

// TransactionConfirmations returns the confirmation depth of a transaction,
// zero when it is not mined yet.
func (m *Manager) TransactionConfirmations(ctx context.Context,
	txHash common.Hash) (uint64, error) {

	receipt, err := m.Backend.TransactionReceipt(ctx, txHash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return 0, nil

	case err != nil:
		return 0, err
	}

	height, err := m.Backend.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	mined := receipt.BlockNumber.Uint64()
	if height < mined {
		return 0, nil
	}

	return height - mined + 1, nil
}
