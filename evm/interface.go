package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Backend is the subset of an Ethereum JSON-RPC client the watcher and the
// fee helpers need. *ethclient.Client satisfies it.
type Backend interface {
	// SubscribeFilterLogs subscribes to log events matching the query.
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery,
		ch chan<- types.Log) (ethereum.Subscription, error)

	// FilterLogs executes a one-shot log query.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) (
		[]types.Log, error)

	// SubscribeNewHead subscribes to new block headers.
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (
		ethereum.Subscription, error)

	// TransactionReceipt returns the receipt of a mined transaction.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (
		*types.Receipt, error)

	// BlockNumber returns the current chain height.
	BlockNumber(ctx context.Context) (uint64, error)
}

// EtherSwapValues are the parameters an Ether lockup was made with, read
// back from the chain.
type EtherSwapValues struct {
	Amount        *big.Int
	ClaimAddress  common.Address
	RefundAddress common.Address
	Timelock      uint64
}

// TokenSwapValues are the parameters an ERC20 lockup was made with, read
// back from the chain.
type TokenSwapValues struct {
	Amount        *big.Int
	TokenAddress  common.Address
	ClaimAddress  common.Address
	RefundAddress common.Address
	Timelock      uint64
}

// ContractHandler submits transactions to the EtherSwap and ERC20Swap
// contracts. All methods return the hash of the submitted transaction, the
// final miner fee only becomes known once the receipt is available.
type ContractHandler interface {
	// LockupEther locks up Ether for the given preimage hash.
	LockupEther(ctx context.Context, preimageHash lntypes.Hash,
		amount *big.Int, claimAddress common.Address,
		timelock uint64) (common.Hash, error)

	// LockupEtherPrepayMinerfee locks up Ether and transfers a miner fee
	// prepay to the claim address in the same transaction.
	LockupEtherPrepayMinerfee(ctx context.Context,
		preimageHash lntypes.Hash, amount, prepayAmount *big.Int,
		claimAddress common.Address, timelock uint64) (
		common.Hash, error)

	// LockupToken locks up ERC20 tokens for the given preimage hash.
	LockupToken(ctx context.Context, token common.Address,
		preimageHash lntypes.Hash, amount *big.Int,
		claimAddress common.Address, timelock uint64) (
		common.Hash, error)

	// LockupTokenPrepayMinerfee locks up ERC20 tokens and transfers an
	// Ether miner fee prepay to the claim address.
	LockupTokenPrepayMinerfee(ctx context.Context, token common.Address,
		preimageHash lntypes.Hash, amount, prepayAmount *big.Int,
		claimAddress common.Address, timelock uint64) (
		common.Hash, error)

	// ClaimEther claims an Ether lockup with the preimage.
	ClaimEther(ctx context.Context, preimage lntypes.Preimage,
		amount *big.Int, refundAddress common.Address,
		timelock uint64) (common.Hash, error)

	// ClaimToken claims an ERC20 lockup with the preimage.
	ClaimToken(ctx context.Context, token common.Address,
		preimage lntypes.Preimage, amount *big.Int,
		refundAddress common.Address, timelock uint64) (
		common.Hash, error)

	// RefundEther refunds an Ether lockup after its timelock passed.
	RefundEther(ctx context.Context, preimageHash lntypes.Hash,
		amount *big.Int, claimAddress common.Address,
		timelock uint64) (common.Hash, error)

	// RefundToken refunds an ERC20 lockup after its timelock passed.
	RefundToken(ctx context.Context, token common.Address,
		preimageHash lntypes.Hash, amount *big.Int,
		claimAddress common.Address, timelock uint64) (
		common.Hash, error)

	// EtherSwapValues reads the parameters of an Ether lockup back from
	// the lockup transaction.
	EtherSwapValues(ctx context.Context, lockupTxHash common.Hash,
		preimageHash lntypes.Hash) (*EtherSwapValues, error)

	// TokenSwapValues reads the parameters of an ERC20 lockup back from
	// the lockup transaction.
	TokenSwapValues(ctx context.Context, lockupTxHash common.Hash,
		preimageHash lntypes.Hash) (*TokenSwapValues, error)
}
