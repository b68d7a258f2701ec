package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/lntypes"
)

// errNoTokenContract is returned for token operations on a chain that has no
// ERC20Swap contract configured.
var errNoTokenContract = errors.New("no ERC20Swap contract configured")

// TransactionBackend is the part of an Ethereum JSON-RPC client the contract
// bindings submit through and read receipts from. *ethclient.Client
// satisfies it.
type TransactionBackend interface {
	bind.ContractBackend

	// TransactionReceipt returns the receipt of a mined transaction.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (
		*types.Receipt, error)
}

// Contracts signs and submits calls to the EtherSwap and ERC20Swap contracts
// of a single EVM chain. It implements ContractHandler.
type Contracts struct {
	backend TransactionBackend
	opts    *bind.TransactOpts

	etherSwapAddr common.Address
	erc20SwapAddr common.Address
	etherSwap     *bind.BoundContract
	erc20Swap     *bind.BoundContract
}

var _ ContractHandler = (*Contracts)(nil)

// NewContracts binds the swap contracts at the given addresses, signing
// transactions with key on the chain identified by chainID. The zero address
// for the ERC20Swap contract disables token operations.
func NewContracts(backend TransactionBackend, key *ecdsa.PrivateKey,
	chainID *big.Int, etherSwapAddr, erc20SwapAddr common.Address) (
	*Contracts, error) {

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}

	return &Contracts{
		backend:       backend,
		opts:          opts,
		etherSwapAddr: etherSwapAddr,
		erc20SwapAddr: erc20SwapAddr,
		etherSwap: bind.NewBoundContract(
			etherSwapAddr, etherSwapABI, backend, backend,
			backend,
		),
		erc20Swap: bind.NewBoundContract(
			erc20SwapAddr, erc20SwapABI, backend, backend,
			backend,
		),
	}, nil
}

// Address returns the address transactions are signed with.
func (c *Contracts) Address() common.Address {
	return c.opts.From
}

// callOpts copies the keyed transactor, attaching the call context and the
// Ether value to send along.
func (c *Contracts) callOpts(ctx context.Context,
	value *big.Int) *bind.TransactOpts {

	opts := *c.opts
	opts.Context = ctx
	opts.Value = value

	return &opts
}

// tokensEnabled fails token operations when no ERC20Swap contract is
// configured.
func (c *Contracts) tokensEnabled() error {
	if c.erc20SwapAddr == (common.Address{}) {
		return errNoTokenContract
	}

	return nil
}

// LockupEther locks up Ether for the given preimage hash.
func (c *Contracts) LockupEther(ctx context.Context,
	preimageHash lntypes.Hash, amount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	tx, err := c.etherSwap.Transact(
		c.callOpts(ctx, amount), "lock",
		[32]byte(preimageHash), claimAddress,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("lock ether: %w", err)
	}

	return tx.Hash(), nil
}

// LockupEtherPrepayMinerfee locks up Ether and transfers a miner fee prepay
// to the claim address in the same transaction. The contract forwards the
// prepay and locks the remainder, so both amounts ride along as the call
// value.
func (c *Contracts) LockupEtherPrepayMinerfee(ctx context.Context,
	preimageHash lntypes.Hash, amount, prepayAmount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	value := new(big.Int).Add(amount, prepayAmount)

	tx, err := c.etherSwap.Transact(
		c.callOpts(ctx, value), "lockPrepayMinerfee",
		[32]byte(preimageHash), claimAddress,
		new(big.Int).SetUint64(timelock), prepayAmount,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("lock ether with prepay: %w",
			err)
	}

	return tx.Hash(), nil
}

// LockupToken locks up ERC20 tokens for the given preimage hash. The token
// allowance for the ERC20Swap contract must already be in place.
func (c *Contracts) LockupToken(ctx context.Context, token common.Address,
	preimageHash lntypes.Hash, amount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	if err := c.tokensEnabled(); err != nil {
		return common.Hash{}, err
	}

	tx, err := c.erc20Swap.Transact(
		c.callOpts(ctx, nil), "lock",
		[32]byte(preimageHash), amount, token, claimAddress,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("lock token: %w", err)
	}

	return tx.Hash(), nil
}

// LockupTokenPrepayMinerfee locks up ERC20 tokens and transfers an Ether
// miner fee prepay to the claim address. The tokens move through the token
// contract, only the prepay is sent as the call value.
func (c *Contracts) LockupTokenPrepayMinerfee(ctx context.Context,
	token common.Address, preimageHash lntypes.Hash,
	amount, prepayAmount *big.Int, claimAddress common.Address,
	timelock uint64) (common.Hash, error) {

	if err := c.tokensEnabled(); err != nil {
		return common.Hash{}, err
	}

	tx, err := c.erc20Swap.Transact(
		c.callOpts(ctx, prepayAmount), "lockPrepayMinerfee",
		[32]byte(preimageHash), amount, token, claimAddress,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("lock token with prepay: %w",
			err)
	}

	return tx.Hash(), nil
}

// ClaimEther claims an Ether lockup with the preimage.
func (c *Contracts) ClaimEther(ctx context.Context,
	preimage lntypes.Preimage, amount *big.Int,
	refundAddress common.Address, timelock uint64) (common.Hash, error) {

	tx, err := c.etherSwap.Transact(
		c.callOpts(ctx, nil), "claim",
		[32]byte(preimage), amount, refundAddress,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("claim ether: %w", err)
	}

	return tx.Hash(), nil
}

// ClaimToken claims an ERC20 lockup with the preimage.
func (c *Contracts) ClaimToken(ctx context.Context, token common.Address,
	preimage lntypes.Preimage, amount *big.Int,
	refundAddress common.Address, timelock uint64) (common.Hash, error) {

	if err := c.tokensEnabled(); err != nil {
		return common.Hash{}, err
	}

	tx, err := c.erc20Swap.Transact(
		c.callOpts(ctx, nil), "claim",
		[32]byte(preimage), amount, token, refundAddress,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("claim token: %w", err)
	}

	return tx.Hash(), nil
}

// RefundEther refunds an Ether lockup after its timelock passed.
func (c *Contracts) RefundEther(ctx context.Context,
	preimageHash lntypes.Hash, amount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	tx, err := c.etherSwap.Transact(
		c.callOpts(ctx, nil), "refund",
		[32]byte(preimageHash), amount, claimAddress,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("refund ether: %w", err)
	}

	return tx.Hash(), nil
}

// RefundToken refunds an ERC20 lockup after its timelock passed.
func (c *Contracts) RefundToken(ctx context.Context, token common.Address,
	preimageHash lntypes.Hash, amount *big.Int,
	claimAddress common.Address, timelock uint64) (common.Hash, error) {

	if err := c.tokensEnabled(); err != nil {
		return common.Hash{}, err
	}

	tx, err := c.erc20Swap.Transact(
		c.callOpts(ctx, nil), "refund",
		[32]byte(preimageHash), amount, token, claimAddress,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("refund token: %w", err)
	}

	return tx.Hash(), nil
}

// EtherSwapValues reads the parameters of an Ether lockup back from the
// Lockup log in the lockup transaction's receipt.
func (c *Contracts) EtherSwapValues(ctx context.Context,
	lockupTxHash common.Hash, preimageHash lntypes.Hash) (
	*EtherSwapValues, error) {

	receipt, err := c.lockupReceipt(ctx, lockupTxHash)
	if err != nil {
		return nil, err
	}

	return etherSwapValuesFromReceipt(
		receipt, c.etherSwapAddr, preimageHash,
	)
}

// TokenSwapValues reads the parameters of an ERC20 lockup back from the
// Lockup log in the lockup transaction's receipt.
func (c *Contracts) TokenSwapValues(ctx context.Context,
	lockupTxHash common.Hash, preimageHash lntypes.Hash) (
	*TokenSwapValues, error) {

	if err := c.tokensEnabled(); err != nil {
		return nil, err
	}

	receipt, err := c.lockupReceipt(ctx, lockupTxHash)
	if err != nil {
		return nil, err
	}

	return tokenSwapValuesFromReceipt(
		receipt, c.erc20SwapAddr, preimageHash,
	)
}

// lockupReceipt fetches the receipt of a lockup transaction and checks that
// the transaction did not revert.
func (c *Contracts) lockupReceipt(ctx context.Context,
	lockupTxHash common.Hash) (*types.Receipt, error) {

	receipt, err := c.backend.TransactionReceipt(ctx, lockupTxHash)
	if err != nil {
		return nil, fmt.Errorf("lockup receipt: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("lockup transaction %v reverted",
			lockupTxHash)
	}

	return receipt, nil
}

// lockupLog finds the Lockup log with the given preimage hash emitted by the
// contract.
func lockupLog(receipt *types.Receipt, contract common.Address,
	lockupTopic common.Hash, preimageHash lntypes.Hash) (*types.Log,
	error) {

	for _, lg := range receipt.Logs {
		if lg.Address != contract {
			continue
		}

		if len(lg.Topics) < 2 || lg.Topics[0] != lockupTopic {
			continue
		}

		if lg.Topics[1] != common.Hash(preimageHash) {
			continue
		}

		return lg, nil
	}

	return nil, fmt.Errorf("transaction %v contains no lockup for %v",
		receipt.TxHash, preimageHash)
}

// etherSwapValuesFromReceipt decodes the EtherSwap Lockup log matching the
// preimage hash.
func etherSwapValuesFromReceipt(receipt *types.Receipt,
	contract common.Address, preimageHash lntypes.Hash) (
	*EtherSwapValues, error) {

	lg, err := lockupLog(receipt, contract, etherLockupTopic, preimageHash)
	if err != nil {
		return nil, err
	}

	vals, err := etherSwapABI.Unpack("Lockup", lg.Data)
	if err != nil {
		return nil, err
	}

	values := &EtherSwapValues{
		Amount:       vals[0].(*big.Int),
		ClaimAddress: vals[1].(common.Address),
		Timelock:     vals[2].(*big.Int).Uint64(),
	}
	if len(lg.Topics) > 2 {
		values.RefundAddress = common.BytesToAddress(
			lg.Topics[2].Bytes(),
		)
	}

	return values, nil
}

// tokenSwapValuesFromReceipt decodes the ERC20Swap Lockup log matching the
// preimage hash.
func tokenSwapValuesFromReceipt(receipt *types.Receipt,
	contract common.Address, preimageHash lntypes.Hash) (
	*TokenSwapValues, error) {

	lg, err := lockupLog(receipt, contract, erc20LockupTopic, preimageHash)
	if err != nil {
		return nil, err
	}

	vals, err := erc20SwapABI.Unpack("Lockup", lg.Data)
	if err != nil {
		return nil, err
	}

	values := &TokenSwapValues{
		Amount:       vals[0].(*big.Int),
		TokenAddress: vals[1].(common.Address),
		ClaimAddress: vals[2].(common.Address),
		Timelock:     vals[3].(*big.Int).Uint64(),
	}
	if len(lg.Topics) > 2 {
		values.RefundAddress = common.BytesToAddress(
			lg.Topics[2].Bytes(),
		)
	}

	return values, nil
}
