package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/swap"
)

// Event is implemented by all notifications a Watcher emits.
type Event interface {
	evmEvent()
}

// LockupEvent signals a Lockup log of one of the swap contracts matching a
// watched preimage hash. The consumer verifies amount, claim address,
// timelock and token against the swap's terms.
type LockupEvent struct {
	// SwapID identifies the swap.
	SwapID string

	// Kind is the swap kind the registration was made for.
	Kind swap.Kind

	// Token is true when the log came from the ERC20Swap contract.
	Token bool

	// TxHash is the lockup transaction.
	TxHash common.Hash

	// Amount is the locked up amount in wei, or in the token's smallest
	// denomination.
	Amount *big.Int

	// TokenAddress is the ERC20 contract the lockup pays in, zero for
	// Ether lockups.
	TokenAddress common.Address

	// ClaimAddress may claim the lockup with the preimage.
	ClaimAddress common.Address

	// RefundAddress may refund the lockup after the timelock.
	RefundAddress common.Address

	// Timelock is the block height at which the refund path opens.
	Timelock uint64
}

// LockupConfirmedEvent signals that our own lockup reached the configured
// number of confirmations.
type LockupConfirmedEvent struct {
	SwapID string
	Kind   swap.Kind
	TxHash common.Hash
}

// ClaimEvent signals a Claim log, carrying the revealed preimage.
type ClaimEvent struct {
	SwapID string
	Kind   swap.Kind

	// Preimage is the secret published by the claim.
	Preimage lntypes.Preimage

	// TxHash is the claim transaction.
	TxHash common.Hash
}

// RefundEvent signals a Refund log for a watched preimage hash.
type RefundEvent struct {
	SwapID string
	Kind   swap.Kind
	TxHash common.Hash
}

// ExpiryEvent signals that the chain passed a swap's timeout height. Each
// expiry registration fires at most once.
type ExpiryEvent struct {
	SwapID string
	Kind   swap.Kind

	// Height is the block height that triggered the expiry.
	Height uint64
}

func (LockupEvent) evmEvent() {}

func (LockupConfirmedEvent) evmEvent() {}

func (ClaimEvent) evmEvent() {}

func (RefundEvent) evmEvent() {}

func (ExpiryEvent) evmEvent() {}
