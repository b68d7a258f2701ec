package swapdb

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/swap"
)

var (
	// ErrSwapNotFound is returned when a swap id is not in the store.
	ErrSwapNotFound = errors.New("swap not found")

	// ErrSwapExists is returned when a swap id is already taken.
	ErrSwapExists = errors.New("swap already exists")

	// ErrInvalidTransition is returned when a status write would leave
	// the per kind progression.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Pair is a traded currency pair in base/quote notation.
type Pair struct {
	// Base is the base currency symbol.
	Base string

	// Quote is the quote currency symbol.
	Quote string
}

// ParsePair parses a pair from its base/quote string form.
func ParsePair(s string) (Pair, error) {
	base, quote, found := strings.Cut(s, "/")
	if !found || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("invalid pair %q", s)
	}

	return Pair{Base: base, Quote: quote}, nil
}

// String returns the base/quote form of the pair.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// ChainSymbol returns the symbol of the onchain leg of a submarine or
// reverse swap on this pair.
func (p Pair) ChainSymbol(side swap.OrderSide, kind swap.Kind) string {
	if kind == swap.KindReverse {
		if side == swap.OrderBuy {
			return p.Base
		}

		return p.Quote
	}

	if side == swap.OrderBuy {
		return p.Quote
	}

	return p.Base
}

// LightningSymbol returns the symbol of the Lightning leg of a submarine or
// reverse swap on this pair.
func (p Pair) LightningSymbol(side swap.OrderSide, kind swap.Kind) string {
	chain := p.ChainSymbol(side, kind)
	if chain == p.Base {
		return p.Quote
	}

	return p.Base
}

// Submarine is the persisted row of an onchain to Lightning swap.
type Submarine struct {
	// ID uniquely identifies the swap.
	ID string

	// Pair is the traded pair.
	Pair Pair

	// OrderSide is the side the client took.
	OrderSide swap.OrderSide

	// Version is the lockup script version.
	Version swap.Version

	// PreimageHash commits both the invoice and the lockup script to the
	// same preimage. Immutable after creation.
	PreimageHash lntypes.Hash

	// Invoice is the invoice we pay once the user lockup arrived. May be
	// empty until the user posts it.
	Invoice string

	// Preimage is the preimage the invoice payment revealed, set once the
	// payment succeeded. Claims deferred past a restart are rebuilt from
	// it.
	Preimage *lntypes.Preimage

	// KeyIndex is the wallet key index of our claim key.
	KeyIndex int32

	// RedeemScript is the legacy witness script of the lockup.
	RedeemScript []byte

	// SwapTree is the serialized taproot swap tree of the lockup.
	SwapTree []byte

	// TheirPublicKey is the user's refund key in compressed form.
	TheirPublicKey []byte

	// LockupAddress is the address the user locks up to.
	LockupAddress string

	// TimeoutBlockHeight is the height at which the refund leaf becomes
	// spendable.
	TimeoutBlockHeight int32

	// ExpectedAmount is the onchain amount the user has to lock.
	ExpectedAmount btcutil.Amount

	// OnchainAmount is the amount the user actually locked.
	OnchainAmount btcutil.Amount

	// LockupTransactionID is the user lockup txid once observed.
	LockupTransactionID string

	// LockupTransactionVout is the lockup output index.
	LockupTransactionVout uint32

	// Rate is the pair rate frozen for swaps that lock up before posting
	// an invoice.
	Rate float64

	// MinerFee is the fee our claim paid.
	MinerFee btcutil.Amount

	// AcceptZeroConf is whether the unconfirmed user lockup may start the
	// payment.
	AcceptZeroConf bool

	// Status is the current lifecycle state.
	Status Status

	// CreatedAt is the swap creation time.
	CreatedAt time.Time
}

// ChainSymbol returns the symbol the user locks up on.
func (s *Submarine) ChainSymbol() string {
	return s.Pair.ChainSymbol(s.OrderSide, swap.KindSubmarine)
}

// LightningSymbol returns the symbol of the invoice we pay.
func (s *Submarine) LightningSymbol() string {
	return s.Pair.LightningSymbol(s.OrderSide, swap.KindSubmarine)
}

// Reverse is the persisted row of a Lightning to onchain swap.
type Reverse struct {
	// ID uniquely identifies the swap.
	ID string

	// Pair is the traded pair.
	Pair Pair

	// OrderSide is the side the client took.
	OrderSide swap.OrderSide

	// Version is the lockup script version.
	Version swap.Version

	// PreimageHash is the payment hash of the hold invoice. Immutable
	// after creation.
	PreimageHash lntypes.Hash

	// Invoice is the hold invoice the user pays.
	Invoice string

	// MinerFeeInvoice is the optional prepay invoice covering our lockup
	// fee.
	MinerFeeInvoice string

	// MinerFeeInvoicePreimage settles the prepay invoice once the main
	// invoice settles.
	MinerFeeInvoicePreimage *lntypes.Preimage

	// Preimage is the preimage the user revealed onchain, set at
	// settlement.
	Preimage *lntypes.Preimage

	// KeyIndex is the wallet key index of our refund key.
	KeyIndex int32

	// RedeemScript is the legacy witness script of the lockup.
	RedeemScript []byte

	// SwapTree is the serialized taproot swap tree of the lockup.
	SwapTree []byte

	// TheirPublicKey is the user's claim key in compressed form.
	TheirPublicKey []byte

	// ClaimAddress is the address the user sweeps the lockup to, if
	// announced at creation.
	ClaimAddress string

	// LockupAddress is the address we lock up to.
	LockupAddress string

	// OnchainAmount is the amount we lock up.
	OnchainAmount btcutil.Amount

	// MinerFeeOnchainAmount is the lockup amount covered by the prepay
	// invoice.
	MinerFeeOnchainAmount btcutil.Amount

	// TimeoutBlockHeight is the height at which our refund leaf becomes
	// spendable.
	TimeoutBlockHeight int32

	// TransactionID is our lockup txid once broadcast.
	TransactionID string

	// TransactionVout is our lockup output index.
	TransactionVout uint32

	// MinerFee is the fee our lockup paid.
	MinerFee btcutil.Amount

	// Node is the Lightning node the hold invoices live on.
	Node string

	// Status is the current lifecycle state.
	Status Status

	// CreatedAt is the swap creation time.
	CreatedAt time.Time
}

// ChainSymbol returns the symbol we lock up on.
func (r *Reverse) ChainSymbol() string {
	return r.Pair.ChainSymbol(r.OrderSide, swap.KindReverse)
}

// LightningSymbol returns the symbol of the hold invoice.
func (r *Reverse) LightningSymbol() string {
	return r.Pair.LightningSymbol(r.OrderSide, swap.KindReverse)
}

// ChainData is one leg of a chain swap. Sending refers to the chain we lock
// up on, receiving to the chain the user locks up on.
type ChainData struct {
	// Symbol is the currency of this leg.
	Symbol string

	// LockupAddress is the lockup address on this leg.
	LockupAddress string

	// ClaimAddress is the address the lockup is swept to, where known at
	// creation.
	ClaimAddress string

	// ExpectedAmount is the amount to be locked on this leg.
	ExpectedAmount btcutil.Amount

	// Amount is the amount actually locked.
	Amount btcutil.Amount

	// TimeoutBlockHeight is the height at which the refund leaf of this
	// leg becomes spendable.
	TimeoutBlockHeight int32

	// KeyIndex is the wallet key index of our key on this leg.
	KeyIndex int32

	// RedeemScript is the legacy witness script of the lockup.
	RedeemScript []byte

	// SwapTree is the serialized taproot swap tree of the lockup.
	SwapTree []byte

	// TheirPublicKey is the counterparty key in compressed form.
	TheirPublicKey []byte

	// TransactionID is the lockup txid once known.
	TransactionID string

	// TransactionVout is the lockup output index.
	TransactionVout uint32

	// Fee is the miner fee we paid on this leg, the lockup fee when
	// sending and the claim fee when receiving.
	Fee btcutil.Amount
}

// Chain is the persisted row of an onchain to onchain swap.
type Chain struct {
	// ID uniquely identifies the swap.
	ID string

	// Version is the lockup script version.
	Version swap.Version

	// PreimageHash locks both legs to the same preimage. Immutable after
	// creation.
	PreimageHash lntypes.Hash

	// Preimage is set once the counterparty revealed it onchain.
	Preimage *lntypes.Preimage

	// Sending is the leg we lock up on.
	Sending ChainData

	// Receiving is the leg the user locks up on.
	Receiving ChainData

	// AcceptZeroConf is whether the unconfirmed user lockup may trigger
	// our lockup.
	AcceptZeroConf bool

	// Status is the current lifecycle state.
	Status Status

	// CreatedAt is the swap creation time.
	CreatedAt time.Time
}

// RefundTransaction tracks a broadcast refund until it confirms.
type RefundTransaction struct {
	// SwapID is the swap the refund belongs to.
	SwapID string

	// Kind is the swap kind of SwapID.
	Kind swap.Kind

	// Symbol is the chain the refund was broadcast on.
	Symbol string

	// TxID is the refund transaction id.
	TxID string

	// Vin is the input index spending the lockup. Nil for contract based
	// refunds.
	Vin *uint32

	// Settled is set once the refund confirmed.
	Settled bool
}

// ChannelCreation describes a channel the server opens to the user before
// paying a submarine swap invoice.
type ChannelCreation struct {
	// SwapID is the submarine swap requiring the channel.
	SwapID string

	// Private is whether the channel is unannounced.
	Private bool

	// InboundLiquidity is the percentage of the channel capacity pushed
	// to the remote as inbound liquidity.
	InboundLiquidity uint32
}
