package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/swapdhq/swapd/swap"
)

// TxEvent is a transaction the chain backend relayed because it matched one
// of the installed filters. Unconfirmed transactions arrive first from the
// mempool and again with Confirmed set once they are included in a block.
type TxEvent struct {
	// Tx is the full transaction.
	Tx *wire.MsgTx

	// Confirmed is true when the transaction was seen in a block rather
	// than in the mempool.
	Confirmed bool
}

// Client is the backend of a single UTXO based chain. Implementations are
// expected to keep their filter sets internally synchronized, callers may
// add filters from any goroutine.
type Client interface {
	// CurrencyType returns the flavor of UTXO chain this client talks
	// to.
	CurrencyType() swap.CurrencyType

	// EstimateFee returns a fee rate estimate for inclusion within the
	// given number of blocks.
	EstimateFee(ctx context.Context, confTarget int32) (
		chainfee.SatPerVByte, error)

	// RawTransaction fetches a transaction by its id.
	RawTransaction(ctx context.Context, txid string) (*wire.MsgTx, error)

	// SendRawTransaction broadcasts a transaction. When relaxedFeePolicy
	// is set the backend lifts its maximum fee rate check, which is
	// needed for sweeps that pay most of a small lockup to fees.
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx,
		relaxedFeePolicy bool) (string, error)

	// TransactionConfirmations returns the number of confirmations of
	// the given transaction, zero for mempool transactions.
	TransactionConfirmations(ctx context.Context, txid string) (
		uint32, error)

	// AddInputFilter relays transactions spending the given outpoint to
	// the transaction stream.
	AddInputFilter(op wire.OutPoint)

	// AddOutputFilter relays transactions paying to the given script to
	// the transaction stream.
	AddOutputFilter(pkScript []byte)

	// RemoveInputFilter removes a previously installed input filter.
	RemoveInputFilter(op wire.OutPoint)

	// RemoveOutputFilter removes a previously installed output filter.
	RemoveOutputFilter(pkScript []byte)

	// Transactions is the stream of transactions matching the installed
	// filters.
	Transactions() <-chan TxEvent

	// Blocks is the stream of new block heights.
	Blocks() <-chan int32
}

// SendResult describes a transaction the wallet broadcast on our behalf.
type SendResult struct {
	// Tx is the full transaction.
	Tx *wire.MsgTx

	// TxID is the transaction id of Tx.
	TxID string

	// Vout is the output index paying the requested address.
	Vout uint32

	// Fee is the total miner fee paid.
	Fee btcutil.Amount
}

// Wallet sends coins and derives swap keys for a single UTXO based chain.
type Wallet interface {
	// SendToAddress sends the given amount to an address at the given
	// fee rate. The label ends up in the wallet's transaction metadata.
	SendToAddress(ctx context.Context, addr string, amount btcutil.Amount,
		feeRate chainfee.SatPerVByte, label string) (*SendResult, error)

	// NewAddress returns a fresh wallet address.
	NewAddress(ctx context.Context, label string) (string, error)

	// KeyForIndex derives the swap key pair at the given index.
	KeyForIndex(index int32) (*btcec.PrivateKey, error)

	// DecodeAddress converts an address string into the script it pays
	// to, validating it against the wallet's network.
	DecodeAddress(addr string) ([]byte, error)
}
