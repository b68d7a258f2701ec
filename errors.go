package swapd

import (
	"errors"
)

var (
	// ErrNoChannelOpener is returned when a swap carries a channel
	// creation request but no opener is configured.
	ErrNoChannelOpener = errors.New("no channel opener configured")

	// ErrUnknownCurrency is returned when a swap references a symbol that
	// was not configured.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrNotUtxoChain is returned when a UTXO operation is requested on a
	// currency that is not UTXO based.
	ErrNotUtxoChain = errors.New("currency is not utxo based")

	// ErrNoEvmManager is returned when an EVM operation is requested on a
	// currency without a contract manager.
	ErrNoEvmManager = errors.New("currency has no evm manager")
)
