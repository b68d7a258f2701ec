package evm

import (
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

// etherDecimals scales the 8 decimal satoshi representation used everywhere
// else in the daemon up to 18 decimal wei.
var etherDecimals = new(big.Int).Exp(
	big.NewInt(10), big.NewInt(10), nil,
)

// WeiFromSats converts a satoshi denominated amount into wei.
func WeiFromSats(sats btcutil.Amount) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(sats)), etherDecimals)
}

// SatsFromWei converts a wei amount into satoshis, rounding down.
func SatsFromWei(wei *big.Int) btcutil.Amount {
	return btcutil.Amount(new(big.Int).Div(wei, etherDecimals).Int64())
}
