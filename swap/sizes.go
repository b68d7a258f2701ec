package swap

import (
	"fmt"
	"math"

	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
)

// TransactionSizes holds the virtual sizes used for fee calculations on a
// given currency and script version.
type TransactionSizes struct {
	// NormalClaim is the vsize of a one input one output claim of a user
	// lockup.
	NormalClaim int

	// ReverseLockup is the vsize of a server lockup transaction funding
	// a reverse swap.
	ReverseLockup int
}

// transactionSizes indexes the expected virtual sizes by currency type and
// script version.
var transactionSizes = map[CurrencyType]map[Version]TransactionSizes{
	CurrencyBitcoinLike: {
		VersionLegacy: {
			NormalClaim:   170,
			ReverseLockup: 153,
		},
		VersionTaproot: {
			NormalClaim:   111,
			ReverseLockup: 154,
		},
	},
	CurrencyLiquid: {
		VersionLegacy: {
			NormalClaim:   1337,
			ReverseLockup: 2503,
		},
		VersionTaproot: {
			NormalClaim:   1309,
			ReverseLockup: 2503,
		},
	},
}

// LookupTransactionSizes returns the size table entry for the given currency
// type and version.
func LookupTransactionSizes(currency CurrencyType,
	version Version) (TransactionSizes, error) {

	versions, ok := transactionSizes[currency]
	if !ok {
		return TransactionSizes{}, fmt.Errorf("no transaction sizes "+
			"for currency type %v", currency)
	}

	sizes, ok := versions[version]
	if !ok {
		return TransactionSizes{}, fmt.Errorf("no transaction sizes "+
			"for version %v", version)
	}

	return sizes, nil
}

// PrepayMinerFeeRate derives the lockup fee rate funded by a prepay
// minerfee invoice: the invoice amount rounded to satoshis, divided by the
// expected lockup vsize, rounded to the nearest integer.
func PrepayMinerFeeRate(amt lnwire.MilliSatoshi,
	sizes TransactionSizes) chainfee.SatPerVByte {

	sats := math.Round(float64(amt) / 1000)

	return chainfee.SatPerVByte(
		math.Round(sats / float64(sizes.ReverseLockup)),
	)
}
