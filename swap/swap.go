package swap

// Kind indicates the shape of a swap.
type Kind uint8

const (
	// KindSubmarine is an onchain to Lightning swap.
	KindSubmarine Kind = iota

	// KindReverse is a Lightning to onchain swap.
	KindReverse

	// KindChain is an onchain to onchain swap across two networks.
	KindChain
)

func (k Kind) String() string {
	switch k {
	case KindSubmarine:
		return "Submarine"
	case KindReverse:
		return "ReverseSubmarine"
	case KindChain:
		return "Chain"
	default:
		return "Unknown"
	}
}

// Version is the script version of a swap. Legacy swaps lock up to a segwit
// v0 script hash, Taproot swaps to a tweaked MuSig2 aggregate with script
// paths for the unilateral spends.
type Version uint8

const (
	// VersionLegacy refers to the original P2WSH swap scripts.
	VersionLegacy Version = iota

	// VersionTaproot refers to swaps implemented with tapscript trees and
	// a MuSig2 cooperative key path.
	VersionTaproot
)

func (v Version) String() string {
	switch v {
	case VersionLegacy:
		return "Legacy"
	case VersionTaproot:
		return "Taproot"
	default:
		return "Unknown"
	}
}

// CurrencyType categorizes the chain backing a currency.
type CurrencyType uint8

const (
	// CurrencyBitcoinLike is a bitcoin style UTXO chain.
	CurrencyBitcoinLike CurrencyType = iota

	// CurrencyLiquid is an elements based sidechain.
	CurrencyLiquid

	// CurrencyEther is the native currency of an EVM chain.
	CurrencyEther

	// CurrencyERC20 is a token contract on an EVM chain.
	CurrencyERC20
)

func (c CurrencyType) String() string {
	switch c {
	case CurrencyBitcoinLike:
		return "BitcoinLike"
	case CurrencyLiquid:
		return "Liquid"
	case CurrencyEther:
		return "Ether"
	case CurrencyERC20:
		return "ERC20"
	default:
		return "Unknown"
	}
}

// IsUtxoBased returns true for currencies settled by broadcasting raw
// transactions rather than contract calls.
func (c CurrencyType) IsUtxoBased() bool {
	return c == CurrencyBitcoinLike || c == CurrencyLiquid
}

// OrderSide is the side the client takes in a traded pair.
type OrderSide uint8

const (
	// OrderBuy means the client receives the quote currency.
	OrderBuy OrderSide = iota

	// OrderSell means the client receives the base currency.
	OrderSell
)

func (o OrderSide) String() string {
	switch o {
	case OrderBuy:
		return "buy"
	case OrderSell:
		return "sell"
	default:
		return "unknown"
	}
}
