package swapd

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/swapdhq/swapd/chain"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/swap"
)

// Currency bundles the onchain handles of one configured symbol. UTXO based
// currencies carry a chain client, wallet and watcher, EVM based ones a
// contract manager. ERC20 tokens share the manager of their chain.
type Currency struct {
	// Symbol is the ticker symbol of the currency.
	Symbol string

	// Type is the chain family of the currency.
	Type swap.CurrencyType

	// Chain is the chain backend, set for UTXO based currencies.
	Chain chain.Client

	// Wallet is the onchain wallet, set for UTXO based currencies.
	Wallet chain.Wallet

	// Watcher is the lockup watcher, set for UTXO based currencies.
	Watcher *chain.Watcher

	// Params are the address encoding parameters, set for UTXO based
	// currencies.
	Params *chaincfg.Params

	// EVM is the contract manager, set for Ether and token currencies.
	EVM *evm.Manager
}

// CurrencySet is the immutable registry of configured currencies. Lookups
// resolve symbols directly instead of scanning a list, so a missing symbol
// is detected at configuration time rather than at swap time.
type CurrencySet struct {
	currencies map[string]*Currency

	utxo []*Currency
	evms []*evm.Manager
}

// NewCurrencySet validates the given currencies and indexes them by symbol.
func NewCurrencySet(currencies ...*Currency) (*CurrencySet, error) {
	set := &CurrencySet{
		currencies: make(map[string]*Currency, len(currencies)),
	}

	seenManagers := make(map[*evm.Manager]struct{})
	for _, currency := range currencies {
		if _, ok := set.currencies[currency.Symbol]; ok {
			return nil, fmt.Errorf("duplicate currency %v",
				currency.Symbol)
		}

		switch {
		case currency.Type.IsUtxoBased():
			if currency.Chain == nil || currency.Wallet == nil ||
				currency.Watcher == nil {

				return nil, fmt.Errorf("currency %v misses "+
					"chain handles", currency.Symbol)
			}

			set.utxo = append(set.utxo, currency)

		case currency.Type == swap.CurrencyEther,
			currency.Type == swap.CurrencyERC20:

			if currency.EVM == nil {
				return nil, fmt.Errorf("currency %v misses "+
					"an evm manager", currency.Symbol)
			}

			if !currency.EVM.HasSymbol(currency.Symbol) {
				return nil, fmt.Errorf("currency %v is not "+
					"known to its evm manager",
					currency.Symbol)
			}

			if _, ok := seenManagers[currency.EVM]; !ok {
				seenManagers[currency.EVM] = struct{}{}
				set.evms = append(set.evms, currency.EVM)
			}

		default:
			return nil, fmt.Errorf("currency %v has unsupported "+
				"type %v", currency.Symbol, currency.Type)
		}

		set.currencies[currency.Symbol] = currency
	}

	return set, nil
}

// Get returns the currency of the given symbol.
func (s *CurrencySet) Get(symbol string) (*Currency, error) {
	currency, ok := s.currencies[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCurrency, symbol)
	}

	return currency, nil
}

// Utxo returns the UTXO based currency of the given symbol.
func (s *CurrencySet) Utxo(symbol string) (*Currency, error) {
	currency, err := s.Get(symbol)
	if err != nil {
		return nil, err
	}

	if !currency.Type.IsUtxoBased() {
		return nil, fmt.Errorf("%w: %v", ErrNotUtxoChain, symbol)
	}

	return currency, nil
}

// Evm returns the contract manager serving the given symbol.
func (s *CurrencySet) Evm(symbol string) (*evm.Manager, error) {
	currency, err := s.Get(symbol)
	if err != nil {
		return nil, err
	}

	if currency.EVM == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoEvmManager, symbol)
	}

	return currency.EVM, nil
}

// UtxoCurrencies returns all UTXO based currencies.
func (s *CurrencySet) UtxoCurrencies() []*Currency {
	return s.utxo
}

// EvmManagers returns all distinct contract managers.
func (s *CurrencySet) EvmManagers() []*evm.Manager {
	return s.evms
}
