package swap

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/vulpemventures/go-elements/network"
)

// ChainParamsFromNetwork returns bitcoin chain parameters based on a network
// name.
func ChainParamsFromNetwork(net string) (*chaincfg.Params, error) {
	switch net {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	default:
		return nil, errors.New("unknown network")
	}
}

// LiquidParamsFromNetwork returns elements network parameters based on a
// network name.
func LiquidParamsFromNetwork(net string) (*network.Network, error) {
	switch net {
	case "mainnet":
		return &network.Liquid, nil

	case "testnet":
		return &network.Testnet, nil

	case "regtest":
		return &network.Regtest, nil

	default:
		return nil, errors.New("unknown network")
	}
}
