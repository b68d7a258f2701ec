package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/network"
)

// DecodeBitcoinAddress converts a bitcoin address into the script it pays
// to, checking that it belongs to the given network.
func DecodeBitcoinAddress(addr string, params *chaincfg.Params) ([]byte,
	error) {

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}

	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("address is not for %s", params.Name)
	}

	return txscript.PayToAddrScript(decoded)
}

// DecodeLiquidAddress converts a Liquid address into the script it pays to,
// checking that it belongs to the given network. Confidential addresses are
// accepted, watching the script does not need the blinding key.
func DecodeLiquidAddress(addr string, net *network.Network) ([]byte, error) {
	addrNet, err := address.NetworkForAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}

	if addrNet.Name != net.Name {
		return nil, fmt.Errorf("address is not for %s", net.Name)
	}

	return address.ToOutputScript(addr)
}
