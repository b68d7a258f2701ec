package chain

import (
	"errors"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
)

// ErrNoPreimage is returned when a spend does not reveal the preimage we
// were looking for.
var ErrNoPreimage = errors.New("no preimage found in spending input")

// ExtractPreimage scans a spending input for the 32 byte preimage matching
// the given payment hash. Taproot and segwit v0 spends carry the preimage as
// a witness item, legacy spends as a scriptSig push.
func ExtractPreimage(in *wire.TxIn, hash lntypes.Hash) (lntypes.Preimage,
	error) {

	for _, item := range in.Witness {
		if preimage, ok := matchPreimage(item, hash); ok {
			return preimage, nil
		}
	}

	pushes, err := txscript.PushedData(in.SignatureScript)
	if err == nil {
		for _, push := range pushes {
			if preimage, ok := matchPreimage(push, hash); ok {
				return preimage, nil
			}
		}
	}

	return lntypes.Preimage{}, ErrNoPreimage
}

// FindPreimage extracts the preimage for the given payment hash from any
// input of the transaction.
func FindPreimage(tx *wire.MsgTx, hash lntypes.Hash) (lntypes.Preimage,
	error) {

	for _, in := range tx.TxIn {
		preimage, err := ExtractPreimage(in, hash)
		if err == nil {
			return preimage, nil
		}
	}

	return lntypes.Preimage{}, ErrNoPreimage
}

func matchPreimage(data []byte, hash lntypes.Hash) (lntypes.Preimage, bool) {
	if len(data) != lntypes.PreimageSize {
		return lntypes.Preimage{}, false
	}

	preimage, err := lntypes.MakePreimage(data)
	if err != nil || !preimage.Matches(hash) {
		return lntypes.Preimage{}, false
	}

	return preimage, true
}
