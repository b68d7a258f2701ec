package test

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
)

// CreateKey returns a deterministically generated key pair.
func CreateKey(index int32) (*btcec.PrivateKey, *btcec.PublicKey) {
	// Avoid all zeros, because it results in an invalid key.
	privKey, pubKey := btcec.PrivKeyFromBytes([]byte{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, byte(index + 1),
	})

	return privKey, pubKey
}

// CompressedKey returns the compressed public key of the deterministic pair
// at the given index.
func CompressedKey(index int32) [33]byte {
	_, pubKey := CreateKey(index)

	var key [33]byte
	copy(key[:], pubKey.SerializeCompressed())

	return key
}

// CreatePreimage returns a deterministically generated preimage.
func CreatePreimage(index int32) lntypes.Preimage {
	return lntypes.Preimage{0: byte(index + 1), 1: 7}
}
