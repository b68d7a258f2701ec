package chain

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

func TestExtractPreimageWitness(t *testing.T) {
	preimage := lntypes.Preimage{7, 7, 7}
	hash := preimage.Hash()

	in := &wire.TxIn{
		Witness: wire.TxWitness{
			[]byte{0x30, 0x45}, // signature stub
			preimage[:],
			[]byte{0xa9, 0x14}, // script stub
		},
	}

	extracted, err := ExtractPreimage(in, hash)
	require.NoError(t, err)
	require.Equal(t, preimage, extracted)
}

func TestExtractPreimageScriptSig(t *testing.T) {
	preimage := lntypes.Preimage{9}
	hash := preimage.Hash()

	scriptSig, err := txscript.NewScriptBuilder().
		AddData(make([]byte, 71)).
		AddData(preimage[:]).
		Script()
	require.NoError(t, err)

	in := &wire.TxIn{SignatureScript: scriptSig}

	extracted, err := ExtractPreimage(in, hash)
	require.NoError(t, err)
	require.Equal(t, preimage, extracted)
}

func TestExtractPreimageMismatch(t *testing.T) {
	preimage := lntypes.Preimage{1}
	other := lntypes.Preimage{2}

	// A 32 byte witness item that does not hash to the payment hash is
	// not a preimage, even if it looks like one.
	in := &wire.TxIn{
		Witness: wire.TxWitness{other[:]},
	}

	_, err := ExtractPreimage(in, preimage.Hash())
	require.ErrorIs(t, err, ErrNoPreimage)
}

func TestFindPreimage(t *testing.T) {
	preimage := lntypes.Preimage{42}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		Witness: wire.TxWitness{[]byte{1, 2, 3}},
	})
	tx.AddTxIn(&wire.TxIn{
		Witness: wire.TxWitness{preimage[:]},
	})

	extracted, err := FindPreimage(tx, preimage.Hash())
	require.NoError(t, err)
	require.Equal(t, preimage, extracted)

	_, err = FindPreimage(tx, lntypes.Preimage{43}.Hash())
	require.ErrorIs(t, err, ErrNoPreimage)
}
