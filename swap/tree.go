package swap

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrInvalidTree is returned when a serialized swap tree cannot be
	// parsed back into its leaves.
	ErrInvalidTree = errors.New("invalid swap tree")
)

// Tree is the taproot script tree of a swap. It holds the two unilateral
// spend leaves and the MuSig2 aggregated internal key used for cooperative
// key path spends.
type Tree struct {
	// ClaimLeaf sweeps the lockup with the preimage.
	ClaimLeaf txscript.TapLeaf

	// RefundLeaf sweeps the lockup after the timeout.
	RefundLeaf txscript.TapLeaf

	// InternalKey is the aggregate of the claim and refund keys, in that
	// order, without sorting.
	InternalKey *btcec.PublicKey

	cltvExpiry int32
}

// NewTree builds the swap tree for the given keys, hash and timeout. Keys
// are expected in ecdsa compressed format.
func NewTree(cltvExpiry int32, claimKey, refundKey [33]byte,
	hash lntypes.Hash) (*Tree, error) {

	claimPubKey, err := btcec.ParsePubKey(claimKey[:])
	if err != nil {
		return nil, err
	}

	refundPubKey, err := btcec.ParsePubKey(refundKey[:])
	if err != nil {
		return nil, err
	}

	claimScript, err := GenClaimLeafScript(
		schnorr.SerializePubKey(claimPubKey), hash,
	)
	if err != nil {
		return nil, err
	}

	refundScript, err := GenRefundLeafScript(
		schnorr.SerializePubKey(refundPubKey), int64(cltvExpiry),
	)
	if err != nil {
		return nil, err
	}

	aggregateKey, _, _, err := musig2.AggregateKeys(
		[]*btcec.PublicKey{claimPubKey, refundPubKey}, false,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate keys: %w", err)
	}

	return &Tree{
		ClaimLeaf:   txscript.NewBaseTapLeaf(claimScript),
		RefundLeaf:  txscript.NewBaseTapLeaf(refundScript),
		InternalKey: aggregateKey.PreTweakedKey,
		cltvExpiry:  cltvExpiry,
	}, nil
}

// GenClaimLeafScript constructs the tapleaf for the preimage spend path.
//
//	OP_SIZE 32 OP_EQUALVERIFY
//	OP_HASH160 <ripemd160(swapHash)> OP_EQUALVERIFY
//	<claimKey> OP_CHECKSIG
func GenClaimLeafScript(claimKey []byte,
	swapHash lntypes.Hash) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(input.Ripemd160H(swapHash[:]))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(claimKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// GenRefundLeafScript constructs the tapleaf for the timeout spend path.
//
//	<refundKey> OP_CHECKSIGVERIFY <cltvExpiry> OP_CHECKLOCKTIMEVERIFY
func GenRefundLeafScript(refundKey []byte, cltvExpiry int64) ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	builder.AddData(refundKey)
	builder.AddOp(txscript.OP_CHECKSIGVERIFY)
	builder.AddInt64(cltvExpiry)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)

	return builder.Script()
}

// RootHash returns the merkle root of the tree.
func (t *Tree) RootHash() chainhash.Hash {
	tree := txscript.AssembleTaprootScriptTree(
		t.ClaimLeaf, t.RefundLeaf,
	)

	return tree.RootNode.TapHash()
}

// TaprootKey returns the tweaked output key of the tree.
func (t *Tree) TaprootKey() (*btcec.PublicKey, error) {
	if t.InternalKey == nil {
		return nil, errors.New("swap tree without internal key")
	}

	rootHash := t.RootHash()

	return txscript.ComputeTaprootOutputKey(
		t.InternalKey, rootHash[:],
	), nil
}

// CltvExpiry returns the block height after which the refund leaf can be
// spent.
func (t *Tree) CltvExpiry() int32 {
	return t.cltvExpiry
}

// siblingHash returns the inclusion proof for the given leaf, which for a
// two leaf tree is the hash of the other leaf.
func (t *Tree) siblingHash(leaf txscript.TapLeaf) chainhash.Hash {
	if leaf.TapHash() == t.ClaimLeaf.TapHash() {
		return t.RefundLeaf.TapHash()
	}

	return t.ClaimLeaf.TapHash()
}

// lockingConditions return the address and pkScript for the lockup output.
func (t *Tree) lockingConditions(
	chainParams *chaincfg.Params) (btcutil.Address, []byte, error) {

	taprootKey, err := t.TaprootKey()
	if err != nil {
		return nil, nil, err
	}

	address, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(taprootKey), chainParams,
	)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return nil, nil, err
	}

	return address, pkScript, nil
}

// Validate checks that the claim leaf commits to the swap hash and that the
// refund leaf carries a spendable timeout.
func (t *Tree) Validate(hash lntypes.Hash) error {
	expectedClaim, err := GenClaimLeafScript(
		claimKeyFromLeaf(t.ClaimLeaf.Script), hash,
	)
	if err != nil {
		return err
	}

	if !bytes.Equal(expectedClaim, t.ClaimLeaf.Script) {
		return fmt.Errorf("%w: claim leaf does not commit to hash",
			ErrInvalidTree)
	}

	if t.cltvExpiry <= 0 {
		return fmt.Errorf("%w: non positive timeout", ErrInvalidTree)
	}

	return nil
}

// claimKeyFromLeaf extracts the x-only claim key push from a claim leaf
// script. The key is the final push before OP_CHECKSIG.
func claimKeyFromLeaf(script []byte) []byte {
	if len(script) < 34 {
		return nil
	}

	return script[len(script)-33 : len(script)-1]
}

// Serialize encodes the tree as the internal key followed by both leaves.
func (t *Tree) Serialize() ([]byte, error) {
	var b bytes.Buffer

	if t.InternalKey == nil {
		return nil, errors.New("swap tree without internal key")
	}

	if _, err := b.Write(t.InternalKey.SerializeCompressed()); err != nil {
		return nil, err
	}

	if err := serializeLeaf(&b, t.ClaimLeaf); err != nil {
		return nil, err
	}

	if err := serializeLeaf(&b, t.RefundLeaf); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DeserializeTree decodes a tree serialized with Serialize. The refund leaf
// is parsed to recover the timeout height.
func DeserializeTree(data []byte) (*Tree, error) {
	r := bytes.NewReader(data)

	var keyBytes [33]byte
	if _, err := io.ReadFull(r, keyBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}

	internalKey, err := btcec.ParsePubKey(keyBytes[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}

	claimLeaf, err := deserializeLeaf(r)
	if err != nil {
		return nil, err
	}

	refundLeaf, err := deserializeLeaf(r)
	if err != nil {
		return nil, err
	}

	cltvExpiry, err := locktimeFromLeaf(refundLeaf.Script)
	if err != nil {
		return nil, err
	}

	return &Tree{
		ClaimLeaf:   claimLeaf,
		RefundLeaf:  refundLeaf,
		InternalKey: internalKey,
		cltvExpiry:  cltvExpiry,
	}, nil
}

func serializeLeaf(w io.Writer, leaf txscript.TapLeaf) error {
	if _, err := w.Write([]byte{byte(leaf.LeafVersion)}); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, leaf.Script)
}

func deserializeLeaf(r io.Reader) (txscript.TapLeaf, error) {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return txscript.TapLeaf{}, fmt.Errorf("%w: %v",
			ErrInvalidTree, err)
	}

	script, err := wire.ReadVarBytes(r, 0, 10000, "script")
	if err != nil {
		return txscript.TapLeaf{}, fmt.Errorf("%w: %v",
			ErrInvalidTree, err)
	}

	return txscript.TapLeaf{
		LeafVersion: txscript.TapscriptLeafVersion(version[0]),
		Script:      script,
	}, nil
}

// locktimeFromLeaf extracts the CLTV push from a refund leaf script.
//
//	<refundKey> OP_CHECKSIGVERIFY <cltvExpiry> OP_CHECKLOCKTIMEVERIFY
func locktimeFromLeaf(script []byte) (int32, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	// Skip over the refund key and its checksig.
	for i := 0; i < 2; i++ {
		if !tokenizer.Next() {
			return 0, fmt.Errorf("%w: short refund leaf",
				ErrInvalidTree)
		}
	}

	if !tokenizer.Next() {
		return 0, fmt.Errorf("%w: missing locktime", ErrInvalidTree)
	}

	// Small locktimes end up as small int opcodes rather than data
	// pushes.
	op := tokenizer.Opcode()
	if op >= txscript.OP_1 && op <= txscript.OP_16 {
		return int32(op-txscript.OP_1) + 1, nil
	}

	locktime, err := txscript.MakeScriptNum(tokenizer.Data(), true, 5)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}

	return locktime.Int32(), nil
}
