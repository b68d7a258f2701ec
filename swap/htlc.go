package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrInvalidVersion is returned when a swap version is unknown.
	ErrInvalidVersion = errors.New("invalid swap version")

	// ErrPreimageMismatch is returned when a preimage does not hash to
	// the swap's payment hash.
	ErrPreimageMismatch = errors.New("preimage doesn't match hash")
)

// HtlcScript defines an interface for the different lockup script
// implementations.
type HtlcScript interface {
	// genClaimWitness returns the witness to spend the lockup with the
	// preimage.
	genClaimWitness(claimSig []byte,
		preimage lntypes.Preimage) (wire.TxWitness, error)

	// GenRefundWitness returns the witness to spend the lockup through
	// the timeout path.
	GenRefundWitness(refundSig []byte) (wire.TxWitness, error)

	// IsClaimWitness checks whether the given stack spends the lockup
	// through the preimage path.
	IsClaimWitness(witness wire.TxWitness) bool

	// lockingConditions return the address and pkScript for the lockup
	// output.
	lockingConditions(*chaincfg.Params) (btcutil.Address, []byte, error)

	// MaxClaimWitnessSize returns the maximum witness size for the claim
	// case.
	MaxClaimWitnessSize() lntypes.WeightUnit

	// MaxRefundWitnessSize returns the maximum witness size for the
	// refund case.
	MaxRefundWitnessSize() lntypes.WeightUnit

	// ClaimScript returns the script required to unlock the htlc with
	// the preimage.
	ClaimScript() []byte

	// RefundScript returns the script required to unlock the htlc after
	// timeout.
	RefundScript() []byte

	// SigHash is the signature hash to use for transactions spending
	// from the htlc.
	SigHash() txscript.SigHashType
}

// Htlc contains the lockup output of a swap from the server perspective.
type Htlc struct {
	HtlcScript

	Kind               Kind
	Version            Version
	PkScript           []byte
	Hash               lntypes.Hash
	TimeoutBlockHeight int32
	ChainParams        *chaincfg.Params
	Address            btcutil.Address
}

// NewHtlc returns the lockup script for a swap. Keys are expected in ecdsa
// compressed format. For taproot swaps the internal key is the MuSig2
// aggregate of the claim and refund keys, in that order.
func NewHtlc(version Version, kind Kind, cltvExpiry int32,
	claimKey, refundKey [33]byte, hash lntypes.Hash,
	chainParams *chaincfg.Params) (*Htlc, error) {

	var (
		err  error
		htlc HtlcScript
	)

	switch version {
	case VersionLegacy:
		if kind == KindReverse {
			htlc, err = newReverseScript(
				cltvExpiry, claimKey, refundKey, hash,
			)
		} else {
			htlc, err = newSubmarineScript(
				cltvExpiry, claimKey, refundKey, hash,
			)
		}

	case VersionTaproot:
		var tree *Tree
		tree, err = NewTree(cltvExpiry, claimKey, refundKey, hash)
		if err != nil {
			return nil, err
		}

		htlc, err = newTaprootScript(tree)

	default:
		return nil, ErrInvalidVersion
	}

	if err != nil {
		return nil, err
	}

	address, pkScript, err := htlc.lockingConditions(chainParams)
	if err != nil {
		return nil, fmt.Errorf("could not get address: %w", err)
	}

	return &Htlc{
		HtlcScript:         htlc,
		Kind:               kind,
		Version:            version,
		PkScript:           pkScript,
		Hash:               hash,
		TimeoutBlockHeight: cltvExpiry,
		ChainParams:        chainParams,
		Address:            address,
	}, nil
}

// NewHtlcFromTree rebuilds a taproot lockup script from a previously
// persisted swap tree.
func NewHtlcFromTree(kind Kind, tree *Tree, hash lntypes.Hash,
	chainParams *chaincfg.Params) (*Htlc, error) {

	htlc, err := newTaprootScript(tree)
	if err != nil {
		return nil, err
	}

	address, pkScript, err := htlc.lockingConditions(chainParams)
	if err != nil {
		return nil, fmt.Errorf("could not get address: %w", err)
	}

	return &Htlc{
		HtlcScript:         htlc,
		Kind:               kind,
		Version:            VersionTaproot,
		PkScript:           pkScript,
		Hash:               hash,
		TimeoutBlockHeight: tree.CltvExpiry(),
		ChainParams:        chainParams,
		Address:            address,
	}, nil
}

// NewHtlcFromScript rebuilds a legacy lockup script from a previously
// persisted redeem script.
func NewHtlcFromScript(kind Kind, cltvExpiry int32, redeemScript []byte,
	hash lntypes.Hash, chainParams *chaincfg.Params) (*Htlc, error) {

	var htlc HtlcScript
	if kind == KindReverse {
		htlc = &ReverseScript{script: redeemScript}
	} else {
		htlc = &SubmarineScript{script: redeemScript}
	}

	address, pkScript, err := htlc.lockingConditions(chainParams)
	if err != nil {
		return nil, fmt.Errorf("could not get address: %w", err)
	}

	return &Htlc{
		HtlcScript:         htlc,
		Kind:               kind,
		Version:            VersionLegacy,
		PkScript:           pkScript,
		Hash:               hash,
		TimeoutBlockHeight: cltvExpiry,
		ChainParams:        chainParams,
		Address:            address,
	}, nil
}

// segwitV0LockingConditions provides the address and pkScript for a p2wsh
// lockup output.
func segwitV0LockingConditions(chainParams *chaincfg.Params,
	script []byte) (btcutil.Address, []byte, error) {

	pkScript, err := input.WitnessScriptHash(script)
	if err != nil {
		return nil, nil, err
	}

	address, err := btcutil.NewAddressWitnessScriptHash(
		pkScript[2:], chainParams,
	)
	if err != nil {
		return nil, nil, err
	}

	return address, pkScript, nil
}

// GenClaimWitness returns the witness to spend this htlc with the preimage.
func (h *Htlc) GenClaimWitness(claimSig []byte,
	preimage lntypes.Preimage) (wire.TxWitness, error) {

	if h.Hash != preimage.Hash() {
		return nil, ErrPreimageMismatch
	}

	return h.genClaimWitness(claimSig, preimage)
}

// AddClaimToEstimator adds a preimage spend to a weight estimator.
func (h *Htlc) AddClaimToEstimator(estimator *input.TxWeightEstimator) error {
	return h.addToEstimator(estimator, h.ClaimScript(),
		h.MaxClaimWitnessSize())
}

// AddRefundToEstimator adds a timeout spend to a weight estimator.
func (h *Htlc) AddRefundToEstimator(estimator *input.TxWeightEstimator) error {
	return h.addToEstimator(estimator, h.RefundScript(),
		h.MaxRefundWitnessSize())
}

func (h *Htlc) addToEstimator(estimator *input.TxWeightEstimator,
	leafScript []byte, maxWitnessSize lntypes.WeightUnit) error {

	switch h.Version {
	case VersionLegacy:
		estimator.AddWitnessInput(maxWitnessSize)

		return nil

	case VersionTaproot:
		taprootScript, ok := h.HtlcScript.(*TaprootScript)
		if !ok {
			return errors.New("taproot version with non " +
				"taproot script")
		}

		leaf := txscript.NewBaseTapLeaf(leafScript)
		tapScript := input.TapscriptPartialReveal(
			taprootScript.tree.InternalKey, leaf, leaf.TapHash(),
		)
		estimator.AddTapscriptInput(maxWitnessSize, tapScript)

		return nil

	default:
		return ErrInvalidVersion
	}
}

// SubmarineScript encapsulates the legacy script used for submarine and
// chain swap lockups.
type SubmarineScript struct {
	script []byte
}

// newSubmarineScript constructs the legacy submarine witness script.
//
// OP_HASH160 <ripemd160(sha256(swapHash preimage))> OP_EQUAL
// OP_IF
//
//	<claimKey>
//
// OP_ELSE
//
//	<cltv timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	<refundKey>
//
// OP_ENDIF
// OP_CHECKSIG
func newSubmarineScript(cltvExpiry int32, claimKey,
	refundKey [33]byte, swapHash lntypes.Hash) (*SubmarineScript, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(input.Ripemd160H(swapHash[:]))
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)

	builder.AddData(claimKey[:])

	builder.AddOp(txscript.OP_ELSE)

	builder.AddInt64(int64(cltvExpiry))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)

	builder.AddData(refundKey[:])

	builder.AddOp(txscript.OP_ENDIF)

	builder.AddOp(txscript.OP_CHECKSIG)

	script, err := builder.Script()
	if err != nil {
		return nil, err
	}

	return &SubmarineScript{
		script: script,
	}, nil
}

// genClaimWitness returns the witness to spend this htlc with the preimage.
func (h *SubmarineScript) genClaimWitness(claimSig []byte,
	preimage lntypes.Preimage) (wire.TxWitness, error) {

	witnessStack := make(wire.TxWitness, 3)
	witnessStack[0] = append(claimSig, byte(txscript.SigHashAll))
	witnessStack[1] = preimage[:]
	witnessStack[2] = h.script

	return witnessStack, nil
}

// GenRefundWitness returns the witness to spend this htlc after timeout.
func (h *SubmarineScript) GenRefundWitness(
	refundSig []byte) (wire.TxWitness, error) {

	witnessStack := make(wire.TxWitness, 3)
	witnessStack[0] = append(refundSig, byte(txscript.SigHashAll))
	witnessStack[1] = []byte{0}
	witnessStack[2] = h.script

	return witnessStack, nil
}

// IsClaimWitness checks whether the given stack spends the htlc through the
// preimage path.
func (h *SubmarineScript) IsClaimWitness(witness wire.TxWitness) bool {
	if len(witness) != 3 {
		return false
	}

	return len(witness[1]) == lntypes.HashSize
}

// ClaimScript returns the script required to unlock the htlc with the
// preimage.
//
// In the case of SubmarineScript, this is the full segwit v0 script.
func (h *SubmarineScript) ClaimScript() []byte {
	return h.script
}

// RefundScript returns the script required to unlock the htlc after timeout.
//
// In the case of SubmarineScript, this is the full segwit v0 script.
func (h *SubmarineScript) RefundScript() []byte {
	return h.script
}

// MaxClaimWitnessSize returns the maximum claim witness size.
func (h *SubmarineScript) MaxClaimWitnessSize() lntypes.WeightUnit {
	// - number_of_witness_elements: 1 byte
	// - sig_length: 1 byte
	// - sig: 73 bytes
	// - preimage_length: 1 byte
	// - preimage: 32 bytes
	// - witness_script_length: 1 byte
	// - witness_script: len(script) bytes
	return lntypes.WeightUnit(1 + 1 + 73 + 1 + 32 + 1 + len(h.script))
}

// MaxRefundWitnessSize returns the maximum refund witness size.
func (h *SubmarineScript) MaxRefundWitnessSize() lntypes.WeightUnit {
	// - number_of_witness_elements: 1 byte
	// - sig_length: 1 byte
	// - sig: 73 bytes
	// - zero_length: 1 byte
	// - zero: 1 byte
	// - witness_script_length: 1 byte
	// - witness_script: len(script) bytes
	return lntypes.WeightUnit(1 + 1 + 73 + 1 + 1 + 1 + len(h.script))
}

// SigHash is the signature hash to use for transactions spending from the
// htlc.
func (h *SubmarineScript) SigHash() txscript.SigHashType {
	return txscript.SigHashAll
}

// lockingConditions return the address and pkScript for the lockup output.
func (h *SubmarineScript) lockingConditions(
	params *chaincfg.Params) (btcutil.Address, []byte, error) {

	return segwitV0LockingConditions(params, h.script)
}

// ReverseScript encapsulates the legacy script used for reverse swap
// lockups. The size guard prevents settling the Lightning htlc with a
// preimage the onchain script would not accept.
type ReverseScript struct {
	script []byte
}

// newReverseScript constructs the legacy reverse swap witness script.
//
// OP_SIZE 32 OP_EQUAL
// OP_IF
//
//	OP_HASH160 <ripemd160(swapHash)> OP_EQUALVERIFY
//	<claimKey>
//
// OP_ELSE
//
//	OP_DROP
//	<cltv timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	<refundKey>
//
// OP_ENDIF
// OP_CHECKSIG
func newReverseScript(cltvExpiry int32, claimKey,
	refundKey [33]byte, swapHash lntypes.Hash) (*ReverseScript, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)

	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(input.Ripemd160H(swapHash[:]))
	builder.AddOp(txscript.OP_EQUALVERIFY)

	builder.AddData(claimKey[:])

	builder.AddOp(txscript.OP_ELSE)

	builder.AddOp(txscript.OP_DROP)

	builder.AddInt64(int64(cltvExpiry))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)

	builder.AddData(refundKey[:])

	builder.AddOp(txscript.OP_ENDIF)

	builder.AddOp(txscript.OP_CHECKSIG)

	script, err := builder.Script()
	if err != nil {
		return nil, err
	}

	return &ReverseScript{
		script: script,
	}, nil
}

// genClaimWitness returns the witness to spend this htlc with the preimage.
func (h *ReverseScript) genClaimWitness(claimSig []byte,
	preimage lntypes.Preimage) (wire.TxWitness, error) {

	witnessStack := make(wire.TxWitness, 3)
	witnessStack[0] = append(claimSig, byte(txscript.SigHashAll))
	witnessStack[1] = preimage[:]
	witnessStack[2] = h.script

	return witnessStack, nil
}

// GenRefundWitness returns the witness to spend this htlc after timeout.
func (h *ReverseScript) GenRefundWitness(
	refundSig []byte) (wire.TxWitness, error) {

	witnessStack := make(wire.TxWitness, 3)
	witnessStack[0] = append(refundSig, byte(txscript.SigHashAll))
	witnessStack[1] = []byte{0}
	witnessStack[2] = h.script

	return witnessStack, nil
}

// IsClaimWitness checks whether the given stack spends the htlc through the
// preimage path.
func (h *ReverseScript) IsClaimWitness(witness wire.TxWitness) bool {
	if len(witness) != 3 {
		return false
	}

	isRefundTx := bytes.Equal([]byte{0}, witness[1])

	return !isRefundTx
}

// ClaimScript returns the script required to unlock the htlc with the
// preimage.
//
// In the case of ReverseScript, this is the full segwit v0 script.
func (h *ReverseScript) ClaimScript() []byte {
	return h.script
}

// RefundScript returns the script required to unlock the htlc after timeout.
//
// In the case of ReverseScript, this is the full segwit v0 script.
func (h *ReverseScript) RefundScript() []byte {
	return h.script
}

// MaxClaimWitnessSize returns the maximum claim witness size.
func (h *ReverseScript) MaxClaimWitnessSize() lntypes.WeightUnit {
	// - number_of_witness_elements: 1 byte
	// - sig_length: 1 byte
	// - sig: 73 bytes
	// - preimage_length: 1 byte
	// - preimage: 32 bytes
	// - witness_script_length: 1 byte
	// - witness_script: len(script) bytes
	return lntypes.WeightUnit(1 + 1 + 73 + 1 + 32 + 1 + len(h.script))
}

// MaxRefundWitnessSize returns the maximum refund witness size.
func (h *ReverseScript) MaxRefundWitnessSize() lntypes.WeightUnit {
	// - number_of_witness_elements: 1 byte
	// - sig_length: 1 byte
	// - sig: 73 bytes
	// - zero_length: 1 byte
	// - zero: 1 byte
	// - witness_script_length: 1 byte
	// - witness_script: len(script) bytes
	return lntypes.WeightUnit(1 + 1 + 73 + 1 + 1 + 1 + len(h.script))
}

// SigHash is the signature hash to use for transactions spending from the
// htlc.
func (h *ReverseScript) SigHash() txscript.SigHashType {
	return txscript.SigHashAll
}

// lockingConditions return the address and pkScript for the lockup output.
func (h *ReverseScript) lockingConditions(
	params *chaincfg.Params) (btcutil.Address, []byte, error) {

	return segwitV0LockingConditions(params, h.script)
}

// TaprootScript encapsulates a taproot swap tree lockup.
type TaprootScript struct {
	tree *Tree
}

// newTaprootScript constructs a lockup script from a swap tree.
func newTaprootScript(tree *Tree) (*TaprootScript, error) {
	if tree.InternalKey == nil {
		return nil, errors.New("swap tree without internal key")
	}

	return &TaprootScript{
		tree: tree,
	}, nil
}

// Tree returns the underlying swap tree.
func (h *TaprootScript) Tree() *Tree {
	return h.tree
}

// genControlBlock constructs the control block proving inclusion of the
// given leaf script.
func (h *TaprootScript) genControlBlock(leafScript []byte) ([]byte, error) {
	taprootKey, err := h.tree.TaprootKey()
	if err != nil {
		return nil, err
	}

	var outputKeyYIsOdd bool
	if taprootKey.SerializeCompressed()[0] ==
		secp.PubKeyFormatCompressedOdd {

		outputKeyYIsOdd = true
	}

	leaf := txscript.NewBaseTapLeaf(leafScript)
	proof := h.tree.siblingHash(leaf)

	controlBlock := txscript.ControlBlock{
		InternalKey:     h.tree.InternalKey,
		OutputKeyYIsOdd: outputKeyYIsOdd,
		LeafVersion:     txscript.BaseLeafVersion,
		InclusionProof:  proof[:],
	}

	return controlBlock.ToBytes()
}

// genClaimWitness returns the witness to spend this htlc with the preimage.
func (h *TaprootScript) genClaimWitness(claimSig []byte,
	preimage lntypes.Preimage) (wire.TxWitness, error) {

	controlBlockBytes, err := h.genControlBlock(
		h.tree.ClaimLeaf.Script,
	)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		claimSig,
		preimage[:],
		h.tree.ClaimLeaf.Script,
		controlBlockBytes,
	}, nil
}

// GenRefundWitness returns the witness to spend this htlc after timeout.
func (h *TaprootScript) GenRefundWitness(
	refundSig []byte) (wire.TxWitness, error) {

	controlBlockBytes, err := h.genControlBlock(
		h.tree.RefundLeaf.Script,
	)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		refundSig,
		h.tree.RefundLeaf.Script,
		controlBlockBytes,
	}, nil
}

// IsClaimWitness checks whether the given stack spends the htlc through the
// preimage path. Key path spends reveal no preimage, so only the four
// element script path spend counts.
func (h *TaprootScript) IsClaimWitness(witness wire.TxWitness) bool {
	return len(witness) == 4
}

// ClaimScript returns the script required to unlock the htlc with the
// preimage.
//
// In the case of TaprootScript, this is the claim tapleaf.
func (h *TaprootScript) ClaimScript() []byte {
	return h.tree.ClaimLeaf.Script
}

// RefundScript returns the script required to unlock the htlc after timeout.
//
// In the case of TaprootScript, this is the refund tapleaf.
func (h *TaprootScript) RefundScript() []byte {
	return h.tree.RefundLeaf.Script
}

// MaxClaimWitnessSize returns the maximum claim witness size.
func (h *TaprootScript) MaxClaimWitnessSize() lntypes.WeightUnit {
	// - number_of_witness_elements: 1 byte
	// - sig_length: 1 byte
	// - sig: 64 bytes
	// - preimage_length: 1 byte
	// - preimage: 32 bytes
	// - witness_script_length: 1 byte
	// - witness_script: len(script) bytes
	// - control_block_length: 1 byte
	// - control_block: 65 bytes
	return lntypes.WeightUnit(1 + 1 + 64 + 1 + 32 + 1 +
		len(h.tree.ClaimLeaf.Script) + 1 + 65)
}

// MaxRefundWitnessSize returns the maximum refund witness size.
func (h *TaprootScript) MaxRefundWitnessSize() lntypes.WeightUnit {
	// - number_of_witness_elements: 1 byte
	// - sig_length: 1 byte
	// - sig: 64 bytes
	// - witness_script_length: 1 byte
	// - witness_script: len(script) bytes
	// - control_block_length: 1 byte
	// - control_block: 65 bytes
	return lntypes.WeightUnit(
		1 + 1 + 64 + 1 + len(h.tree.RefundLeaf.Script) + 1 + 65,
	)
}

// SigHash is the signature hash to use for transactions spending from the
// htlc.
func (h *TaprootScript) SigHash() txscript.SigHashType {
	return txscript.SigHashDefault
}

// lockingConditions return the address and pkScript for the lockup output.
func (h *TaprootScript) lockingConditions(
	chainParams *chaincfg.Params) (btcutil.Address, []byte, error) {

	return h.tree.lockingConditions(chainParams)
}
