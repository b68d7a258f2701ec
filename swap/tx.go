package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// RefundSequence signals replaceability and keeps the input's
	// locktime enforceable.
	RefundSequence uint32 = wire.MaxTxInSequenceNum - 2

	// DustLimit is the smallest output we will create when spending a
	// lockup.
	DustLimit = btcutil.Amount(546)
)

var (
	// ErrOutputDust is returned when a claim or refund output would end
	// up below the dust limit after fees.
	ErrOutputDust = errors.New("spend output is dust")
)

// GetScriptOutput locates the given pkScript in the outputs of a transaction
// and returns its outpoint and value.
func GetScriptOutput(lockupTx *wire.MsgTx, pkScript []byte) (
	*wire.OutPoint, btcutil.Amount, error) {

	for idx, output := range lockupTx.TxOut {
		if bytes.Equal(output.PkScript, pkScript) {
			return &wire.OutPoint{
				Hash:  lockupTx.TxHash(),
				Index: uint32(idx),
			}, btcutil.Amount(output.Value), nil
		}
	}

	return nil, 0, fmt.Errorf("cannot determine outpoint")
}

// GetTxInputByOutpoint returns a tx input based on a given input outpoint.
func GetTxInputByOutpoint(tx *wire.MsgTx, input *wire.OutPoint) (
	*wire.TxIn, error) {

	for _, in := range tx.TxIn {
		if in.PreviousOutPoint == *input {
			return in, nil
		}
	}

	return nil, errors.New("input not found")
}

// EstimateSpendFee returns the fee for a one input, one output spend of a
// lockup at the given fee rate.
func EstimateSpendFee(htlc *Htlc, destAddr btcutil.Address,
	feeRate chainfee.SatPerVByte, refundPath bool) (btcutil.Amount,
	error) {

	var estimator input.TxWeightEstimator
	if err := addOutputEstimate(&estimator, destAddr); err != nil {
		return 0, err
	}

	var err error
	if refundPath {
		err = htlc.AddRefundToEstimator(&estimator)
	} else {
		err = htlc.AddClaimToEstimator(&estimator)
	}
	if err != nil {
		return 0, err
	}

	return feeRate.FeePerKWeight().FeeForWeightRoundUp(
		estimator.Weight(),
	), nil
}

func addOutputEstimate(estimator *input.TxWeightEstimator,
	addr btcutil.Address) error {

	switch addr.(type) {
	case *btcutil.AddressWitnessScriptHash:
		estimator.AddP2WSHOutput()

	case *btcutil.AddressWitnessPubKeyHash:
		estimator.AddP2WKHOutput()

	case *btcutil.AddressTaproot:
		estimator.AddP2TROutput()

	case *btcutil.AddressScriptHash:
		estimator.AddP2SHOutput()

	case *btcutil.AddressPubKeyHash:
		estimator.AddP2PKHOutput()

	default:
		return fmt.Errorf("unknown address type %T", addr)
	}

	return nil
}

// CreateClaimTransaction spends a lockup outpoint through the preimage path
// to destAddr.
func CreateClaimTransaction(htlc *Htlc, lockupOutpoint wire.OutPoint,
	lockupValue btcutil.Amount, destAddr btcutil.Address,
	feeRate chainfee.SatPerVByte, privKey *btcec.PrivateKey,
	preimage lntypes.Preimage) (*wire.MsgTx, btcutil.Amount, error) {

	fee, err := EstimateSpendFee(htlc, destAddr, feeRate, false)
	if err != nil {
		return nil, 0, err
	}

	tx, err := composeSpendTx(
		htlc, lockupOutpoint, lockupValue, destAddr, fee, 0, 0,
	)
	if err != nil {
		return nil, 0, err
	}

	sig, err := spendSignature(
		tx, htlc, htlc.ClaimScript(), lockupValue, privKey,
	)
	if err != nil {
		return nil, 0, err
	}

	tx.TxIn[0].Witness, err = htlc.GenClaimWitness(sig, preimage)
	if err != nil {
		return nil, 0, err
	}

	return tx, fee, nil
}

// CreateRefundTransaction spends a lockup outpoint through the timeout path
// to destAddr. The transaction's locktime is set to the htlc timeout, so it
// only becomes valid once the refund branch is spendable.
func CreateRefundTransaction(htlc *Htlc, lockupOutpoint wire.OutPoint,
	lockupValue btcutil.Amount, destAddr btcutil.Address,
	feeRate chainfee.SatPerVByte,
	privKey *btcec.PrivateKey) (*wire.MsgTx, btcutil.Amount, error) {

	fee, err := EstimateSpendFee(htlc, destAddr, feeRate, true)
	if err != nil {
		return nil, 0, err
	}

	tx, err := composeSpendTx(
		htlc, lockupOutpoint, lockupValue, destAddr, fee,
		uint32(htlc.TimeoutBlockHeight), RefundSequence,
	)
	if err != nil {
		return nil, 0, err
	}

	sig, err := spendSignature(
		tx, htlc, htlc.RefundScript(), lockupValue, privKey,
	)
	if err != nil {
		return nil, 0, err
	}

	tx.TxIn[0].Witness, err = htlc.GenRefundWitness(sig)
	if err != nil {
		return nil, 0, err
	}

	return tx, fee, nil
}

// composeSpendTx assembles the unsigned one input, one output spend.
func composeSpendTx(htlc *Htlc, lockupOutpoint wire.OutPoint,
	lockupValue btcutil.Amount, destAddr btcutil.Address,
	fee btcutil.Amount, lockTime, sequence uint32) (*wire.MsgTx, error) {

	outputValue := lockupValue - fee
	if outputValue <= DustLimit {
		return nil, fmt.Errorf("%w: %v after %v fee", ErrOutputDust,
			outputValue, fee)
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = lockTime

	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: lockupOutpoint,
		Sequence:         sequence,
	})

	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return nil, err
	}

	tx.AddTxOut(&wire.TxOut{
		PkScript: destScript,
		Value:    int64(outputValue),
	})

	return tx, nil
}

// spendSignature signs input zero of the spend for the given script path.
// Legacy scripts get a DER signature without the sighash byte appended, the
// witness generators add it. Taproot scripts get a bip340 signature over the
// tapleaf.
func spendSignature(tx *wire.MsgTx, htlc *Htlc, script []byte,
	lockupValue btcutil.Amount,
	privKey *btcec.PrivateKey) ([]byte, error) {

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		htlc.PkScript, int64(lockupValue),
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	switch htlc.Version {
	case VersionLegacy:
		sigHash, err := txscript.CalcWitnessSigHash(
			script, sigHashes, htlc.SigHash(), tx, 0,
			int64(lockupValue),
		)
		if err != nil {
			return nil, err
		}

		return ecdsa.Sign(privKey, sigHash).Serialize(), nil

	case VersionTaproot:
		return txscript.RawTxInTapscriptSignature(
			tx, sigHashes, 0, int64(lockupValue),
			htlc.PkScript, txscript.NewBaseTapLeaf(script),
			htlc.SigHash(), privKey,
		)

	default:
		return nil, ErrInvalidVersion
	}
}
