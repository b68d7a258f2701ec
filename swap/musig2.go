package swap

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNonceNotGenerated is returned when a partial signature is
	// requested before the session produced its public nonce.
	ErrNonceNotGenerated = errors.New("public nonce not generated")
)

// Musig2Session tracks the nonce state for one cooperative key path spend of
// a swap lockup. Sessions are single use; the secret nonce must never sign
// two different messages.
type Musig2Session struct {
	privKey  *btcec.PrivateKey
	signers  []*btcec.PublicKey
	rootHash chainhash.Hash

	nonces *musig2.Nonces
}

// NewMusig2Session creates a signing session over the swap's aggregated
// internal key. The signers slice must use the same ordering as the key
// aggregation of the swap tree.
func NewMusig2Session(privKey *btcec.PrivateKey, signers []*btcec.PublicKey,
	rootHash chainhash.Hash) *Musig2Session {

	return &Musig2Session{
		privKey:  privKey,
		signers:  signers,
		rootHash: rootHash,
	}
}

// PubNonce generates and returns our public nonce.
func (s *Musig2Session) PubNonce() ([66]byte, error) {
	nonces, err := musig2.GenNonces(
		musig2.WithPublicKey(s.privKey.PubKey()),
	)
	if err != nil {
		return [66]byte{}, fmt.Errorf("gen nonces: %w", err)
	}

	s.nonces = nonces

	return nonces.PubNonce, nil
}

// Sign produces our partial signature for msg given the counterparty nonce.
func (s *Musig2Session) Sign(msg [32]byte,
	theirNonce [66]byte) (*musig2.PartialSignature, error) {

	if s.nonces == nil {
		return nil, ErrNonceNotGenerated
	}

	combinedNonce, err := musig2.AggregateNonces([][66]byte{
		s.nonces.PubNonce,
		theirNonce,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate nonces: %w", err)
	}

	partialSig, err := musig2.Sign(
		s.nonces.SecNonce, s.privKey, combinedNonce, s.signers, msg,
		musig2.WithTaprootSignTweak(s.rootHash[:]),
		musig2.WithFastSign(),
	)
	if err != nil {
		return nil, fmt.Errorf("musig2 sign: %w", err)
	}

	return partialSig, nil
}

// CombineSigs merges our partial signature with the counterparty's into the
// final schnorr signature valid for the tweaked output key.
func (s *Musig2Session) CombineSigs(msg [32]byte, ourSig,
	theirSig *musig2.PartialSignature) (*schnorr.Signature, error) {

	if ourSig == nil || ourSig.R == nil {
		return nil, errors.New("missing own partial signature")
	}

	finalSig := musig2.CombineSigs(
		ourSig.R, []*musig2.PartialSignature{ourSig, theirSig},
		musig2.WithTaprootTweakedCombine(
			msg, s.signers, s.rootHash[:], false,
		),
	)
	if finalSig == nil {
		return nil, errors.New("combine sigs failed")
	}

	return finalSig, nil
}

// KeySpendSigHash computes the BIP341 sighash a key path spend commits to.
func KeySpendSigHash(tx *wire.MsgTx, inputIndex int,
	prevOutFetcher txscript.PrevOutputFetcher) ([32]byte, error) {

	var msg [32]byte

	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)
	sigHash, err := txscript.CalcTaprootSignatureHash(
		sigHashes, txscript.SigHashDefault, tx, inputIndex,
		prevOutFetcher,
	)
	if err != nil {
		return msg, err
	}

	copy(msg[:], sigHash)

	return msg, nil
}

// ParsePartialSig parses a counterparty partial signature given as the bare
// 32 byte scalar.
func ParsePartialSig(sig []byte) (*musig2.PartialSignature, error) {
	if len(sig) != 32 {
		return nil, fmt.Errorf("invalid partial sig length %d",
			len(sig))
	}

	partialSig := &musig2.PartialSignature{
		S: new(btcec.ModNScalar),
	}
	if overflow := partialSig.S.SetByteSlice(sig); overflow {
		return nil, errors.New("partial sig scalar overflow")
	}

	return partialSig, nil
}
