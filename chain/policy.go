package chain

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultZeroConfMaxAmount is the default value cap for lockups we
	// act on before they confirm.
	DefaultZeroConfMaxAmount = btcutil.Amount(1_000_000)

	// DefaultOverpaymentExemptAmount is the overpayment that is always
	// tolerated, regardless of the relative tolerance.
	DefaultOverpaymentExemptAmount = btcutil.Amount(10_000)

	// DefaultOverpaymentMaxPercentage is the default relative overpayment
	// tolerance.
	DefaultOverpaymentMaxPercentage = 2
)

// LockupHook can veto a detected lockup before the swap acts on it. The
// watcher calls it inline, implementations must not block.
type LockupHook interface {
	// ApproveLockup returns false and a human readable reason when the
	// transaction must not be accepted for the given swap.
	ApproveLockup(swapID string, tx *wire.MsgTx) (bool, string)
}

// AcceptAllLockups is the LockupHook used when no external policy is
// configured.
type AcceptAllLockups struct{}

// ApproveLockup accepts every transaction.
func (AcceptAllLockups) ApproveLockup(string, *wire.MsgTx) (bool, string) {
	return true, ""
}

// ZeroConfAcceptor decides whether an unconfirmed lockup is safe to act on.
// A replaceable transaction never is, and above the configured amount the
// cost of a double spend outweighs the latency win.
type ZeroConfAcceptor struct {
	// MaxAmount is the largest lockup value accepted without a
	// confirmation. Zero disables zero-conf acceptance entirely.
	MaxAmount btcutil.Amount
}

// NewZeroConfAcceptor returns an acceptor with the given amount cap, falling
// back to the default cap when zero is passed.
func NewZeroConfAcceptor(maxAmount btcutil.Amount) *ZeroConfAcceptor {
	if maxAmount == 0 {
		maxAmount = DefaultZeroConfMaxAmount
	}

	return &ZeroConfAcceptor{MaxAmount: maxAmount}
}

// Accept returns false and the reason when the unconfirmed transaction must
// not be trusted yet.
func (z *ZeroConfAcceptor) Accept(tx *wire.MsgTx, amount btcutil.Amount) (
	bool, string) {

	// BIP125: one replaceable input makes the whole transaction
	// replaceable.
	for _, in := range tx.TxIn {
		if in.Sequence < wire.MaxTxInSequenceNum-1 {
			return false, "transaction signals RBF"
		}
	}

	if amount > z.MaxAmount {
		return false, "amount exceeds 0-conf limit"
	}

	return true, ""
}

// OverpaymentProtector rejects lockups that pay so much more than the
// expected amount that a sender mistake is the likeliest explanation. Such
// lockups fail the swap instead of silently keeping the difference.
type OverpaymentProtector struct {
	// ExemptAmount is always tolerated, so that small swaps are not
	// rejected over a few hundred sats.
	ExemptAmount btcutil.Amount

	// MaxPercentage is the tolerated overpayment in percent of the
	// expected amount.
	MaxPercentage uint64
}

// NewOverpaymentProtector returns a protector with the default tolerances.
func NewOverpaymentProtector() *OverpaymentProtector {
	return &OverpaymentProtector{
		ExemptAmount:  DefaultOverpaymentExemptAmount,
		MaxPercentage: DefaultOverpaymentMaxPercentage,
	}
}

// IsUnacceptableOverpay returns true when the actual amount exceeds the
// expected amount by more than the configured tolerance.
func (o *OverpaymentProtector) IsUnacceptableOverpay(expected,
	actual btcutil.Amount) bool {

	if actual <= expected {
		return false
	}

	allowed := btcutil.Amount(
		uint64(expected) * o.MaxPercentage / 100,
	)
	if allowed < o.ExemptAmount {
		allowed = o.ExemptAmount
	}

	return actual-expected > allowed
}
