package labels

import (
	"errors"
	"fmt"
	"strings"

	"github.com/swapdhq/swapd/swap"
)

const (
	// MaxLength is the maximum length we allow for labels.
	MaxLength = 500

	// Reserved is used as a prefix to separate labels that are created by
	// the daemon from those supplied by operators.
	Reserved = "[reserved]"

	// labelPattern is the pattern used to label onchain transactions in
	// the wallet backend.
	labelPattern = "swapd -- %v%v(swap=%v)"

	// lockup is the label action of a server lockup transaction.
	lockup = "Lockup"

	// claim is the label action of a claim transaction.
	claim = "Claim"

	// refund is the label action of a refund transaction.
	refund = "Refund"
)

var (
	// ErrLabelTooLong is returned when a label exceeds our length limit.
	ErrLabelTooLong = errors.New("label exceeds maximum length")

	// ErrReservedPrefix is returned when a label contains the prefix
	// which is reserved for internally produced labels.
	ErrReservedPrefix = errors.New("label contains reserved prefix")
)

// Lockup returns the label of the server lockup transaction of a swap.
func Lockup(kind swap.Kind, id string) string {
	return fmt.Sprintf(labelPattern, kind, lockup, id)
}

// Claim returns the label of the claim transaction of a swap.
func Claim(kind swap.Kind, id string) string {
	return fmt.Sprintf(labelPattern, kind, claim, id)
}

// Refund returns the label of the refund transaction of a swap.
func Refund(kind swap.Kind, id string) string {
	return fmt.Sprintf(labelPattern, kind, refund, id)
}

// BatchClaim returns the label of a claim transaction that sweeps several
// swaps at once.
func BatchClaim(ids []string) string {
	return fmt.Sprintf("swapd -- BatchClaim(swaps=%v)",
		strings.Join(ids, ","))
}

// Validate checks that a label is of appropriate length and is not in our
// list of reserved labels.
func Validate(label string) error {
	if len(label) > MaxLength {
		return ErrLabelTooLong
	}

	// Check if our label begins with our reserved prefix. We don't mind if
	// it has our reserved prefix in another case, we just need to be able
	// to reserve a subset of labels with this prefix.
	if strings.HasPrefix(label, Reserved) {
		return ErrReservedPrefix
	}

	return nil
}
