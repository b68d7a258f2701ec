package swapdb

import (
	"github.com/swapdhq/swapd/swap"
)

// Status is the lifecycle state of a swap. The set is shared between all
// swap kinds, each kind only progresses along its own subset of states.
type Status uint8

const (
	// StatusSwapCreated is the initial state of every swap.
	StatusSwapCreated Status = 0

	// StatusMinerFeePaid is reached when the prepay minerfee invoice of a
	// reverse swap was accepted.
	StatusMinerFeePaid Status = 1

	// StatusTransactionMempool is reached when the lockup transaction was
	// seen in the mempool. For reverse swaps this refers to the server
	// lockup, for submarine and chain swaps to the user lockup.
	StatusTransactionMempool Status = 2

	// StatusTransactionConfirmed is reached when the lockup transaction
	// confirmed.
	StatusTransactionConfirmed Status = 3

	// StatusTransactionServerMempool is reached when the server lockup of
	// a chain swap was broadcast.
	StatusTransactionServerMempool Status = 4

	// StatusTransactionServerConfirmed is reached when the server lockup
	// of a chain swap confirmed.
	StatusTransactionServerConfirmed Status = 5

	// StatusInvoicePending is reached when payment of a submarine swap
	// invoice was started.
	StatusInvoicePending Status = 6

	// StatusInvoicePaid is reached when the submarine swap invoice was
	// paid and the preimage is known.
	StatusInvoicePaid Status = 7

	// StatusInvoiceSettled is reached when the hold invoice of a reverse
	// swap was settled with the preimage the user revealed onchain.
	StatusInvoiceSettled Status = 8

	// StatusInvoiceExpired is reached when the hold invoice of a reverse
	// swap expired before it was settled.
	StatusInvoiceExpired Status = 9

	// StatusTransactionClaimPending is reached when a claim was handed to
	// the deferred claimer for batching.
	StatusTransactionClaimPending Status = 10

	// StatusTransactionClaimed is reached when the user lockup was spent
	// with the preimage.
	StatusTransactionClaimed Status = 11

	// StatusTransactionRefunded is reached when a server lockup was spent
	// through the timeout path.
	StatusTransactionRefunded Status = 12

	// StatusTransactionFailed is reached when a server lockup could not
	// be sent.
	StatusTransactionFailed Status = 13

	// StatusTransactionLockupFailed is reached when a user lockup was
	// rejected.
	StatusTransactionLockupFailed Status = 14

	// StatusTransactionZeroConfRejected is reached when a user lockup was
	// rejected for the zero conf path only. The swap recovers once the
	// lockup confirms.
	StatusTransactionZeroConfRejected Status = 15

	// StatusSwapExpired is reached when the onchain timeout passed before
	// the swap completed.
	StatusSwapExpired Status = 16
)

// String returns the wire representation of the status, which is what ends
// up in status update events.
func (s Status) String() string {
	switch s {
	case StatusSwapCreated:
		return "swap.created"

	case StatusMinerFeePaid:
		return "minerfee.paid"

	case StatusTransactionMempool:
		return "transaction.mempool"

	case StatusTransactionConfirmed:
		return "transaction.confirmed"

	case StatusTransactionServerMempool:
		return "transaction.server.mempool"

	case StatusTransactionServerConfirmed:
		return "transaction.server.confirmed"

	case StatusInvoicePending:
		return "invoice.pending"

	case StatusInvoicePaid:
		return "invoice.paid"

	case StatusInvoiceSettled:
		return "invoice.settled"

	case StatusInvoiceExpired:
		return "invoice.expired"

	case StatusTransactionClaimPending:
		return "transaction.claim.pending"

	case StatusTransactionClaimed:
		return "transaction.claimed"

	case StatusTransactionRefunded:
		return "transaction.refunded"

	case StatusTransactionFailed:
		return "transaction.failed"

	case StatusTransactionLockupFailed:
		return "transaction.lockupFailed"

	case StatusTransactionZeroConfRejected:
		return "transaction.zeroconf.rejected"

	case StatusSwapExpired:
		return "swap.expired"

	default:
		return "unknown"
	}
}

// submarineEdges lists the allowed status transitions of a submarine swap.
var submarineEdges = map[Status][]Status{
	StatusSwapCreated: {
		StatusTransactionMempool,
		StatusTransactionConfirmed,
		StatusTransactionZeroConfRejected,
		StatusTransactionLockupFailed,
		StatusSwapExpired,
	},
	StatusTransactionMempool: {
		StatusTransactionConfirmed,
		StatusTransactionZeroConfRejected,
		StatusTransactionLockupFailed,
		StatusInvoicePending,
		StatusSwapExpired,
	},
	StatusTransactionZeroConfRejected: {
		StatusTransactionConfirmed,
		StatusTransactionLockupFailed,
		StatusSwapExpired,
	},
	StatusTransactionConfirmed: {
		StatusInvoicePending,
		StatusTransactionLockupFailed,
		StatusSwapExpired,
	},
	StatusInvoicePending: {
		StatusInvoicePaid,
		StatusSwapExpired,
	},
	StatusInvoicePaid: {
		StatusTransactionClaimPending,
		StatusTransactionClaimed,
		StatusSwapExpired,
	},
	StatusTransactionClaimPending: {
		StatusTransactionClaimed,
	},
}

// reverseEdges lists the allowed status transitions of a reverse swap.
var reverseEdges = map[Status][]Status{
	StatusSwapCreated: {
		StatusMinerFeePaid,
		StatusTransactionMempool,
		StatusInvoiceExpired,
		StatusTransactionFailed,
		StatusSwapExpired,
	},
	StatusMinerFeePaid: {
		StatusTransactionMempool,
		StatusInvoiceExpired,
		StatusTransactionFailed,
		StatusSwapExpired,
	},
	StatusTransactionMempool: {
		StatusTransactionConfirmed,
		StatusInvoiceSettled,
		StatusTransactionRefunded,
		StatusSwapExpired,
	},
	StatusTransactionConfirmed: {
		StatusInvoiceSettled,
		StatusTransactionRefunded,
		StatusSwapExpired,
	},
}

// chainEdges lists the allowed status transitions of a chain swap.
var chainEdges = map[Status][]Status{
	StatusSwapCreated: {
		StatusTransactionMempool,
		StatusTransactionConfirmed,
		StatusTransactionZeroConfRejected,
		StatusTransactionLockupFailed,
		StatusSwapExpired,
	},
	StatusTransactionMempool: {
		StatusTransactionConfirmed,
		StatusTransactionZeroConfRejected,
		StatusTransactionServerMempool,
		StatusTransactionLockupFailed,
		StatusTransactionFailed,
		StatusSwapExpired,
	},
	StatusTransactionZeroConfRejected: {
		StatusTransactionConfirmed,
		StatusTransactionLockupFailed,
		StatusSwapExpired,
	},
	StatusTransactionConfirmed: {
		StatusTransactionServerMempool,
		StatusTransactionFailed,
		StatusSwapExpired,
	},
	StatusTransactionServerMempool: {
		StatusTransactionServerConfirmed,
		StatusTransactionClaimPending,
		StatusTransactionClaimed,
		StatusTransactionRefunded,
		StatusSwapExpired,
	},
	StatusTransactionServerConfirmed: {
		StatusTransactionClaimPending,
		StatusTransactionClaimed,
		StatusTransactionRefunded,
		StatusSwapExpired,
	},
	StatusTransactionClaimPending: {
		StatusTransactionClaimed,
		StatusTransactionRefunded,
		StatusSwapExpired,
	},
}

// terminalStatuses lists the states per kind in which a swap accepts no
// further transitions.
var terminalStatuses = map[swap.Kind]map[Status]struct{}{
	swap.KindSubmarine: {
		StatusTransactionClaimed:      {},
		StatusTransactionLockupFailed: {},
		StatusSwapExpired:             {},
	},
	swap.KindReverse: {
		StatusInvoiceSettled:      {},
		StatusInvoiceExpired:      {},
		StatusTransactionRefunded: {},
		StatusTransactionFailed:   {},
		StatusSwapExpired:         {},
	},
	swap.KindChain: {
		StatusTransactionClaimed:      {},
		StatusTransactionLockupFailed: {},
		StatusTransactionFailed:       {},
		StatusTransactionRefunded:     {},
		StatusSwapExpired:             {},
	},
}

// kindEdges returns the transition table for a swap kind.
func kindEdges(kind swap.Kind) map[Status][]Status {
	switch kind {
	case swap.KindSubmarine:
		return submarineEdges

	case swap.KindReverse:
		return reverseEdges

	case swap.KindChain:
		return chainEdges

	default:
		return nil
	}
}

// CanProgress reports whether a swap of the given kind may move from one
// status to another. Writing the current status again is never a
// progression, callers treat it as a no-op instead.
func CanProgress(kind swap.Kind, from, to Status) bool {
	for _, next := range kindEdges(kind)[from] {
		if next == to {
			return true
		}
	}

	return false
}

// IsTerminal reports whether the status is final for the given swap kind.
func IsTerminal(kind swap.Kind, status Status) bool {
	_, ok := terminalStatuses[kind][status]
	return ok
}
