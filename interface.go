package swapd

import (
	"context"

	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// Notifier receives operator facing failure notifications. Failures that the
// nursery cannot recover from on its own, a refund that does not broadcast
// or a payment that failed permanently, are reported here in addition to the
// log.
type Notifier interface {
	// Notify reports a failure of the given swap. Implementations must
	// not block longer than the passed context allows.
	Notify(ctx context.Context, swapID string, message string)
}

// LogNotifier is the Notifier used when no external notification target is
// configured. It writes notifications to the log only.
type LogNotifier struct{}

// Notify logs the notification.
func (LogNotifier) Notify(_ context.Context, swapID string, message string) {
	log.Warnf("Notification for swap %v: %v", swapID, message)
}

// ChannelOpener opens the channel a submarine swap's channel creation
// request asks for before its invoice is paid.
type ChannelOpener interface {
	// OpenChannel opens the requested channel towards the payee of the
	// invoice and returns its short channel id once the channel is
	// usable, so the payment can be routed through it. Calls for a
	// channel that was already opened return the existing id.
	OpenChannel(ctx context.Context, creation *swapdb.ChannelCreation,
		invoice string) (uint64, error)
}

// RateProvider quotes the current rate of a pair. The nursery uses it to
// freeze the rate of submarine swaps whose lockup arrived before an invoice
// was posted.
type RateProvider interface {
	// Rate returns the current rate of the pair from the perspective of
	// the given order side.
	Rate(pair swapdb.Pair, side swap.OrderSide) (float64, error)
}
