package swapd

import (
	"context"
	"sync"

	"github.com/swapdhq/swapd/batch"
	"github.com/swapdhq/swapd/swap"
	"github.com/swapdhq/swapd/swapdb"
)

// notification is one operator notification captured by the notifier mock.
type notification struct {
	swapID  string
	message string
}

// mockNotifier delivers operator notifications on a channel tests receive
// from.
type mockNotifier struct {
	notifications chan notification
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{
		notifications: make(chan notification, 10),
	}
}

// Notify implements Notifier.
func (m *mockNotifier) Notify(_ context.Context, swapID, message string) {
	m.notifications <- notification{swapID: swapID, message: message}
}

// mockClaimer records every claim offer and answers it with a scripted
// decision. The default is to decline, so claims broadcast immediately.
type mockClaimer struct {
	offers chan batch.ClaimRequest

	mu       sync.Mutex
	deferred bool
}

func newMockClaimer() *mockClaimer {
	return &mockClaimer{
		offers: make(chan batch.ClaimRequest, 10),
	}
}

// setDeferred scripts the answer of subsequent offers.
func (m *mockClaimer) setDeferred(deferred bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deferred = deferred
}

// DeferClaim implements batch.Claimer.
func (m *mockClaimer) DeferClaim(_ context.Context,
	req batch.ClaimRequest) bool {

	m.mu.Lock()
	deferred := m.deferred
	m.mu.Unlock()

	m.offers <- req

	return deferred
}

// mockRates quotes a scripted pair rate.
type mockRates struct {
	mu   sync.Mutex
	rate float64
	err  error
}

// setRate scripts the quoted rate.
func (m *mockRates) setRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rate = rate
}

// Rate implements RateProvider.
func (m *mockRates) Rate(swapdb.Pair, swap.OrderSide) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rate, m.err
}

// openRequest is one channel open captured by the opener mock.
type openRequest struct {
	creation *swapdb.ChannelCreation
	invoice  string
}

// mockOpener answers channel creation requests with a fixed channel id.
type mockOpener struct {
	opens chan openRequest

	channelID uint64
	err       error
}

func newMockOpener(channelID uint64) *mockOpener {
	return &mockOpener{
		opens:     make(chan openRequest, 10),
		channelID: channelID,
	}
}

// OpenChannel implements ChannelOpener.
func (m *mockOpener) OpenChannel(_ context.Context,
	creation *swapdb.ChannelCreation, invoice string) (uint64, error) {

	m.opens <- openRequest{creation: creation, invoice: invoice}

	if m.err != nil {
		return 0, m.err
	}

	return m.channelID, nil
}
