package lightning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

// mockClient is a scriptable Client backed by an in-memory invoice map.
type mockClient struct {
	name string

	mu        sync.Mutex
	invoices  map[lntypes.Hash]InvoiceState
	decoded   map[string]*Invoice
	lookupErr error

	cancelled chan lntypes.Hash
	settled   chan lntypes.Preimage
	payments  chan PayRequest

	payPreimage lntypes.Preimage
	payErr      error
}

var _ Client = (*mockClient)(nil)

func newMockClient(name string) *mockClient {
	return &mockClient{
		name:      name,
		invoices:  make(map[lntypes.Hash]InvoiceState),
		decoded:   make(map[string]*Invoice),
		cancelled: make(chan lntypes.Hash, 10),
		settled:   make(chan lntypes.Preimage, 10),
		payments:  make(chan PayRequest, 10),
	}
}

// setState scripts the state of an invoice.
func (m *mockClient) setState(preimageHash lntypes.Hash,
	state InvoiceState) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices[preimageHash] = state
}

// setDecoded scripts the decode result of a payment request.
func (m *mockClient) setDecoded(invoice string, decoded *Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decoded[invoice] = decoded
}

// setLookupErr makes every lookup fail until cleared.
func (m *mockClient) setLookupErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookupErr = err
}

func (m *mockClient) Name() string {
	return m.name
}

func (m *mockClient) DecodeInvoice(_ context.Context, invoice string) (
	*Invoice, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	decoded, ok := m.decoded[invoice]
	if !ok {
		return nil, fmt.Errorf("unknown invoice %v", invoice)
	}

	return decoded, nil
}

func (m *mockClient) AddHoldInvoice(_ context.Context,
	preimageHash lntypes.Hash, amount btcutil.Amount,
	expiry time.Duration, memo string) (string, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices[preimageHash] = InvoiceOpen

	invoice := fmt.Sprintf("lnmock%v", preimageHash)
	m.decoded[invoice] = &Invoice{
		PaymentHash: preimageHash,
		Amount:      amount,
		ExpiresAt:   time.Now().Add(expiry),
		Memo:        memo,
	}

	return invoice, nil
}

func (m *mockClient) SettleHoldInvoice(_ context.Context,
	preimage lntypes.Preimage) error {

	preimageHash := preimage.Hash()

	m.mu.Lock()
	_, ok := m.invoices[preimageHash]
	if ok {
		m.invoices[preimageHash] = InvoiceSettled
	}
	m.mu.Unlock()

	if !ok {
		return ErrInvoiceNotFound
	}

	m.settled <- preimage

	return nil
}

func (m *mockClient) CancelHoldInvoice(_ context.Context,
	preimageHash lntypes.Hash) error {

	m.mu.Lock()
	_, ok := m.invoices[preimageHash]
	if ok {
		m.invoices[preimageHash] = InvoiceCancelled
	}
	m.mu.Unlock()

	if !ok {
		return ErrInvoiceNotFound
	}

	m.cancelled <- preimageHash

	return nil
}

func (m *mockClient) LookupHoldInvoice(_ context.Context,
	preimageHash lntypes.Hash) (*InvoiceStatus, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lookupErr != nil {
		return nil, m.lookupErr
	}

	state, ok := m.invoices[preimageHash]
	if !ok {
		return nil, ErrInvoiceNotFound
	}

	return &InvoiceStatus{State: state}, nil
}

func (m *mockClient) Pay(_ context.Context, req *PayRequest) (
	lntypes.Preimage, error) {

	m.payments <- *req

	if m.payErr != nil {
		return lntypes.Preimage{}, m.payErr
	}

	return m.payPreimage, nil
}
