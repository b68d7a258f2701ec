package test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/lightning"
)

// PayResult scripts the outcome of one LightningMock.Pay call.
type PayResult struct {
	// Preimage is the preimage of a successful payment.
	Preimage lntypes.Preimage

	// Err is the payment error, lightning.ErrPaymentInFlight for an
	// undecided outcome.
	Err error
}

// LightningMock is a scriptable lightning.Client backed by an in-memory
// invoice map. Dispatched payments, settles and cancels are delivered on the
// exported channels.
type LightningMock struct {
	// Payments receives every dispatched payment request.
	Payments chan lightning.PayRequest

	// Settles receives the preimage of every settled hold invoice.
	Settles chan lntypes.Preimage

	// Cancels receives the hash of every cancelled hold invoice.
	Cancels chan lntypes.Hash

	name string

	mu         sync.Mutex
	invoices   map[lntypes.Hash]lightning.InvoiceState
	decoded    map[string]*lightning.Invoice
	lookupErr  error
	payResults []PayResult
}

var _ lightning.Client = (*LightningMock)(nil)

// NewLightningMock returns a lightning mock with the given node name.
func NewLightningMock(name string) *LightningMock {
	return &LightningMock{
		Payments: make(chan lightning.PayRequest, 10),
		Settles:  make(chan lntypes.Preimage, 10),
		Cancels:  make(chan lntypes.Hash, 10),
		name:     name,
		invoices: make(map[lntypes.Hash]lightning.InvoiceState),
		decoded:  make(map[string]*lightning.Invoice),
	}
}

// SetInvoiceState scripts the state of an invoice.
func (m *LightningMock) SetInvoiceState(preimageHash lntypes.Hash,
	state lightning.InvoiceState) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices[preimageHash] = state
}

// InvoiceState returns the current state of an invoice.
func (m *LightningMock) InvoiceState(preimageHash lntypes.Hash) (
	lightning.InvoiceState, bool) {

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.invoices[preimageHash]
	return state, ok
}

// SetDecoded scripts the decode result of a payment request.
func (m *LightningMock) SetDecoded(invoice string,
	decoded *lightning.Invoice) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.decoded[invoice] = decoded
}

// SetLookupError makes every lookup fail until cleared.
func (m *LightningMock) SetLookupError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookupErr = err
}

// QueuePayResult appends an outcome for the next Pay call. Each call
// consumes one queued result, unqueued calls fail.
func (m *LightningMock) QueuePayResult(result PayResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.payResults = append(m.payResults, result)
}

// Name implements lightning.Client.
func (m *LightningMock) Name() string {
	return m.name
}

// DecodeInvoice implements lightning.Client.
func (m *LightningMock) DecodeInvoice(_ context.Context, invoice string) (
	*lightning.Invoice, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	decoded, ok := m.decoded[invoice]
	if !ok {
		return nil, fmt.Errorf("unknown invoice %v", invoice)
	}

	return decoded, nil
}

// AddHoldInvoice implements lightning.Client.
func (m *LightningMock) AddHoldInvoice(_ context.Context,
	preimageHash lntypes.Hash, amount btcutil.Amount,
	expiry time.Duration, memo string) (string, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices[preimageHash] = lightning.InvoiceOpen

	invoice := fmt.Sprintf("lnmock%v", preimageHash)
	m.decoded[invoice] = &lightning.Invoice{
		PaymentHash: preimageHash,
		Amount:      amount,
		ExpiresAt:   time.Now().Add(expiry),
		Memo:        memo,
	}

	return invoice, nil
}

// SettleHoldInvoice implements lightning.Client.
func (m *LightningMock) SettleHoldInvoice(_ context.Context,
	preimage lntypes.Preimage) error {

	preimageHash := preimage.Hash()

	m.mu.Lock()
	_, ok := m.invoices[preimageHash]
	if ok {
		m.invoices[preimageHash] = lightning.InvoiceSettled
	}
	m.mu.Unlock()

	if !ok {
		return lightning.ErrInvoiceNotFound
	}

	m.Settles <- preimage

	return nil
}

// CancelHoldInvoice implements lightning.Client.
func (m *LightningMock) CancelHoldInvoice(_ context.Context,
	preimageHash lntypes.Hash) error {

	m.mu.Lock()
	_, ok := m.invoices[preimageHash]
	if ok {
		m.invoices[preimageHash] = lightning.InvoiceCancelled
	}
	m.mu.Unlock()

	if !ok {
		return lightning.ErrInvoiceNotFound
	}

	m.Cancels <- preimageHash

	return nil
}

// LookupHoldInvoice implements lightning.Client.
func (m *LightningMock) LookupHoldInvoice(_ context.Context,
	preimageHash lntypes.Hash) (*lightning.InvoiceStatus, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lookupErr != nil {
		return nil, m.lookupErr
	}

	state, ok := m.invoices[preimageHash]
	if !ok {
		return nil, lightning.ErrInvoiceNotFound
	}

	return &lightning.InvoiceStatus{State: state}, nil
}

// Pay implements lightning.Client, consuming the next queued result.
func (m *LightningMock) Pay(_ context.Context, req *lightning.PayRequest) (
	lntypes.Preimage, error) {

	m.mu.Lock()
	var result PayResult
	if len(m.payResults) > 0 {
		result = m.payResults[0]
		m.payResults = m.payResults[1:]
	} else {
		result = PayResult{
			Err: fmt.Errorf("no payment result scripted"),
		}
	}
	m.mu.Unlock()

	m.Payments <- *req

	if result.Err != nil {
		return lntypes.Preimage{}, result.Err
	}

	return result.Preimage, nil
}
