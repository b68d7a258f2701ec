package lightning

// Event is a notification emitted by the invoice watchers.
type Event interface {
	invoiceEvent()
}

// InvoicePaidEvent signals that the HTLCs of a swap's main hold invoice
// are accepted or settled.
type InvoicePaidEvent struct {
	// SwapID is the swap the invoice belongs to.
	SwapID string
}

func (InvoicePaidEvent) invoiceEvent() {}

// MinerFeePaidEvent signals that the prepay miner fee invoice of a reverse
// swap is accepted or settled.
type MinerFeePaidEvent struct {
	// SwapID is the swap the prepay invoice belongs to.
	SwapID string
}

func (MinerFeePaidEvent) invoiceEvent() {}

// InvoiceExpiredEvent signals that a swap's invoice passed its expiry
// without being paid.
type InvoiceExpiredEvent struct {
	// SwapID is the swap the invoice belongs to.
	SwapID string
}

func (InvoiceExpiredEvent) invoiceEvent() {}
