package payments

import "context"

// Status is the provider-neutral 3-valued payment state. Adapters must map
// every gateway-native status onto exactly one of these; anything unknown
// maps to StatusPending so a surprise vocabulary change can never grant
// access by accident.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// CreateRequest carries everything a gateway needs to open a checkout.
type CreateRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	PayerRef       string
	IdempotencyKey string
	ReturnURL      string
}

// Checkout is the correlation data a gateway returns for a new checkout.
// Redirect gateways fill PayURL; PIX gateways fill the QR fields.
type Checkout struct {
	ExternalID   string
	PayURL       string
	PixQRBase64  string
	PixCopyPaste string
	RawMetaJSON  string
}

// Provider is the uniform capability over heterogeneous payment gateways:
// open a checkout, read back the authoritative status. Implementations must
// be safe to retry CreateCheckout with the same idempotency key.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CreateRequest) (*Checkout, error)
	// FetchStatus returns the mapped status plus the raw gateway status
	// string for diagnostics.
	FetchStatus(ctx context.Context, externalID string) (Status, string, error)
}
