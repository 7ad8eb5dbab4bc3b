package payments

import (
	"context"
	"sync"

	"github.com/courseclub/CourseClub/app/models"
)

// MockProvider is a deterministic no-network gateway for tests and local
// runs. The external id is derived from the idempotency key, so repeated
// create calls never produce duplicates.
type MockProvider struct {
	mu    sync.Mutex
	state map[string]Status
}

// NewMockProvider creates an empty mock gateway.
func NewMockProvider() *MockProvider {
	return &MockProvider{state: make(map[string]Status)}
}

func (p *MockProvider) Name() string {
	return models.PaymentProviderMock
}

func (p *MockProvider) CreateCheckout(_ context.Context, req CreateRequest) (*Checkout, error) {
	externalID := "mock_" + req.IdempotencyKey

	p.mu.Lock()
	if _, ok := p.state[externalID]; !ok {
		p.state[externalID] = StatusPending
	}
	p.mu.Unlock()

	payURL := req.ReturnURL
	if payURL != "" {
		payURL += "?mock=1&external_id=" + externalID
	}
	return &Checkout{
		ExternalID:  externalID,
		PayURL:      payURL,
		RawMetaJSON: `{"payer_ref":"` + req.PayerRef + `"}`,
	}, nil
}

func (p *MockProvider) FetchStatus(_ context.Context, externalID string) (Status, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status, ok := p.state[externalID]; ok {
		return status, string(status), nil
	}
	return StatusPending, "", nil
}

// MarkPaid flips a mock payment to paid.
func (p *MockProvider) MarkPaid(externalID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[externalID] = StatusPaid
}

// MarkCancelled flips a mock payment to cancelled.
func (p *MockProvider) MarkCancelled(externalID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[externalID] = StatusCancelled
}
