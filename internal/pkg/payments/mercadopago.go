package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/internal/pkg/env"
)

const defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// MercadoPagoProvider creates PIX checkouts against the MercadoPago REST
// API. The payable reference is a QR code (base64 image + copy/paste code).
type MercadoPagoProvider struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client
}

// NewMercadoPagoFromEnv builds the provider from MP_* settings.
func NewMercadoPagoFromEnv() *MercadoPagoProvider {
	return &MercadoPagoProvider{
		AccessToken: strings.TrimSpace(env.GetEnv("MP_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimRight(env.GetEnv("MP_API_BASE_URL", defaultMercadoPagoAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *MercadoPagoProvider) Name() string {
	return models.PaymentProviderMercadoPago
}

func (p *MercadoPagoProvider) CreateCheckout(ctx context.Context, req CreateRequest) (*Checkout, error) {
	payload := map[string]interface{}{
		// MercadoPago expects the amount as a decimal in major units.
		"transaction_amount": float64(req.AmountCents) / 100.0,
		"description":        req.Description,
		"payment_method_id":  "pix",
		"external_reference": req.PayerRef,
	}

	body, err := p.request(ctx, http.MethodPost, "/v1/payments", payload, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID                 json.Number `json:"id"`
		PointOfInteraction struct {
			TransactionData struct {
				QRCodeBase64 string `json:"qr_code_base64"`
				QRCode       string `json:"qr_code"`
			} `json:"transaction_data"`
		} `json:"point_of_interaction"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	externalID := strings.TrimSpace(raw.ID.String())
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing payment id in body %s", ErrMalformedResponse, truncate(string(body), 500))
	}

	return &Checkout{
		ExternalID:   externalID,
		PixQRBase64:  raw.PointOfInteraction.TransactionData.QRCodeBase64,
		PixCopyPaste: raw.PointOfInteraction.TransactionData.QRCode,
		RawMetaJSON:  string(body),
	}, nil
}

func (p *MercadoPagoProvider) FetchStatus(ctx context.Context, externalID string) (Status, string, error) {
	body, err := p.request(ctx, http.MethodGet, "/v1/payments/"+externalID, nil, "")
	if err != nil {
		return StatusPending, "", err
	}

	var raw struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return StatusPending, "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	native := strings.ToLower(strings.TrimSpace(raw.Status))
	return mapMercadoPagoStatus(native), native, nil
}

// mapMercadoPagoStatus maps the gateway vocabulary onto the 3-valued status.
// Unknown values stay pending, never a terminal state.
func mapMercadoPagoStatus(native string) Status {
	switch native {
	case "approved":
		return StatusPaid
	case "cancelled", "rejected", "refunded", "charged_back":
		return StatusCancelled
	default:
		return StatusPending
	}
}

func (p *MercadoPagoProvider) request(ctx context.Context, method, path string, payload interface{}, idempotencyKey string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.APIBaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status=%d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mercadopago request failed: status=%d body=%s", resp.StatusCode, truncate(string(body), 500))
	}
	return body, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
