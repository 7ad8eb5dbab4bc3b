package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/internal/pkg/env"
)

const defaultYooKassaAPIBaseURL = "https://api.yookassa.ru/v3"

// YooKassaProvider creates redirect checkouts against the YooKassa REST API.
// The payable reference is a confirmation URL the subscriber opens.
type YooKassaProvider struct {
	ShopID     string
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewYooKassaFromEnv builds the provider from YK_* settings.
func NewYooKassaFromEnv() *YooKassaProvider {
	return &YooKassaProvider{
		ShopID:     strings.TrimSpace(env.GetEnv("YK_SHOP_ID", "")),
		SecretKey:  strings.TrimSpace(env.GetEnv("YK_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("YK_API_BASE_URL", defaultYooKassaAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// IsConfigured reports whether shop credentials are present.
func (p *YooKassaProvider) IsConfigured() bool {
	return p.ShopID != "" && p.SecretKey != ""
}

func (p *YooKassaProvider) Name() string {
	return models.PaymentProviderYooKassa
}

func (p *YooKassaProvider) CreateCheckout(ctx context.Context, req CreateRequest) (*Checkout, error) {
	payload := map[string]interface{}{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%d.%02d", req.AmountCents/100, req.AmountCents%100),
			"currency": req.Currency,
		},
		"capture":     true,
		"description": req.Description,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": req.ReturnURL,
		},
		"metadata": map[string]string{
			"payer_ref": req.PayerRef,
		},
	}

	body, err := p.request(ctx, http.MethodPost, "/payments", payload, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID           string `json:"id"`
		Confirmation struct {
			ConfirmationURL string `json:"confirmation_url"`
		} `json:"confirmation"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	externalID := strings.TrimSpace(raw.ID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing payment id in body %s", ErrMalformedResponse, truncate(string(body), 500))
	}

	return &Checkout{
		ExternalID:  externalID,
		PayURL:      raw.Confirmation.ConfirmationURL,
		RawMetaJSON: string(body),
	}, nil
}

func (p *YooKassaProvider) FetchStatus(ctx context.Context, externalID string) (Status, string, error) {
	body, err := p.request(ctx, http.MethodGet, "/payments/"+externalID, nil, "")
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
	return mapYooKassaStatus(native), native, nil
}

// mapYooKassaStatus maps the gateway vocabulary onto the 3-valued status.
// Unknown values stay pending, never a terminal state.
func mapYooKassaStatus(native string) Status {
	switch native {
	case "succeeded":
		return StatusPaid
	case "canceled":
		return StatusCancelled
	default:
		return StatusPending
	}
}

func (p *YooKassaProvider) authHeader() string {
	token := p.ShopID + ":" + p.SecretKey
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

func (p *YooKassaProvider) request(ctx context.Context, method, path string, payload interface{}, idempotencyKey string) ([]byte, error) {
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
	req.Header.Set("Authorization", p.authHeader())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		// YooKassa expects this exact header name.
		req.Header.Set("Idempotence-Key", idempotencyKey)
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
		return nil, fmt.Errorf("yookassa request failed: status=%d body=%s", resp.StatusCode, truncate(string(body), 500))
	}
	return body, nil
}
