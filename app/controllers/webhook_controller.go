package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"github.com/courseclub/CourseClub/internal/pkg/payments"
	"github.com/gofiber/fiber/v2"
)

// WebhookController handles inbound payment gateway notifications. It is
// built once at startup with explicit dependencies.
type WebhookController struct {
	Payments        *payments.Service
	WebhookEvents   repository.WebhookEventRepository
	MPWebhookSecret string
	MockProvider    *payments.MockProvider
}

const webhookTimeout = 15 * time.Second

// webhookID tolerates both string and numeric JSON ids. Gateways are not
// consistent here: MercadoPago sends "data":{"id":"..."} as a string but
// numeric top-level ids appear in older notification formats.
type webhookID string

func (w *webhookID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*w = webhookID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*w = webhookID(n.String())
	return nil
}

// HandleMercadoPagoWebhook processes a MercadoPago payment notification.
// The signature is verified with a constant-time HMAC comparison before any
// ledger lookup; the body itself is never trusted for the verdict.
func (wc *WebhookController) HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	var body struct {
		ID   webhookID `json:"id"`
		Data struct {
			ID webhookID `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	externalID := strings.TrimSpace(string(body.Data.ID))
	if externalID == "" {
		externalID = strings.TrimSpace(string(body.ID))
	}
	if externalID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no_payment_id"})
	}

	if wc.MPWebhookSecret != "" {
		signature := strings.TrimSpace(c.Get("x-signature"))
		requestID := strings.TrimSpace(c.Get("x-request-id"))
		if signature == "" || requestID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing_signature"})
		}
		if !payments.VerifyMercadoPagoSignature(wc.MPWebhookSecret, signature, requestID, externalID) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
	}

	return wc.process(c, models.PaymentProviderMercadoPago, externalID, rawBody, strings.TrimSpace(c.Get("x-request-id")))
}

// HandleYooKassaWebhook processes a YooKassa payment notification. YooKassa
// sends no signature; the authoritative status pull protects against forged
// bodies.
func (wc *WebhookController) HandleYooKassaWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	var body struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	externalID := strings.TrimSpace(body.Object.ID)
	if externalID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no_payment_id"})
	}

	return wc.process(c, models.PaymentProviderYooKassa, externalID, rawBody, "")
}

// process records the notification idempotently, then runs the shared
// reconciliation path (lookup by external id, authoritative status pull,
// at-most-one transition).
func (wc *WebhookController) process(c *fiber.Ctx, provider, externalID string, rawBody []byte, eventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	if eventID == "" {
		sum := sha256.Sum256(rawBody)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := wc.WebhookEvents.CreateIfNotExists(&models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		ExternalID:      externalID,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	// A replay of an event that already processed cleanly is a no-op. A
	// replay of one that failed (or never finished) runs again, so a
	// gateway retry with the same request id can recover the payment.
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	outcome, err := wc.Payments.HandleNotification(ctx, provider, externalID)
	if err != nil {
		_ = wc.WebhookEvents.MarkProcessed(stored.ID, err.Error())
		// The gateway retries; report the transient failure.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "verification_failed"})
	}
	_ = wc.WebhookEvents.MarkProcessed(stored.ID, "")

	switch outcome {
	case payments.OutcomeIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	case payments.OutcomePaid, payments.OutcomeAlreadyPaid:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "paid": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "paid": false, "status": string(outcome)})
	}
}

// HandleMockPaid flips a mock payment to paid and reconciles it. Dev/test
// helper for the redirect flow without a real gateway.
func (wc *WebhookController) HandleMockPaid(c *fiber.Ctx) error {
	if wc.MockProvider == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "mock_disabled"})
	}

	paymentID := strings.TrimSpace(c.Query("payment_id"))
	if paymentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment_id required"})
	}

	payment, err := wc.Payments.GetPayment(paymentID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment_not_found"})
	}
	if payment.ExternalID != nil {
		wc.MockProvider.MarkPaid(*payment.ExternalID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	outcome, err := wc.Payments.CheckPayment(ctx, paymentID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "verification_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "paid": outcome.Confirmed(), "payment_id": paymentID})
}
