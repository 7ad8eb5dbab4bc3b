package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"github.com/courseclub/CourseClub/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcome describes what a reconciliation attempt did.
type Outcome string

const (
	// OutcomeIgnored: the referenced payment is not in this deployment's
	// ledger. Acknowledged, zero state mutation.
	OutcomeIgnored Outcome = "ignored"
	// OutcomePaid: the payment transitioned pending -> paid in this call.
	OutcomePaid Outcome = "paid"
	// OutcomeAlreadyPaid: the payment was paid before this call; the call is
	// a safe no-op that still counts as success.
	OutcomeAlreadyPaid Outcome = "already_paid"
	// OutcomeCancelled: the payment transitioned pending -> cancelled.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomePending: the gateway has not confirmed the payment yet.
	OutcomePending Outcome = "pending"
)

// Confirmed reports whether the outcome means the subscriber is entitled.
func (o Outcome) Confirmed() bool {
	return o == OutcomePaid || o == OutcomeAlreadyPaid
}

// Notifier delivers best-effort messages after a payment is finalized.
// Failures are logged and dropped; they never unwind ledger state.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, text string) error
	NotifyOperators(ctx context.Context, text string) error
}

// Config carries the service settings resolved at startup.
type Config struct {
	// GrantDays is the fixed access extension granted per paid payment,
	// measured from the moment of confirmation (not from prior expiry).
	GrantDays int
	// CourseID is the lesson-drip course seeded on payment success.
	CourseID string
	// ReturnURL is where redirect gateways send the subscriber back to.
	ReturnURL string
	// OperatorIDs is the allow-list for manual administrative confirmation.
	OperatorIDs map[int64]struct{}
}

// Service is the single place new payments are born and the state machine
// that moves them to a terminal state. Both trigger paths (webhook push,
// user/periodic pull) converge on the same transition logic here.
type Service struct {
	repo      repository.PaymentRepository
	providers map[string]Provider
	notifier  Notifier
	cfg       Config
}

// NewService wires the checkout orchestrator and reconciliation engine.
func NewService(repo repository.PaymentRepository, providers []Provider, notifier Notifier, cfg Config) *Service {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if cfg.GrantDays <= 0 {
		cfg.GrantDays = 30
	}
	return &Service{
		repo:      repo,
		providers: byName,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Provider resolves a configured gateway by name.
func (s *Service) Provider(name string) (Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// StartCheckout creates the ledger row first, then opens the gateway
// checkout, then attaches the correlation data. If the gateway call fails
// the pending row stays behind without an external id; a retry of the same
// logical checkout gets a fresh payment id (the abandoned row is inert
// audit noise, never blocking the user).
func (s *Service) StartCheckout(ctx context.Context, userID int64, providerName string, amountCents int64, currency, plan, description string) (*models.Payment, error) {
	provider, err := s.Provider(providerName)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    provider.Name(),
		Status:      models.PaymentStatusPending,
		AmountCents: amountCents,
		Currency:    currency,
		Plan:        plan,
	}
	// Stable idempotency key for this internal payment.
	payment.IdempotencyKey = payment.ID

	if err := s.repo.Create(payment); err != nil {
		return nil, err
	}

	checkout, err := provider.CreateCheckout(ctx, CreateRequest{
		AmountCents:    amountCents,
		Currency:       currency,
		Description:    description,
		PayerRef:       fmt.Sprintf("tg:%d:%s", userID, payment.ID),
		IdempotencyKey: payment.IdempotencyKey,
		ReturnURL:      s.cfg.ReturnURL,
	})
	if err != nil {
		log.Warnf("[Payments] Checkout creation failed for payment %s via %s: %v", payment.ID, provider.Name(), err)
		return payment, err
	}

	if err := s.repo.AttachCheckoutDetails(payment.ID, checkout.ExternalID, checkout.PayURL, checkout.PixQRBase64, checkout.PixCopyPaste, checkout.RawMetaJSON); err != nil {
		return payment, err
	}

	externalID := checkout.ExternalID
	payment.ExternalID = &externalID
	payment.PayURL = checkout.PayURL
	payment.PixQRBase64 = checkout.PixQRBase64
	payment.PixCopyPaste = checkout.PixCopyPaste
	payment.RawMetaJSON = checkout.RawMetaJSON
	return payment, nil
}

// GetPayment loads a ledger row by its internal id.
func (s *Service) GetPayment(id string) (*models.Payment, error) {
	return s.repo.GetByID(id)
}

// GrantDays reports the configured access window per paid payment.
func (s *Service) GrantDays() int {
	return s.cfg.GrantDays
}

// HandleNotification is the push trigger path. The notification body is
// never trusted for the verdict: the engine looks up the ledger row by
// (gateway, external id) and asks the gateway itself for the authoritative
// status. Notifications for payments outside this deployment are
// acknowledged and ignored.
func (s *Service) HandleNotification(ctx context.Context, providerName, externalID string) (Outcome, error) {
	provider, err := s.Provider(providerName)
	if err != nil {
		return OutcomeIgnored, err
	}

	payment, err := s.repo.FindByExternalID(provider.Name(), externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeIgnored, nil
		}
		return OutcomeIgnored, err
	}

	return s.reconcile(ctx, provider, payment)
}

// CheckPayment is the pull trigger path ("check my payment" and the
// periodic scan).
func (s *Service) CheckPayment(ctx context.Context, paymentID string) (Outcome, error) {
	payment, err := s.repo.GetByID(paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeIgnored, nil
		}
		return OutcomeIgnored, err
	}

	provider, err := s.Provider(payment.Provider)
	if err != nil {
		return OutcomeIgnored, err
	}
	return s.reconcile(ctx, provider, payment)
}

func (s *Service) reconcile(ctx context.Context, provider Provider, payment *models.Payment) (Outcome, error) {
	if payment.Status == models.PaymentStatusPaid {
		return OutcomeAlreadyPaid, nil
	}
	if payment.IsTerminal() {
		// No transition out of cancelled/expired.
		return Outcome(payment.Status), nil
	}
	if payment.ExternalID == nil || *payment.ExternalID == "" {
		// Gateway call never succeeded for this row; nothing to verify.
		return OutcomePending, nil
	}

	status, raw, err := provider.FetchStatus(ctx, *payment.ExternalID)
	if err != nil {
		return OutcomePending, err
	}

	switch status {
	case StatusPaid:
		return s.finalizePaid(ctx, payment)
	case StatusCancelled:
		if err := s.repo.MarkCancelled(payment.ID); err != nil {
			return OutcomePending, err
		}
		log.Infof("[Payments] Payment %s cancelled (gateway status %q)", payment.ID, raw)
		return OutcomeCancelled, nil
	default:
		return OutcomePending, nil
	}
}

// ManualMarkPaid confirms a payment without gateway verification, for
// gateways with no programmatic status (human-reviewed bank transfer).
// Restricted to configured operators; unauthorized attempts change nothing.
func (s *Service) ManualMarkPaid(ctx context.Context, operatorID int64, paymentID string) (Outcome, error) {
	if _, ok := s.cfg.OperatorIDs[operatorID]; !ok {
		log.Warnf("[Payments] Rejected manual confirmation of payment %s by non-operator %d", paymentID, operatorID)
		return OutcomePending, ErrUnauthorized
	}

	payment, err := s.repo.GetByID(paymentID)
	if err != nil {
		return OutcomePending, err
	}
	if payment.Status == models.PaymentStatusPaid {
		return OutcomeAlreadyPaid, nil
	}
	return s.finalizePaid(ctx, payment)
}

// ReconcilePending pulls the gateway status for stale pending payments.
// Each entry is isolated: one gateway failure never aborts the scan.
func (s *Service) ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	pending, err := s.repo.ListPending(olderThan, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range pending {
		payment := &pending[i]
		provider, err := s.Provider(payment.Provider)
		if err != nil {
			log.Warnf("[Payments] Pending payment %s references unconfigured provider %s", payment.ID, payment.Provider)
			continue
		}
		outcome, err := s.reconcile(ctx, provider, payment)
		if err != nil {
			log.Errorf("[Payments] Status pull for payment %s failed: %v", payment.ID, err)
			continue
		}
		if outcome == OutcomePaid || outcome == OutcomeCancelled {
			settled++
		}
	}
	return settled, nil
}

// finalizePaid runs the terminal success step: ledger + entitlement +
// enrollment inside one transaction, then strictly post-commit best-effort
// notifications.
func (s *Service) finalizePaid(ctx context.Context, payment *models.Payment) (Outcome, error) {
	courseID := s.cfg.CourseID
	if payment.Plan == entitlements.PlanLiveOnly {
		// Live-only subscribers get no lesson drip.
		courseID = ""
	}

	result, err := s.repo.FinalizePaid(payment.ID, s.cfg.GrantDays, courseID)
	if err != nil {
		return OutcomePending, err
	}
	if result.AlreadyPaid {
		return OutcomeAlreadyPaid, nil
	}

	log.Infof("[Payments] Payment %s confirmed: user %d granted %d days", payment.ID, result.UserID, s.cfg.GrantDays)
	s.notifyPaid(ctx, payment, result.UserID)
	return OutcomePaid, nil
}

func (s *Service) notifyPaid(ctx context.Context, payment *models.Payment, userID int64) {
	if s.notifier == nil {
		return
	}
	userText := fmt.Sprintf("Payment confirmed. Access granted for %d days. Use /access to enter the channel.", s.cfg.GrantDays)
	if err := s.notifier.NotifyUser(ctx, userID, userText); err != nil {
		log.Errorf("[Payments] Welcome notification for user %d failed: %v", userID, err)
	}

	opText := fmt.Sprintf("Payment %s (%s, %d %s) confirmed for user %d", payment.ID, payment.Provider, payment.AmountCents, payment.Currency, userID)
	if err := s.notifier.NotifyOperators(ctx, opText); err != nil {
		log.Errorf("[Payments] Operator notification for payment %s failed: %v", payment.ID, err)
	}
}
