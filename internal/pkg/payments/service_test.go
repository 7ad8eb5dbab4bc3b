package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"gorm.io/gorm"
)

// memPaymentRepo is an in-memory PaymentRepository with the same transition
// semantics as the GORM implementation: conditional updates guarded on the
// pending status.
type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*models.Payment

	grants      []grantRecord
	enrollments []string
}

type grantRecord struct {
	userID    int64
	grantDays int
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: make(map[string]*models.Payment)}
}

func (r *memPaymentRepo) Create(p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r *memPaymentRepo) GetByID(id string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) FindByExternalID(provider, externalID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.Provider == provider && p.ExternalID != nil && *p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPaymentRepo) AttachCheckoutDetails(id string, externalID, payURL, pixQRBase64, pixCopyPaste, rawMetaJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.ExternalID = &externalID
	p.PayURL = payURL
	p.PixQRBase64 = pixQRBase64
	p.PixCopyPaste = pixCopyPaste
	p.RawMetaJSON = rawMetaJSON
	return nil
}

func (r *memPaymentRepo) FinalizePaid(id string, grantDays int, courseID string) (*repository.PaidResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if p.Status == models.PaymentStatusPaid {
		return &repository.PaidResult{UserID: p.UserID, Plan: p.Plan, AlreadyPaid: true}, nil
	}
	if p.Status != models.PaymentStatusPending {
		return nil, errors.New("payment is terminal")
	}

	now := time.Now().UTC()
	p.Status = models.PaymentStatusPaid
	p.PaidAt = &now
	r.grants = append(r.grants, grantRecord{userID: p.UserID, grantDays: grantDays})
	if courseID != "" {
		r.enrollments = append(r.enrollments, courseID)
	}
	return &repository.PaidResult{UserID: p.UserID, Plan: p.Plan}, nil
}

func (r *memPaymentRepo) markTerminal(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if p.Status == models.PaymentStatusPending {
		p.Status = status
	}
	return nil
}

func (r *memPaymentRepo) MarkCancelled(id string) error { return r.markTerminal(id, models.PaymentStatusCancelled) }
func (r *memPaymentRepo) MarkExpired(id string) error   { return r.markTerminal(id, models.PaymentStatusExpired) }

func (r *memPaymentRepo) ListPending(olderThan time.Time, limit int) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if p.Status == models.PaymentStatusPending && p.ExternalID != nil && p.CreatedAt.Before(olderThan) {
			out = append(out, *p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memNotifier struct {
	mu        sync.Mutex
	userMsgs  []string
	operMsgs  []string
	userIDs   []int64
	failUsers bool
}

func (n *memNotifier) NotifyUser(_ context.Context, userID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failUsers {
		return errors.New("send failed")
	}
	n.userIDs = append(n.userIDs, userID)
	n.userMsgs = append(n.userMsgs, text)
	return nil
}

func (n *memNotifier) NotifyOperators(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operMsgs = append(n.operMsgs, text)
	return nil
}

// brokenProvider always fails its gateway calls.
type brokenProvider struct{ name string }

func (p *brokenProvider) Name() string { return p.name }
func (p *brokenProvider) CreateCheckout(context.Context, CreateRequest) (*Checkout, error) {
	return nil, ErrGatewayUnavailable
}
func (p *brokenProvider) FetchStatus(context.Context, string) (Status, string, error) {
	return StatusPending, "", ErrGatewayUnavailable
}

func newTestService(repo *memPaymentRepo, notifier Notifier, providers ...Provider) *Service {
	return NewService(repo, providers, notifier, Config{
		GrantDays:   30,
		CourseID:    "guitar-basics",
		OperatorIDs: map[int64]struct{}{777: {}},
	})
}

func startPending(t *testing.T, svc *Service, userID int64, plan string) *models.Payment {
	t.Helper()
	payment, err := svc.StartCheckout(context.Background(), userID, models.PaymentProviderMock, 2990, "BRL", plan, "Subscription")
	if err != nil {
		t.Fatalf("StartCheckout: %v", err)
	}
	return payment
}

func TestStartCheckoutCreatesLedgerRowFirst(t *testing.T) {
	repo := newMemPaymentRepo()
	svc := newTestService(repo, nil, NewMockProvider())

	payment := startPending(t, svc, 42, "mixed")

	if payment.Status != models.PaymentStatusPending {
		t.Fatalf("status = %q, want pending", payment.Status)
	}
	if payment.ExternalID == nil || *payment.ExternalID == "" {
		t.Fatal("expected an external id after successful checkout")
	}
	if payment.IdempotencyKey != payment.ID {
		t.Fatalf("idempotency key = %q, want the payment id", payment.IdempotencyKey)
	}

	stored, err := repo.GetByID(payment.ID)
	if err != nil {
		t.Fatalf("stored row missing: %v", err)
	}
	if stored.ExternalID == nil || *stored.ExternalID != *payment.ExternalID {
		t.Fatal("external id was not attached to the stored row")
	}
}

func TestStartCheckoutGatewayFailureLeavesPendingRow(t *testing.T) {
	repo := newMemPaymentRepo()
	svc := NewService(repo, []Provider{&brokenProvider{name: "broken"}}, nil, Config{})

	payment, err := svc.StartCheckout(context.Background(), 42, "broken", 2990, "BRL", "mixed", "Subscription")
	if err == nil {
		t.Fatal("expected gateway error")
	}
	if payment == nil {
		t.Fatal("expected the pending row to be returned alongside the error")
	}

	stored, err := repo.GetByID(payment.ID)
	if err != nil {
		t.Fatalf("pending row missing after gateway failure: %v", err)
	}
	if stored.Status != models.PaymentStatusPending || stored.ExternalID != nil {
		t.Fatalf("row = (%q, %v), want pending with no external id", stored.Status, stored.ExternalID)
	}
}

func TestHandleNotificationConfirmsPayment(t *testing.T) {
	repo := newMemPaymentRepo()
	notifier := &memNotifier{}
	mock := NewMockProvider()
	svc := newTestService(repo, notifier, mock)

	payment := startPending(t, svc, 42, "mixed")
	mock.MarkPaid(*payment.ExternalID)

	outcome, err := svc.HandleNotification(context.Background(), models.PaymentProviderMock, *payment.ExternalID)
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if outcome != OutcomePaid {
		t.Fatalf("outcome = %q, want paid", outcome)
	}

	stored, _ := repo.GetByID(payment.ID)
	if stored.Status != models.PaymentStatusPaid || stored.PaidAt == nil {
		t.Fatalf("stored = (%q, %v), want paid with timestamp", stored.Status, stored.PaidAt)
	}
	if len(repo.grants) != 1 || repo.grants[0].userID != 42 || repo.grants[0].grantDays != 30 {
		t.Fatalf("grants = %+v, want one 30-day grant for user 42", repo.grants)
	}
	if len(repo.enrollments) != 1 || repo.enrollments[0] != "guitar-basics" {
		t.Fatalf("enrollments = %v, want guitar-basics", repo.enrollments)
	}
	if len(notifier.userIDs) != 1 || notifier.userIDs[0] != 42 {
		t.Fatalf("user notifications = %v, want exactly one to 42", notifier.userIDs)
	}
	if len(notifier.operMsgs) != 1 {
		t.Fatalf("operator notifications = %d, want 1", len(notifier.operMsgs))
	}
}

func TestHandleNotificationIsIdempotent(t *testing.T) {
	repo := newMemPaymentRepo()
	notifier := &memNotifier{}
	mock := NewMockProvider()
	svc := newTestService(repo, notifier, mock)

	payment := startPending(t, svc, 42, "mixed")
	mock.MarkPaid(*payment.ExternalID)

	for i := 0; i < 3; i++ {
		outcome, err := svc.HandleNotification(context.Background(), models.PaymentProviderMock, *payment.ExternalID)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		want := OutcomePaid
		if i > 0 {
			want = OutcomeAlreadyPaid
		}
		if outcome != want {
			t.Fatalf("round %d outcome = %q, want %q", i, outcome, want)
		}
	}

	if len(repo.grants) != 1 {
		t.Fatalf("grants = %d, want exactly 1 despite repeated notifications", len(repo.grants))
	}
	if len(notifier.userMsgs) != 1 {
		t.Fatalf("user notifications = %d, want exactly 1", len(notifier.userMsgs))
	}
}

func TestHandleNotificationUnknownExternalIDIsIgnored(t *testing.T) {
	repo := newMemPaymentRepo()
	svc := newTestService(repo, nil, NewMockProvider())

	outcome, err := svc.HandleNotification(context.Background(), models.PaymentProviderMock, "mock_someone_elses")
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, want ignored", outcome)
	}
	if len(repo.grants) != 0 {
		t.Fatal("unknown notification must not mutate state")
	}
}

func TestHandleNotificationNeverTrustsTheBody(t *testing.T) {
	// The gateway still reports pending; a webhook claiming payment must not
	// flip the row.
	repo := newMemPaymentRepo()
	mock := NewMockProvider()
	svc := newTestService(repo, nil, mock)

	payment := startPending(t, svc, 42, "mixed")

	outcome, err := svc.HandleNotification(context.Background(), models.PaymentProviderMock, *payment.ExternalID)
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if outcome != OutcomePending {
		t.Fatalf("outcome = %q, want pending", outcome)
	}
	stored, _ := repo.GetByID(payment.ID)
	if stored.Status != models.PaymentStatusPending {
		t.Fatalf("status = %q, want pending", stored.Status)
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	repo := newMemPaymentRepo()
	mock := NewMockProvider()
	svc := newTestService(repo, nil, mock)

	payment := startPending(t, svc, 42, "mixed")
	mock.MarkCancelled(*payment.ExternalID)

	outcome, err := svc.CheckPayment(context.Background(), payment.ID)
	if err != nil || outcome != OutcomeCancelled {
		t.Fatalf("first check = (%q, %v), want cancelled", outcome, err)
	}

	// A later paid report must not resurrect the row.
	mock.MarkPaid(*payment.ExternalID)
	outcome, err = svc.CheckPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if outcome != OutcomeCancelled {
		t.Fatalf("outcome after terminal = %q, want cancelled", outcome)
	}
	stored, _ := repo.GetByID(payment.ID)
	if stored.Status != models.PaymentStatusCancelled {
		t.Fatalf("status = %q, want cancelled", stored.Status)
	}
	if len(repo.grants) != 0 {
		t.Fatal("terminal row must never grant access")
	}
}

func TestLiveOnlyPlanSkipsEnrollment(t *testing.T) {
	repo := newMemPaymentRepo()
	mock := NewMockProvider()
	svc := newTestService(repo, nil, mock)

	payment := startPending(t, svc, 42, "live_only")
	mock.MarkPaid(*payment.ExternalID)

	outcome, err := svc.CheckPayment(context.Background(), payment.ID)
	if err != nil || outcome != OutcomePaid {
		t.Fatalf("check = (%q, %v), want paid", outcome, err)
	}
	if len(repo.grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(repo.grants))
	}
	if len(repo.enrollments) != 0 {
		t.Fatalf("enrollments = %v, want none for live_only", repo.enrollments)
	}
}

func TestManualMarkPaidRequiresOperator(t *testing.T) {
	repo := newMemPaymentRepo()
	svc := newTestService(repo, nil, NewMockProvider())

	payment := startPending(t, svc, 42, "mixed")

	if _, err := svc.ManualMarkPaid(context.Background(), 1234, payment.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-operator err = %v, want ErrUnauthorized", err)
	}
	stored, _ := repo.GetByID(payment.ID)
	if stored.Status != models.PaymentStatusPending {
		t.Fatal("rejected attempt must not mutate the row")
	}

	outcome, err := svc.ManualMarkPaid(context.Background(), 777, payment.ID)
	if err != nil || outcome != OutcomePaid {
		t.Fatalf("operator mark-paid = (%q, %v), want paid", outcome, err)
	}

	outcome, err = svc.ManualMarkPaid(context.Background(), 777, payment.ID)
	if err != nil || outcome != OutcomeAlreadyPaid {
		t.Fatalf("repeat mark-paid = (%q, %v), want already_paid", outcome, err)
	}
	if len(repo.grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(repo.grants))
	}
}

func TestGatewayFailureKeepsPaymentPending(t *testing.T) {
	repo := newMemPaymentRepo()
	mock := NewMockProvider()
	svc := newTestService(repo, nil, mock)

	payment := startPending(t, svc, 42, "mixed")

	// Swap the stored provider to one that fails status pulls.
	repo.mu.Lock()
	repo.payments[payment.ID].Provider = "broken"
	repo.mu.Unlock()
	svc.providers["broken"] = &brokenProvider{name: "broken"}

	outcome, err := svc.CheckPayment(context.Background(), payment.ID)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
	if outcome != OutcomePending {
		t.Fatalf("outcome = %q, want pending on gateway failure", outcome)
	}
	stored, _ := repo.GetByID(payment.ID)
	if stored.Status != models.PaymentStatusPending {
		t.Fatal("gateway failure must never move the row")
	}
}

func TestReconcilePendingIsolatesFailures(t *testing.T) {
	repo := newMemPaymentRepo()
	mock := NewMockProvider()
	svc := newTestService(repo, nil, mock, &brokenProvider{name: "broken"})

	good := startPending(t, svc, 42, "mixed")
	bad, err := svc.StartCheckout(context.Background(), 43, "broken", 2990, "BRL", "mixed", "Subscription")
	if err == nil {
		t.Fatal("expected broken checkout to fail")
	}
	// Give the broken row an external id so the scan picks it up.
	if err := repo.AttachCheckoutDetails(bad.ID, "broken_ext", "", "", "", ""); err != nil {
		t.Fatalf("attach: %v", err)
	}

	mock.MarkPaid(*good.ExternalID)
	backdate(repo, good.ID)
	backdate(repo, bad.ID)

	settled, err := svc.ReconcilePending(context.Background(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	if settled != 1 {
		t.Fatalf("settled = %d, want 1 (the broken entry is skipped, not fatal)", settled)
	}
	stored, _ := repo.GetByID(good.ID)
	if stored.Status != models.PaymentStatusPaid {
		t.Fatalf("good payment = %q, want paid", stored.Status)
	}
}

func TestNotificationFailureDoesNotUnwindPayment(t *testing.T) {
	repo := newMemPaymentRepo()
	notifier := &memNotifier{failUsers: true}
	mock := NewMockProvider()
	svc := newTestService(repo, notifier, mock)

	payment := startPending(t, svc, 42, "mixed")
	mock.MarkPaid(*payment.ExternalID)

	outcome, err := svc.CheckPayment(context.Background(), payment.ID)
	if err != nil || outcome != OutcomePaid {
		t.Fatalf("check = (%q, %v), want paid despite notifier failure", outcome, err)
	}
	stored, _ := repo.GetByID(payment.ID)
	if stored.Status != models.PaymentStatusPaid {
		t.Fatal("ledger state must survive notification failures")
	}
}

func TestUnknownProviderName(t *testing.T) {
	svc := newTestService(newMemPaymentRepo(), nil, NewMockProvider())
	if _, err := svc.StartCheckout(context.Background(), 42, "nope", 2990, "BRL", "mixed", ""); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func backdate(repo *memPaymentRepo, id string) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if p, ok := repo.payments[id]; ok {
		p.CreatedAt = time.Now().UTC().Add(-time.Hour)
	}
}
