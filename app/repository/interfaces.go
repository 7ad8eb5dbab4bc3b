package repository

import (
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"gorm.io/gorm"
)

// PaidResult reports the outcome of finalizing a paid payment. AlreadyPaid
// means the row was in the paid state before the call; the operation is a
// no-op then and must still count as success.
type PaidResult struct {
	UserID      int64
	Plan        string
	AlreadyPaid bool
}

// PaymentRepository defines the interface for payment ledger operations.
// Status transitions are conditional updates guarded on the current status,
// so concurrent reconciliation attempts converge without in-process locks.
type PaymentRepository interface {
	Create(payment *models.Payment) error
	GetByID(id string) (*models.Payment, error)
	FindByExternalID(provider, externalID string) (*models.Payment, error)
	AttachCheckoutDetails(id string, externalID, payURL, pixQRBase64, pixCopyPaste, rawMetaJSON string) error
	// FinalizePaid runs the terminal success step in one transaction:
	// mark the row paid, upsert the subscription for grantDays from now,
	// and seed the course enrollment. Idempotent on already-paid rows.
	FinalizePaid(id string, grantDays int, courseID string) (*PaidResult, error)
	MarkCancelled(id string) error
	MarkExpired(id string) error
	ListPending(olderThan time.Time, limit int) ([]models.Payment, error)
}

// SubscriptionRepository defines the interface for entitlement rows.
type SubscriptionRepository interface {
	Upsert(sub *models.Subscription) error
	GetByUserID(userID int64) (*models.Subscription, error)
	ListActive(limit int) ([]models.Subscription, error)
}

// CourseRepository defines the interface for the lesson catalog.
type CourseRepository interface {
	UpsertCourse(course *models.Course) error
	GetCourse(id string) (*models.Course, error)
	UpsertLesson(lesson *models.Lesson) error
	GetLesson(courseID string, lessonIndex int) (*models.Lesson, error)
}

// EnrollmentRepository defines the interface for the lesson drip cursor.
type EnrollmentRepository interface {
	Ensure(userID int64, courseID string, firstDueAt time.Time) (*models.Enrollment, error)
	ListDue(now time.Time, limit int) ([]models.Enrollment, error)
	// Advance moves the cursor after a send or a skip. NextDueAt never
	// moves backwards.
	Advance(userID int64, courseID string, nextLessonIndex int, nextDueAt time.Time, sentAt *time.Time) error
}

// LiveSessionRepository defines the interface for scheduled live sessions
// and their reminder flags.
type LiveSessionRepository interface {
	Add(session *models.LiveSession) error
	// ListDueReminders returns sessions starting within the lead-time window
	// whose reminder of the given kind has not fired yet, oldest first.
	ListDueReminders(kind string, now time.Time, limit int) ([]models.LiveSession, error)
	MarkReminded(sessionID uint, kind string) error
}

// WebhookEventRepository stores inbound gateway notifications for
// idempotent processing.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories bundles all repository instances.
type Repositories struct {
	Payment      PaymentRepository
	Subscription SubscriptionRepository
	Course       CourseRepository
	Enrollment   EnrollmentRepository
	LiveSession  LiveSessionRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Payment:      NewPaymentRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Course:       NewCourseRepository(db),
		Enrollment:   NewEnrollmentRepository(db),
		LiveSession:  NewLiveSessionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
