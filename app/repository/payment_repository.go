package repository

import (
	"errors"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create inserts a new ledger row. Rows start in pending and are never
// deleted afterwards.
func (r *paymentRepository) Create(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

func (r *paymentRepository) GetByID(id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) FindByExternalID(provider, externalID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("provider = ? AND external_id = ?", provider, externalID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// AttachCheckoutDetails stores the gateway correlation data returned by a
// successful checkout creation.
func (r *paymentRepository) AttachCheckoutDetails(id string, externalID, payURL, pixQRBase64, pixCopyPaste, rawMetaJSON string) error {
	updates := map[string]interface{}{
		"external_id":    externalID,
		"pay_url":        payURL,
		"pix_qr_base64":  pixQRBase64,
		"pix_copy_paste": pixCopyPaste,
		"raw_meta_json":  rawMetaJSON,
	}
	return r.db.Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

// FinalizePaid applies the terminal success step atomically: ledger row to
// paid, subscription upserted for grantDays from now (flat re-assignment,
// remaining time never stacks), enrollment seeded at lesson 1 due
// immediately. Calling it on an already paid row is a no-op that still
// succeeds.
func (r *paymentRepository) FinalizePaid(id string, grantDays int, courseID string) (*PaidResult, error) {
	var result PaidResult

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&payment).Error; err != nil {
			return err
		}

		result.UserID = payment.UserID
		result.Plan = payment.Plan

		if payment.Status == models.PaymentStatusPaid {
			result.AlreadyPaid = true
			return nil
		}
		if payment.Status != models.PaymentStatusPending {
			return errors.New("payment is in terminal state " + payment.Status)
		}

		now := time.Now().UTC()
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"status":  models.PaymentStatusPaid,
				"paid_at": &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to a concurrent reconciliation attempt.
			result.AlreadyPaid = true
			return nil
		}

		var expiresAt *time.Time
		if grantDays > 0 {
			t := now.Add(time.Duration(grantDays) * 24 * time.Hour)
			expiresAt = &t
		}
		sub := &models.Subscription{
			UserID:    payment.UserID,
			Status:    models.SubscriptionStatusActive,
			ExpiresAt: expiresAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"expires_at",
				"updated_at",
			}),
		}).Create(sub).Error; err != nil {
			return err
		}

		if courseID == "" {
			return nil
		}
		enrollment := &models.Enrollment{
			UserID:          payment.UserID,
			CourseID:        courseID,
			NextLessonIndex: 1,
			NextDueAt:       now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).Create(enrollment).Error
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkCancelled transitions pending -> cancelled. Terminal rows are left
// untouched.
func (r *paymentRepository) MarkCancelled(id string) error {
	return r.markTerminal(id, models.PaymentStatusCancelled)
}

// MarkExpired transitions pending -> expired (administrative path).
func (r *paymentRepository) MarkExpired(id string) error {
	return r.markTerminal(id, models.PaymentStatusExpired)
}

func (r *paymentRepository) markTerminal(id, status string) error {
	return r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Update("status", status).Error
}

// ListPending returns pending payments created before olderThan, oldest
// first, for the periodic status pull.
func (r *paymentRepository) ListPending(olderThan time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.
		Where("status = ? AND external_id IS NOT NULL AND created_at < ?", models.PaymentStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
