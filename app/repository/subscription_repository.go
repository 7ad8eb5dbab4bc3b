package repository

import (
	"github.com/courseclub/CourseClub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Upsert writes the subscription row, last write wins.
func (r *subscriptionRepository) Upsert(sub *models.Subscription) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"expires_at",
			"updated_at",
		}),
	}).Create(sub).Error
}

func (r *subscriptionRepository) GetByUserID(userID int64) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListActive(limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ?", models.SubscriptionStatusActive).
		Order("updated_at DESC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}
