package entitlements

import (
	"errors"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"gorm.io/gorm"
)

// Plan tags sold through checkout.
const (
	PlanLiveOnly = "live_only"
	PlanMixed    = "mixed"
)

// Access check reasons.
const (
	ReasonActive         = "active"
	ReasonExpired        = "expired"
	ReasonRevoked        = "revoked"
	ReasonNoSubscription = "no_subscription"
)

// Service manages subscriber access windows.
type Service struct {
	repo repository.SubscriptionRepository
}

// NewService creates an entitlement service from an injected repository.
func NewService(repo repository.SubscriptionRepository) *Service {
	return &Service{repo: repo}
}

// Grant activates access for the user. days == 0 means unbounded. A
// re-grant re-assigns the expiry flat from now; remaining unexpired time is
// intentionally not added on top.
func (s *Service) Grant(userID int64, days int) error {
	var expiresAt *time.Time
	if days > 0 {
		t := time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour)
		expiresAt = &t
	}
	return s.repo.Upsert(&models.Subscription{
		UserID:    userID,
		Status:    models.SubscriptionStatusActive,
		ExpiresAt: expiresAt,
	})
}

// Revoke disables access for the user.
func (s *Service) Revoke(userID int64) error {
	return s.repo.Upsert(&models.Subscription{
		UserID: userID,
		Status: models.SubscriptionStatusRevoked,
	})
}

// Check reports whether the user currently has access, with the expiry (if
// any) and a reason useful for status rendering.
func (s *Service) Check(userID int64) (bool, *time.Time, string, error) {
	sub, err := s.repo.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, ReasonNoSubscription, nil
		}
		return false, nil, "", err
	}

	if sub.Status != models.SubscriptionStatusActive {
		return false, sub.ExpiresAt, ReasonRevoked, nil
	}
	if sub.ExpiresAt != nil && !sub.ExpiresAt.After(time.Now().UTC()) {
		return false, sub.ExpiresAt, ReasonExpired, nil
	}
	return true, sub.ExpiresAt, ReasonActive, nil
}

// ListActive returns up to limit active subscriptions, most recently
// updated first.
func (s *Service) ListActive(limit int) ([]models.Subscription, error) {
	return s.repo.ListActive(limit)
}
